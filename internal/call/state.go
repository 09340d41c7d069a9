package call

import (
	"time"

	"support-calls/internal/media"
)

type State string

const (
	StateIdle     State = "idle"
	StateCalling  State = "calling"
	StateIncoming State = "incoming"
	StateActive   State = "active"
)

type Direction string

const (
	DirectionNone     Direction = ""
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type AuditStatus string

const (
	AuditNone     AuditStatus = ""
	AuditChecking AuditStatus = "checking"
	AuditVerified AuditStatus = "verified"
	AuditFailed   AuditStatus = "failed"
)

type Step string

const (
	StepNone         Step = ""
	StepInitializing Step = "initializing"
	StepBlink        Step = "blink"
	StepTurn         Step = "turn"
	StepSmile        Step = "smile"
)

// DefaultScript is the ordered liveness challenge a customer runs.
var DefaultScript = []Step{StepBlink, StepTurn, StepSmile}

// DefaultDwell is the pause after each challenge step.
const DefaultDwell = 3 * time.Second

type AuditSnapshot struct {
	ID     string      `json:"id,omitempty"`
	Status AuditStatus `json:"status,omitempty"`
	Step   Step        `json:"step,omitempty"`
}

// Snapshot is a read-only copy of the session, published after every event.
type Snapshot struct {
	State          State         `json:"state"`
	Direction      Direction     `json:"direction,omitempty"`
	Remote         string        `json:"remote,omitempty"`
	RemoteEndpoint string        `json:"remoteEndpoint,omitempty"`
	MediaKind      media.Kind    `json:"mediaKind,omitempty"`
	Accepted       bool          `json:"accepted,omitempty"`
	HasLocal       bool          `json:"hasLocal"`
	HasRemote      bool          `json:"hasRemote"`
	Audit          AuditSnapshot `json:"audit"`
}

type NoticeKind string

const (
	NoticeIncoming       NoticeKind = "incoming"
	NoticeConnected      NoticeKind = "connected"
	NoticeMediaError     NoticeKind = "media_error"
	NoticeTransportError NoticeKind = "transport_error"
	NoticeRejected       NoticeKind = "rejected"
	NoticeCancelled      NoticeKind = "cancelled"
	NoticeEnded          NoticeKind = "ended"
	NoticeVerification   NoticeKind = "verification"
)

// Notice is something the participant should see.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Remote  string     `json:"remote,omitempty"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
	At      time.Time  `json:"at"`
}
