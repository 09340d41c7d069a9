package call

import (
	"context"
	"time"

	"support-calls/internal/media"
	"support-calls/internal/peer"
)

// session is the per-participant call state. Only the run loop touches it.
type session struct {
	state          State
	direction      Direction
	remote         string
	remoteEndpoint string
	kind           media.Kind
	accepted       bool

	local        *media.Stream
	remoteStream *media.Stream
	link         peer.Session
	connect      connectState

	// invite is the invite that moved us to incoming.
	invite *pendingInvite
	// pending is a low-level call from the remote waiting for Accept.
	pending *peer.Incoming

	audit auditState
}

type pendingInvite struct {
	peerID string
	kind   media.Kind
	via    string
	at     time.Time
}

// connectState tracks the Answer or Call in flight. id is zero when none is.
type connectState struct {
	id     uint64
	cancel context.CancelFunc
}

type auditState struct {
	id     string
	status AuditStatus
	step   Step
	cancel context.CancelFunc
}

func idleSession() session { return session{state: StateIdle} }

func (s session) snapshot() Snapshot {
	state := s.state
	if state == "" {
		state = StateIdle
	}
	return Snapshot{
		State:          state,
		Direction:      s.direction,
		Remote:         s.remote,
		RemoteEndpoint: s.remoteEndpoint,
		MediaKind:      s.kind,
		Accepted:       s.accepted,
		HasLocal:       s.local != nil,
		HasRemote:      s.remoteStream != nil,
		Audit:          AuditSnapshot{ID: s.audit.id, Status: s.audit.status, Step: s.audit.step},
	}
}

// earlyCall is a low-level call that arrived before its invite.
type earlyCall struct {
	in *peer.Incoming
	at time.Time
}

const earlyCallTTL = 30 * time.Second

// release returns the session to idle. It stops local tracks, drops the
// remote stream, closes the low-level call and abandons any pending connect
// or audit. Calling
// it on an idle session is a no-op.
func (a *Agent) release() {
	s := a.s
	if s.audit.cancel != nil {
		s.audit.cancel()
	}
	if s.connect.cancel != nil {
		s.connect.cancel()
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			a.log.Debug("closing peer session", "err", err)
		}
	}
	s.local.Stop()
	s.remoteStream.Stop()
	a.s = idleSession()
}

func (a *Agent) pruneEarly() {
	now := a.cfg.Clock()
	for id, e := range a.early {
		if now.Sub(e.at) > earlyCallTTL {
			delete(a.early, id)
		}
	}
}
