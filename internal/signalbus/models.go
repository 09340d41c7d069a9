package signalbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the control message kind carried by a Signal.
type Type string

const (
	TypeCallInvite    Type = "CALL_INVITE"
	TypeCallCancelled Type = "CALL_CANCELLED"
	TypeCallRejected  Type = "CALL_REJECTED"
	TypeCallEnded     Type = "CALL_ENDED"
	TypeVerifyRequest Type = "VERIFY_REQUEST"
	TypeVerifyStep    Type = "VERIFY_STEP"
	TypeVerifyResult  Type = "VERIFY_RESULT"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCallInvite, TypeCallCancelled, TypeCallRejected, TypeCallEnded,
		TypeVerifyRequest, TypeVerifyStep, TypeVerifyResult:
		return true
	default:
		return false
	}
}

// Terminal reports whether the signal ends a call attempt.
func (t Type) Terminal() bool {
	return t == TypeCallCancelled || t == TypeCallRejected || t == TypeCallEnded
}

// Signal is a single TTL-bounded control message between two identities.
//
// Invariants:
// - A signal is returned by Drain at most once.
// - Signals older than the bus TTL are never returned.
// - Within one (from, to) channel signals are ordered by CreatedAt ascending.
type Signal struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// MediaKind is the kind of media negotiated for a call.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == MediaAudio || k == MediaVideo }

type InvitePayload struct {
	PeerID    string    `json:"peerId"`
	MediaKind MediaKind `json:"mediaKind"`
}

type VerifyRequestPayload struct {
	AuditID string `json:"auditId"`
}

type VerifyStepPayload struct {
	AuditID string `json:"auditId,omitempty"`
	Step    string `json:"step"`
}

type VerifyResultPayload struct {
	AuditID string `json:"auditId,omitempty"`
	Status  string `json:"status"`
}

// Decode unmarshals the payload into dst.
func (s Signal) Decode(dst any) error {
	if len(s.Payload) == 0 {
		return fmt.Errorf("signalbus: %s has no payload", s.Type)
	}
	if err := json.Unmarshal(s.Payload, dst); err != nil {
		return fmt.Errorf("signalbus: decode %s: %w", s.Type, err)
	}
	return nil
}

// Invite decodes an invite payload. The legacy "type" key is accepted for the
// media kind when "mediaKind" is absent.
func (s Signal) Invite() (InvitePayload, error) {
	var raw struct {
		InvitePayload
		LegacyKind MediaKind `json:"type"`
	}
	if err := s.Decode(&raw); err != nil {
		return InvitePayload{}, err
	}
	p := raw.InvitePayload
	if p.MediaKind == "" {
		p.MediaKind = raw.LegacyKind
	}
	if p.PeerID == "" || !p.MediaKind.Valid() {
		return InvitePayload{}, fmt.Errorf("%w: invite needs peerId and mediaKind", ErrInvalidArgument)
	}
	return p, nil
}

// EncodePayload marshals v into a payload. A nil v yields an empty payload.
func EncodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("signalbus: encode payload: %w", err)
		}
		return b, nil
	}
}
