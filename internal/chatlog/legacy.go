package chatlog

import (
	"strconv"
	"strings"
	"time"

	"support-calls/internal/auth"
)

// Legacy transcripts carry call control as text prefixes inside message bodies
// and reply turns. This file only reads them; nothing writes them anymore.

const (
	prefixInvite    = "[CALL_INVITE]"
	prefixCancelled = "[CALL_CANCELLED]"
	prefixRejected  = "[CALL_REJECTED]"
	prefixEnded     = "[CALL_ENDED]"
	prefixCallLog   = "[CALL_LOG]:"
)

// DefaultFreshness is how old an embedded control token may be and still count.
const DefaultFreshness = 15 * time.Second

// Token is a parsed embedded token. The concrete types are InviteToken,
// CancelledToken, RejectedToken, EndedToken and CallLogToken.
type Token interface {
	legacyToken()
}

type InviteToken struct {
	PeerID    string
	MediaKind string
}

type CancelledToken struct{}
type RejectedToken struct{}
type EndedToken struct{}

// CallLogToken is a human-readable history line; it never drives a call.
type CallLogToken struct {
	Text string
}

func (InviteToken) legacyToken()    {}
func (CancelledToken) legacyToken() {}
func (RejectedToken) legacyToken()  {}
func (EndedToken) legacyToken()     {}
func (CallLogToken) legacyToken()   {}

// ParseToken recognizes a single embedded token at the start of text.
func ParseToken(text string) (Token, bool) {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, prefixCallLog):
		return CallLogToken{Text: strings.TrimSpace(strings.TrimPrefix(text, prefixCallLog))}, true
	case strings.HasPrefix(text, prefixInvite):
		rest := strings.TrimPrefix(strings.TrimPrefix(text, prefixInvite), ":")
		peerID, kind, ok := strings.Cut(rest, ":")
		if !ok || peerID == "" {
			return nil, false
		}
		kind = strings.TrimSpace(kind)
		if kind != "audio" && kind != "video" {
			return nil, false
		}
		return InviteToken{PeerID: peerID, MediaKind: kind}, true
	case strings.HasPrefix(text, prefixCancelled):
		return CancelledToken{}, true
	case strings.HasPrefix(text, prefixRejected):
		return RejectedToken{}, true
	case strings.HasPrefix(text, prefixEnded):
		return EndedToken{}, true
	}
	return nil, false
}

// Observation is a control token seen in a thread.
type Observation struct {
	MessageID string
	Turn      int
	Token     Token
	At        time.Time
}

// Key identifies the observation across repeated reads of the same thread.
func (o Observation) Key() string {
	if o.Turn < 0 {
		return o.MessageID + "#body"
	}
	return o.MessageID + "#" + strconv.Itoa(o.Turn)
}

// FreshTokens extracts the control tokens written by the other party that are
// no older than window at now. A customer viewer reads support's reply turns;
// a support viewer reads customer bodies. Call log lines are skipped.
//
// A body is aged from CreatedAt and a reply turn from RepliedAt, so marking a
// message read never makes an old token look new. Replies without RepliedAt
// have no known age and are skipped.
func FreshTokens(thread []Message, viewer auth.Role, now time.Time, window time.Duration) []Observation {
	if window <= 0 {
		window = DefaultFreshness
	}
	out := make([]Observation, 0)
	for _, m := range thread {
		if viewer == auth.RoleSupport {
			if !within(m.CreatedAt, now, window) {
				continue
			}
			if tok, ok := controlToken(m.Body); ok {
				out = append(out, Observation{MessageID: m.ID, Turn: -1, Token: tok, At: m.CreatedAt})
			}
			continue
		}
		at := m.RepliedAt
		if at.IsZero() || !within(at, now, window) {
			continue
		}
		// Only the newest turn was written at RepliedAt.
		turns := SplitReply(m.Reply)
		if len(turns) == 0 {
			continue
		}
		last := len(turns) - 1
		if tok, ok := controlToken(turns[last]); ok {
			out = append(out, Observation{MessageID: m.ID, Turn: last, Token: tok, At: at})
		}
	}
	return out
}

func within(at, now time.Time, window time.Duration) bool {
	return now.Sub(at) <= window && !at.After(now.Add(window))
}

func controlToken(text string) (Token, bool) {
	tok, ok := ParseToken(text)
	if !ok {
		return nil, false
	}
	if _, isLog := tok.(CallLogToken); isLog {
		return nil, false
	}
	return tok, true
}
