package call

import (
	"context"
	"fmt"
	"strings"
	"time"

	"support-calls/internal/auth"
	"support-calls/internal/calllog"
	"support-calls/internal/chatlog"
	"support-calls/internal/media"
	"support-calls/internal/peer"
	"support-calls/internal/signalbus"

	"github.com/google/uuid"
)

// connectTimeout bounds one off-loop Answer or Call.
const connectTimeout = 30 * time.Second

func (a *Agent) dispatch(ev event) {
	switch e := ev.(type) {
	case signalEvent:
		for i, sig := range e.sigs {
			if voided(e.sigs, i) {
				a.log.Debug("invite cancelled in the same batch", "from", sig.From)
				continue
			}
			a.onSignal(sig)
		}
	case legacyEvent:
		a.onLegacy(e.from, e.obs)
	case commandEvent:
		err := e.run(e.ctx)
		// Callers read Snapshot right after the reply.
		a.publish()
		e.reply <- err
	case incomingEvent:
		a.onIncoming(e.in)
	case linkEvent:
		a.onLink(e.link, e.ev)
	case connectEvent:
		a.onConnect(e)
	case auditStepEvent:
		a.onAuditStep(e)
	case auditDoneEvent:
		a.onAuditDone(e)
	default:
		a.log.Error("unhandled call event", "type", fmt.Sprintf("%T", ev))
	}
}

// voided reports whether sigs[i] is an invite its sender already cancelled
// later in the same batch. Such a call never rings.
func voided(sigs []signalbus.Signal, i int) bool {
	if sigs[i].Type != signalbus.TypeCallInvite {
		return false
	}
	for _, later := range sigs[i+1:] {
		if later.From == sigs[i].From && later.Type == signalbus.TypeCallCancelled {
			return true
		}
	}
	return false
}

func (a *Agent) send(to string, typ signalbus.Type, payload any) {
	a.outbox.enqueue(outbound{to: to, typ: typ, payload: payload})
}

// routeAllowed reports whether remote is a valid counterpart: customers talk
// to support, support talks to customers.
func (a *Agent) routeAllowed(remote string) bool {
	if remote == "" {
		return false
	}
	if a.cfg.Principal.IsSupport() {
		return remote != auth.SupportIdentity
	}
	return remote == auth.SupportIdentity
}

func normalizeRemote(remote string) string {
	remote = strings.TrimSpace(remote)
	if remote == auth.SupportIdentity {
		return remote
	}
	return auth.NormalizeEmail(remote)
}

func (a *Agent) onSignal(sig signalbus.Signal) {
	from := normalizeRemote(sig.From)
	switch sig.Type {
	case signalbus.TypeCallInvite:
		inv, err := sig.Invite()
		if err != nil {
			a.log.Debug("malformed invite ignored", "from", from, "err", err)
			return
		}
		a.onInvite(from, inv.PeerID, media.Kind(inv.MediaKind), "signal")
	case signalbus.TypeCallCancelled, signalbus.TypeCallRejected, signalbus.TypeCallEnded:
		a.onRemoteEnd(from, sig.Type)
	case signalbus.TypeVerifyRequest:
		var p signalbus.VerifyRequestPayload
		if len(sig.Payload) > 0 {
			if err := sig.Decode(&p); err != nil {
				a.log.Debug("malformed verify request ignored", "err", err)
				return
			}
		}
		a.onVerifyRequest(from, p.AuditID)
	case signalbus.TypeVerifyStep:
		var p signalbus.VerifyStepPayload
		if err := sig.Decode(&p); err != nil {
			a.log.Debug("malformed verify step ignored", "err", err)
			return
		}
		a.onVerifyStep(from, p)
	case signalbus.TypeVerifyResult:
		var p signalbus.VerifyResultPayload
		if err := sig.Decode(&p); err != nil {
			a.log.Debug("malformed verify result ignored", "err", err)
			return
		}
		a.onVerifyResult(from, p)
	default:
		a.log.Debug("unknown signal ignored", "type", sig.Type)
	}
}

// onLegacy honors a chat-embedded token only inside the freshness window.
func (a *Agent) onLegacy(from string, obs chatlog.Observation) {
	from = normalizeRemote(from)
	if age := a.cfg.Clock().Sub(obs.At); age > a.cfg.FreshnessWindow {
		a.log.Debug("stale chat token ignored", "from", from, "age", age)
		return
	}
	switch tok := obs.Token.(type) {
	case chatlog.InviteToken:
		a.onInvite(from, tok.PeerID, media.Kind(tok.MediaKind), "chat")
	case chatlog.CancelledToken:
		a.onRemoteEnd(from, signalbus.TypeCallCancelled)
	case chatlog.RejectedToken:
		a.onRemoteEnd(from, signalbus.TypeCallRejected)
	case chatlog.EndedToken:
		a.onRemoteEnd(from, signalbus.TypeCallEnded)
	}
}

func (a *Agent) onInvite(from, peerID string, kind media.Kind, via string) {
	if a.s.state != StateIdle {
		a.log.Debug("invite dropped, busy", "from", from, "state", a.s.state, "via", via)
		return
	}
	if !a.routeAllowed(from) || peerID == "" || !kind.Valid() {
		a.log.Debug("invite ignored", "from", from, "via", via)
		return
	}

	a.s = session{
		state:          StateIncoming,
		direction:      DirectionInbound,
		remote:         from,
		remoteEndpoint: peerID,
		kind:           kind,
		invite:         &pendingInvite{peerID: peerID, kind: kind, via: via, at: a.cfg.Clock()},
	}
	a.pruneEarly()
	if e, ok := a.early[peerID]; ok {
		a.s.pending = e.in
		delete(a.early, peerID)
	}
	a.log.Info("incoming call", "from", from, "media", kind, "via", via)
	a.notify(NoticeIncoming, from, fmt.Sprintf("Incoming %s call", kind), nil)
}

// onRemoteEnd handles termination signalled by the remote. Nothing is sent back.
func (a *Agent) onRemoteEnd(from string, typ signalbus.Type) {
	if a.s.state == StateIdle || from != a.s.remote {
		return
	}
	switch {
	case a.s.state == StateActive:
		a.record(calllog.KindEnded)
		a.notify(NoticeEnded, from, "Call ended", nil)
	case a.s.state == StateIncoming:
		a.record(calllog.KindMissed)
		a.notify(NoticeCancelled, from, "Caller cancelled the call", nil)
	case typ == signalbus.TypeCallRejected:
		a.record(calllog.KindRejected)
		a.notify(NoticeRejected, from, "Call declined", nil)
	default:
		a.record(calllog.KindCancelled)
		a.notify(NoticeEnded, from, "Call ended", nil)
	}
	a.log.Info("call ended by remote", "remote", from, "signal", typ)
	a.release()
}

func (a *Agent) onIncoming(in *peer.Incoming) {
	a.pruneEarly()
	switch {
	case a.s.state == StateCalling && a.s.link == nil && a.s.connect.id == 0 && normalizeRemote(in.Meta.From) == a.s.remote:
		// The callee places the low-level call back to our invite endpoint.
		a.s.remoteEndpoint = in.From
		local := a.s.local
		a.startConnect(func(ctx context.Context) (peer.Session, error) {
			return a.cfg.Transport.Answer(ctx, in, local)
		})
	case a.s.state == StateIncoming && !a.s.accepted && a.s.pending == nil && in.From == a.s.remoteEndpoint:
		a.s.pending = in
	case a.s.state == StateIdle:
		a.early[in.From] = earlyCall{in: in, at: a.cfg.Clock()}
	default:
		a.log.Debug("low-level call ignored", "from", in.From, "state", a.s.state)
	}
}

func (a *Agent) onLink(link peer.Session, ev peer.Event) {
	if a.s.link == nil || link != a.s.link {
		return
	}
	switch ev.Kind {
	case peer.EventStream:
		if a.s.state == StateActive || ev.Stream == nil {
			return
		}
		a.s.remoteStream = ev.Stream
		a.s.state = StateActive
		a.s.pending = nil
		a.record(calllog.KindStarted)
		a.log.Info("call active", "remote", a.s.remote, "media", a.s.kind)
		a.notify(NoticeConnected, a.s.remote, "Call connected", nil)
	case peer.EventClose:
		if a.s.state == StateActive {
			a.record(calllog.KindEnded)
		}
		a.notify(NoticeEnded, a.s.remote, "Call ended", nil)
		a.release()
	case peer.EventError:
		a.transportFailed(ev.Err)
	}
}

// transportFailed ends the call after a transport error and tells the remote.
func (a *Agent) transportFailed(err error) {
	a.log.Warn("call transport error", "remote", a.s.remote, "err", err)
	a.notify(NoticeTransportError, a.s.remote, "Call failed", err)
	if a.s.state != StateIdle {
		a.send(a.s.remote, signalbus.TypeCallEnded, nil)
		if a.s.state == StateActive {
			a.record(calllog.KindEnded)
		}
	}
	a.release()
}

func (a *Agent) placeCall(ctx context.Context, remote string, kind media.Kind) error {
	if a.s.state != StateIdle {
		return ErrBusy
	}
	remote = normalizeRemote(remote)
	if !kind.Valid() || !a.routeAllowed(remote) {
		return fmt.Errorf("%w: cannot call %q with %q", ErrInvalidArgument, remote, kind)
	}

	local, err := a.cfg.Devices.Acquire(ctx, kind)
	if err != nil {
		a.notify(NoticeMediaError, remote, "Camera or microphone unavailable", err)
		return fmt.Errorf("acquire media: %w", err)
	}

	a.s = session{
		state:     StateCalling,
		direction: DirectionOutbound,
		remote:    remote,
		kind:      kind,
		local:     local,
	}
	a.send(remote, signalbus.TypeCallInvite, signalbus.InvitePayload{PeerID: a.endpoint, MediaKind: signalbus.MediaKind(kind)})
	a.log.Info("call placed", "remote", remote, "media", kind)
	return nil
}

func (a *Agent) accept(ctx context.Context) error {
	if a.s.state != StateIncoming || a.s.accepted {
		return ErrInvalidState
	}

	local, err := a.cfg.Devices.Acquire(ctx, a.s.kind)
	if err != nil {
		a.notify(NoticeMediaError, a.s.remote, "Camera or microphone unavailable", err)
		a.send(a.s.remote, signalbus.TypeCallRejected, nil)
		a.record(calllog.KindRejected)
		a.release()
		return fmt.Errorf("acquire media: %w", err)
	}
	a.s.local = local
	a.s.accepted = true

	if in := a.s.pending; in != nil {
		a.startConnect(func(ctx context.Context) (peer.Session, error) {
			return a.cfg.Transport.Answer(ctx, in, local)
		})
		return nil
	}
	endpoint := a.s.remoteEndpoint
	meta := peer.Meta{From: a.identity, MediaKind: a.s.kind}
	a.startConnect(func(ctx context.Context) (peer.Session, error) {
		return a.cfg.Transport.Call(ctx, endpoint, local, meta)
	})
	return nil
}

// startConnect runs dial off the loop so signals and commands keep flowing
// while ICE completes. The result comes back as a connectEvent; release
// cancels it.
func (a *Agent) startConnect(dial func(context.Context) (peer.Session, error)) {
	a.connects++
	id := a.connects
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	a.s.connect = connectState{id: id, cancel: cancel}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		link, err := dial(ctx)
		if a.post(context.Background(), connectEvent{id: id, link: link, err: err}) != nil && link != nil {
			_ = link.Close()
		}
	}()
}

func (a *Agent) onConnect(e connectEvent) {
	if e.id == 0 || e.id != a.s.connect.id {
		// The attempt was abandoned when the session was released.
		if e.link != nil {
			_ = e.link.Close()
		}
		return
	}
	a.s.connect = connectState{}
	if e.err != nil {
		a.transportFailed(fmt.Errorf("connect: %w", e.err))
		return
	}
	a.s.link = e.link
	a.s.pending = nil
	a.watch(e.link)
}

func (a *Agent) cancelOrReject(ctx context.Context) error {
	switch a.s.state {
	case StateCalling:
		a.send(a.s.remote, signalbus.TypeCallCancelled, nil)
		a.record(calllog.KindCancelled)
	case StateIncoming:
		a.send(a.s.remote, signalbus.TypeCallRejected, nil)
		a.record(calllog.KindRejected)
	default:
		return ErrInvalidState
	}
	a.release()
	return nil
}

func (a *Agent) hangup(ctx context.Context) error {
	if a.s.state != StateActive {
		return ErrInvalidState
	}
	a.send(a.s.remote, signalbus.TypeCallEnded, nil)
	a.record(calllog.KindEnded)
	a.release()
	return nil
}

func (a *Agent) end(ctx context.Context) error {
	switch a.s.state {
	case StateCalling, StateIncoming:
		return a.cancelOrReject(ctx)
	case StateActive:
		return a.hangup(ctx)
	}
	return nil
}

func (a *Agent) requestVerification(ctx context.Context) error {
	if !a.cfg.Principal.IsSupport() || a.s.state != StateActive {
		return ErrInvalidState
	}
	id := uuid.NewString()
	a.s.audit = auditState{id: id, status: AuditChecking, step: StepInitializing}
	a.send(a.s.remote, signalbus.TypeVerifyRequest, signalbus.VerifyRequestPayload{AuditID: id})
	return nil
}
