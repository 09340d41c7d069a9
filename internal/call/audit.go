package call

import (
	"context"
	"time"

	"support-calls/internal/calllog"
	"support-calls/internal/media"
	"support-calls/internal/signalbus"

	"github.com/google/uuid"
)

// Challenger runs one liveness challenge step against the local stream.
type Challenger interface {
	Challenge(ctx context.Context, step Step, local *media.Stream) bool
}

type ChallengerFunc func(ctx context.Context, step Step, local *media.Stream) bool

func (f ChallengerFunc) Challenge(ctx context.Context, step Step, local *media.Stream) bool {
	return f(ctx, step, local)
}

// LiveVideoChallenger passes a step while the local stream has a live video track.
type LiveVideoChallenger struct{}

func (LiveVideoChallenger) Challenge(_ context.Context, _ Step, local *media.Stream) bool {
	return local.HasLive(media.TrackVideo)
}

// onVerifyRequest starts the customer's scripted audit.
func (a *Agent) onVerifyRequest(from, id string) {
	if a.cfg.Principal.IsSupport() || a.s.state != StateActive || from != a.s.remote {
		return
	}
	if id != "" && id == a.s.audit.id {
		return
	}
	if a.s.audit.cancel != nil {
		a.s.audit.cancel()
	}
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.s.audit = auditState{id: id, status: AuditChecking, step: StepInitializing, cancel: cancel}
	local := a.s.local
	a.log.Info("verification started", "audit", id)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runAudit(ctx, id, local)
	}()
}

// runAudit walks the script off the loop. Each step is announced through the
// loop before its challenge runs and is followed by the dwell pause.
func (a *Agent) runAudit(ctx context.Context, id string, local *media.Stream) {
	passed := true
	for _, step := range a.cfg.Script {
		if a.post(ctx, auditStepEvent{id: id, step: step}) != nil {
			return
		}
		if !a.cfg.Challenger.Challenge(ctx, step, local) {
			passed = false
		}
		t := time.NewTimer(a.cfg.Dwell)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	status := AuditVerified
	if !passed {
		status = AuditFailed
	}
	_ = a.post(ctx, auditDoneEvent{id: id, status: status})
}

func (a *Agent) onAuditStep(e auditStepEvent) {
	if a.s.state != StateActive || e.id != a.s.audit.id {
		return
	}
	a.s.audit.step = e.step
	a.send(a.s.remote, signalbus.TypeVerifyStep, signalbus.VerifyStepPayload{AuditID: e.id, Step: string(e.step)})
}

func (a *Agent) onAuditDone(e auditDoneEvent) {
	if a.s.state != StateActive || e.id != a.s.audit.id {
		return
	}
	a.s.audit.status = e.status
	a.s.audit.cancel = nil
	a.send(a.s.remote, signalbus.TypeVerifyResult, signalbus.VerifyResultPayload{AuditID: e.id, Status: string(e.status)})
	a.notify(NoticeVerification, a.s.remote, "Verification "+string(e.status), nil)
}

// onVerifyStep mirrors the customer's progress on the support side.
func (a *Agent) onVerifyStep(from string, p signalbus.VerifyStepPayload) {
	if !a.cfg.Principal.IsSupport() || a.s.state != StateActive || from != a.s.remote {
		return
	}
	if p.AuditID != "" && a.s.audit.id != "" && p.AuditID != a.s.audit.id {
		return
	}
	if a.s.audit.id == "" {
		a.s.audit.id = p.AuditID
	}
	a.s.audit.status = AuditChecking
	a.s.audit.step = Step(p.Step)
}

// onVerifyResult records the verdict the customer reported. Support never
// decides a verdict itself.
func (a *Agent) onVerifyResult(from string, p signalbus.VerifyResultPayload) {
	if !a.cfg.Principal.IsSupport() || a.s.state != StateActive || from != a.s.remote {
		return
	}
	if p.AuditID != "" && a.s.audit.id != "" && p.AuditID != a.s.audit.id {
		return
	}
	status := AuditStatus(p.Status)
	if status != AuditVerified && status != AuditFailed {
		return
	}
	a.s.audit.status = status
	if status == AuditVerified {
		a.record(calllog.KindVerified)
	} else {
		a.record(calllog.KindVerifyFailed)
	}
	a.notify(NoticeVerification, from, "Customer verification "+string(status), nil)
}
