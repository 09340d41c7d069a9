package call

import (
	"context"

	"support-calls/internal/chatlog"
	"support-calls/internal/peer"
	"support-calls/internal/signalbus"
)

// event is everything the run loop reacts to. The concrete types below are
// the complete set; dispatch switches over them.
type event interface {
	isEvent()
}

type signalEvent struct {
	sigs []signalbus.Signal
}

type legacyEvent struct {
	from string
	obs  chatlog.Observation
}

type commandEvent struct {
	ctx   context.Context
	run   func(context.Context) error
	reply chan<- error
}

type incomingEvent struct {
	in *peer.Incoming
}

type linkEvent struct {
	link peer.Session
	ev   peer.Event
}

// connectEvent carries the result of an off-loop Answer or Call.
type connectEvent struct {
	id   uint64
	link peer.Session
	err  error
}

type auditStepEvent struct {
	id   string
	step Step
}

type auditDoneEvent struct {
	id     string
	status AuditStatus
}

func (signalEvent) isEvent()    {}
func (legacyEvent) isEvent()    {}
func (commandEvent) isEvent()   {}
func (incomingEvent) isEvent()  {}
func (linkEvent) isEvent()      {}
func (connectEvent) isEvent()   {}
func (auditStepEvent) isEvent() {}
func (auditDoneEvent) isEvent() {}
