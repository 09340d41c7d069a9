package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"support-calls/internal/auth"
	"support-calls/internal/call"
	"support-calls/internal/chatlog"
	"support-calls/internal/media"
)

type fakeController struct {
	calls []string
	snap  call.Snapshot
	err   error
}

func (f *fakeController) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) PlaceCall(_ context.Context, remote string, kind media.Kind) error {
	return f.record("place " + string(kind) + " " + remote)
}
func (f *fakeController) Accept(context.Context) error         { return f.record("accept") }
func (f *fakeController) CancelOrReject(context.Context) error { return f.record("cancel") }
func (f *fakeController) Hangup(context.Context) error         { return f.record("hangup") }
func (f *fakeController) End(context.Context) error            { return f.record("end") }
func (f *fakeController) RequestVerification(context.Context) error {
	return f.record("verify")
}
func (f *fakeController) Snapshot() call.Snapshot { return f.snap }

type fakeChat struct {
	contacts []string
	replies  []string
}

func (f *fakeChat) Contact(_ context.Context, name, email, body, _ string) (chatlog.Message, error) {
	f.contacts = append(f.contacts, name+"|"+email+"|"+body)
	return chatlog.Message{ID: "m1", Status: chatlog.StatusUnread}, nil
}

func (f *fakeChat) Reply(_ context.Context, id, text string) (chatlog.Message, error) {
	f.replies = append(f.replies, id+"|"+text)
	return chatlog.Message{ID: id, Status: chatlog.StatusReplied}, nil
}

var (
	customer = auth.Principal{Email: "ana@example.com", Name: "Ana", Role: auth.RoleCustomer}
	support  = auth.Principal{Email: "desk@example.com", Name: "Desk", Role: auth.RoleSupport}
)

func TestRunCommand_CustomerCallsSupport(t *testing.T) {
	ctl := &fakeController{}
	var out bytes.Buffer
	if err := runCommand(context.Background(), "call video", customer, ctl, &fakeChat{}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(ctl.calls) != 1 || ctl.calls[0] != "place video "+auth.SupportIdentity {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestRunCommand_SupportMustNameCustomer(t *testing.T) {
	ctl := &fakeController{}
	var out bytes.Buffer
	if err := runCommand(context.Background(), "call audio", support, ctl, &fakeChat{}, &out); err == nil {
		t.Fatalf("expected usage error")
	}
	if err := runCommand(context.Background(), "CALL Audio ana@example.com", support, ctl, &fakeChat{}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(ctl.calls) != 1 || ctl.calls[0] != "place audio ana@example.com" {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestRunCommand_SessionCommands(t *testing.T) {
	ctl := &fakeController{}
	var out bytes.Buffer
	for _, line := range []string{"accept", "reject", "cancel", "hangup", "end", "verify", "   "} {
		if err := runCommand(context.Background(), line, support, ctl, &fakeChat{}, &out); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	want := "accept,cancel,cancel,hangup,end,verify"
	if got := strings.Join(ctl.calls, ","); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
}

func TestRunCommand_PropagatesAgentErrors(t *testing.T) {
	ctl := &fakeController{err: call.ErrInvalidState}
	var out bytes.Buffer
	err := runCommand(context.Background(), "accept", customer, ctl, &fakeChat{}, &out)
	if !errors.Is(err, call.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunCommand_Chat(t *testing.T) {
	chat := &fakeChat{}
	var out bytes.Buffer

	if err := runCommand(context.Background(), "say  my card was charged twice ", customer, &fakeController{}, chat, &out); err != nil {
		t.Fatalf("say: %v", err)
	}
	if len(chat.contacts) != 1 || chat.contacts[0] != "Ana|ana@example.com|my card was charged twice" {
		t.Fatalf("contacts = %v", chat.contacts)
	}
	if err := runCommand(context.Background(), "reply m1 hi", customer, &fakeController{}, chat, &out); err == nil {
		t.Fatalf("customer reply should fail")
	}

	if err := runCommand(context.Background(), "say hello", support, &fakeController{}, chat, &out); err == nil {
		t.Fatalf("support say should fail")
	}
	if err := runCommand(context.Background(), "reply m1 we refunded it", support, &fakeController{}, chat, &out); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if len(chat.replies) != 1 || chat.replies[0] != "m1|we refunded it" {
		t.Fatalf("replies = %v", chat.replies)
	}
	if !strings.Contains(out.String(), "replied to m1 (Replied)") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunCommand_StatusAndUnknown(t *testing.T) {
	ctl := &fakeController{snap: call.Snapshot{
		State:     call.StateActive,
		Remote:    "ana@example.com",
		MediaKind: media.KindVideo,
		Audit:     call.AuditSnapshot{Status: call.AuditChecking, Step: call.StepTurn},
	}}
	var out bytes.Buffer
	if err := runCommand(context.Background(), "status", support, ctl, &fakeChat{}, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := out.String(); got != "active video call with ana@example.com, verification checking (turn)\n" {
		t.Fatalf("status = %q", got)
	}
	if err := runCommand(context.Background(), "dance", support, ctl, &fakeChat{}, &out); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := runCommand(context.Background(), "quit", support, ctl, &fakeChat{}, &out); !errors.Is(err, errQuit) {
		t.Fatalf("quit err = %v", err)
	}
}

func TestReadCommands_StopsOnQuit(t *testing.T) {
	in := strings.NewReader("status\nbogus\nquit\nstatus\n")
	var out bytes.Buffer
	var seen []string
	readCommands(context.Background(), in, &out, func(line string) error {
		seen = append(seen, line)
		switch line {
		case "quit":
			return errQuit
		case "bogus":
			return errors.New("unknown")
		}
		return nil
	})
	if len(seen) != 3 {
		t.Fatalf("seen = %v", seen)
	}
	if out.String() != "error: unknown\n" {
		t.Fatalf("out = %q", out.String())
	}
}

func TestPrintNotice(t *testing.T) {
	var out bytes.Buffer
	printNotice(&out, call.Notice{Kind: call.NoticeIncoming, Remote: "ana@example.com", Message: "incoming video call"})
	want := "* incoming video call [ana@example.com]\n  type accept or reject\n"
	if out.String() != want {
		t.Fatalf("notice = %q", out.String())
	}
}
