package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"support-calls/internal/auth"
	"support-calls/internal/call"
	"support-calls/internal/chatlog"
	"support-calls/internal/media"
)

// controller is the part of *call.Agent the command line drives.
type controller interface {
	PlaceCall(ctx context.Context, remote string, kind media.Kind) error
	Accept(ctx context.Context) error
	CancelOrReject(ctx context.Context) error
	Hangup(ctx context.Context) error
	End(ctx context.Context) error
	RequestVerification(ctx context.Context) error
	Snapshot() call.Snapshot
}

// chatter posts chat messages. Implemented by *client.Client.
type chatter interface {
	Contact(ctx context.Context, name, email, body, imageURL string) (chatlog.Message, error)
	Reply(ctx context.Context, id, text string) (chatlog.Message, error)
}

var errQuit = errors.New("quit")

const helpText = `commands:
  call <audio|video> [customer]   place a call (support must name the customer)
  accept                          accept the ringing call
  reject | cancel                 decline an incoming call or cancel an outgoing one
  hangup                          end the active call
  verify                          ask the customer to run the liveness check (support)
  say <text>                      send a chat message (customer)
  reply <message-id> <text>       reply to a chat message (support)
  status                          show the call state
  quit                            end any call and exit
`

// runCommand executes one input line. It returns errQuit when the user asked
// to leave.
func runCommand(ctx context.Context, line string, p auth.Principal, ctl controller, chat chatter, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprint(out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "status":
		printSnapshot(out, ctl.Snapshot())
		return nil
	case "call":
		if len(args) == 0 {
			return errors.New("usage: call <audio|video> [customer]")
		}
		kind := media.Kind(strings.ToLower(args[0]))
		remote := auth.SupportIdentity
		if p.IsSupport() {
			if len(args) < 2 {
				return errors.New("usage: call <audio|video> <customer-email>")
			}
			remote = args[1]
		}
		return ctl.PlaceCall(ctx, remote, kind)
	case "accept":
		return ctl.Accept(ctx)
	case "reject", "cancel":
		return ctl.CancelOrReject(ctx)
	case "hangup":
		return ctl.Hangup(ctx)
	case "end":
		return ctl.End(ctx)
	case "verify":
		return ctl.RequestVerification(ctx)
	case "say":
		if p.IsSupport() {
			return errors.New("support replies with: reply <message-id> <text>")
		}
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if text == "" {
			return errors.New("usage: say <text>")
		}
		msg, err := chat.Contact(ctx, p.Name, p.Email, text, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sent message %s\n", msg.ID)
		return nil
	case "reply":
		if !p.IsSupport() {
			return errors.New("only support can reply")
		}
		if len(args) < 2 {
			return errors.New("usage: reply <message-id> <text>")
		}
		text := strings.Join(args[1:], " ")
		msg, err := chat.Reply(ctx, args[0], text)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "replied to %s (%s)\n", msg.ID, msg.Status)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func printSnapshot(out io.Writer, s call.Snapshot) {
	if s.State == call.StateIdle {
		fmt.Fprintln(out, "idle")
		return
	}
	fmt.Fprintf(out, "%s %s call with %s", s.State, s.MediaKind, s.Remote)
	if s.Audit.Status != call.AuditNone {
		fmt.Fprintf(out, ", verification %s", s.Audit.Status)
		if s.Audit.Step != call.StepNone {
			fmt.Fprintf(out, " (%s)", s.Audit.Step)
		}
	}
	fmt.Fprintln(out)
}

func printNotice(out io.Writer, n call.Notice) {
	line := n.Message
	if n.Remote != "" {
		line = fmt.Sprintf("%s [%s]", line, n.Remote)
	}
	if n.Err != nil {
		line = fmt.Sprintf("%s: %v", line, n.Err)
	}
	fmt.Fprintf(out, "* %s\n", line)
	if n.Kind == call.NoticeIncoming {
		fmt.Fprintln(out, "  type accept or reject")
	}
}
