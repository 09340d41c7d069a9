package chatlog

import "strings"

// ReplySeparator joins reply turns inside Message.Reply.
const ReplySeparator = "\n\n"

// SplitReply returns the display turns of a reply transcript. Blank turns are
// dropped.
func SplitReply(reply string) []string {
	if strings.TrimSpace(reply) == "" {
		return nil
	}
	parts := strings.Split(reply, ReplySeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func appendTurn(reply, turn string) string {
	if reply == "" {
		return turn
	}
	return reply + ReplySeparator + turn
}
