package conversation

import (
	"context"
	"strings"
)

// Replier produces the agent's answer to one user utterance as a stream of
// text fragments. The channel is closed when the reply is complete or ctx
// ends.
type Replier interface {
	Reply(ctx context.Context, userText string) (<-chan string, error)
}

// EchoReplier repeats the user's words back, one word per fragment. It is
// the stand-in used when no agent is wired in.
type EchoReplier struct {
	Prefix string
}

func (r EchoReplier) Reply(ctx context.Context, userText string) (<-chan string, error) {
	words := strings.Fields(strings.TrimSpace(r.Prefix + " " + userText))
	out := make(chan string)
	go func() {
		defer close(out)
		for i, w := range words {
			if i > 0 {
				w = " " + w
			}
			select {
			case out <- w:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
