package llm

import "context"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	Role string
	Text string
}

// Client abstracts the two call shapes the remote API exposes: a
// stateful chat session seeded with prior history, and a one-shot
// stateless generation.
type Client interface {
	StartChat(ctx context.Context, history []Message) (ChatSession, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatSession is a live server-side (or emulated) conversational
// context. Sessions are cheap to recreate from history and are never
// persisted.
type ChatSession interface {
	Send(ctx context.Context, message string) (string, error)
}
