package llm

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestOpenAISessionSeedsTranscript(t *testing.T) {
	c := NewOpenAI("key", "", "gpt-4o-mini", "be helpful", "", "")
	sess, err := c.StartChat(context.Background(), []Message{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleModel, Text: "hello"},
	})
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}

	oaSess, ok := sess.(*openaiSession)
	if !ok {
		t.Fatalf("unexpected session type %T", sess)
	}
	if len(oaSess.transcript) != 3 {
		t.Fatalf("want system + 2 history entries, got %d", len(oaSess.transcript))
	}
	if oaSess.transcript[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("system prompt not first: %+v", oaSess.transcript[0])
	}
	if oaSess.transcript[2].Role != openai.ChatMessageRoleAssistant {
		t.Fatalf("model role not mapped to assistant: %+v", oaSess.transcript[2])
	}
}

func TestToOpenAIRole(t *testing.T) {
	if toOpenAIRole(RoleModel) != openai.ChatMessageRoleAssistant {
		t.Fatalf("model role mapping broken")
	}
	if toOpenAIRole(RoleUser) != openai.ChatMessageRoleUser {
		t.Fatalf("user role mapping broken")
	}
}
