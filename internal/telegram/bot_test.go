package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nzt-bot/internal/storage"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []tgbotapi.Chattable
	texts []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.texts = append(f.texts, m.Text)
	case tgbotapi.EditMessageTextConfig:
		f.texts = append(f.texts, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeEngine struct {
	reply  string
	resets []int64
	seen   []string
}

func (f *fakeEngine) Reply(ctx context.Context, userID int64, text string) string {
	f.seen = append(f.seen, text)
	return f.reply
}

func (f *fakeEngine) ResetUser(userID int64) {
	f.resets = append(f.resets, userID)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []storage.Event
}

func (f *fakeRecorder) AppendInteraction(ev storage.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRecorder) LoadInteractions() ([]storage.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Event(nil), f.events...), nil
}

func textMessage(userID, chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "user"},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}
}

func TestTextMessageRelayedAndRecorded(t *testing.T) {
	fs := &fakeSender{}
	fe := &fakeEngine{reply: "take the job"}
	fr := &fakeRecorder{}
	b := &Bot{s: fs, engine: fe, recorder: fr, parseMode: "Markdown"}

	b.handleIncomingMessage(context.Background(), textMessage(42, 100, "should I move?"))

	texts := fs.sentTexts()
	if len(texts) != 1 || texts[0] != "take the job" {
		t.Fatalf("unexpected sent texts: %+v", texts)
	}
	if len(fe.seen) != 1 || fe.seen[0] != "should I move?" {
		t.Fatalf("engine received: %+v", fe.seen)
	}
	if len(fr.events) != 1 || fr.events[0].UserMessage != "should I move?" || fr.events[0].AssistantResponse != "take the job" {
		t.Fatalf("interaction not recorded: %+v", fr.events)
	}
}

func TestStartCommandResetsAndRelaysHook(t *testing.T) {
	fs := &fakeSender{}
	fe := &fakeEngine{reply: "hello, what decision is on your mind?"}
	b := &Bot{s: fs, engine: fe, parseMode: "Markdown"}

	msg := textMessage(7, 7, "/start")
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}
	b.handleIncomingMessage(context.Background(), msg)

	if len(fe.resets) != 1 || fe.resets[0] != 7 {
		t.Fatalf("reset not invoked: %+v", fe.resets)
	}
	if len(fe.seen) != 1 || !strings.HasPrefix(fe.seen[0], "SYSTEM_CMD") {
		t.Fatalf("hook not relayed: %+v", fe.seen)
	}
	texts := fs.sentTexts()
	if len(texts) != 1 || texts[0] != "hello, what decision is on your mind?" {
		t.Fatalf("opening reply not sent: %+v", texts)
	}
}

func TestVerdictTriggersRatingPrompt(t *testing.T) {
	fs := &fakeSender{}
	fe := &fakeEngine{reply: "🎯 Final Verdict: go for it"}
	b := &Bot{s: fs, engine: fe, parseMode: "Markdown", ratingDelay: time.Millisecond}

	b.handleIncomingMessage(context.Background(), textMessage(1, 1, "so?"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		texts := fs.sentTexts()
		if len(texts) == 2 && strings.Contains(texts[1], "helpful") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("rating prompt never sent: %+v", texts)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRatingPromptSuppressedAfterShutdown(t *testing.T) {
	fs := &fakeSender{}
	fe := &fakeEngine{reply: "🎯 Final Verdict: go for it"}
	b := &Bot{s: fs, engine: fe, ratingDelay: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	b.handleIncomingMessage(ctx, textMessage(1, 1, "so?"))
	// Shutdown lands before the delayed prompt fires.
	cancel()
	time.Sleep(50 * time.Millisecond)

	if texts := fs.sentTexts(); len(texts) != 1 {
		t.Fatalf("rating prompt sent after shutdown: %+v", texts)
	}
}

func TestNonVerdictSkipsRatingPrompt(t *testing.T) {
	fs := &fakeSender{}
	fe := &fakeEngine{reply: "tell me more about the options"}
	b := &Bot{s: fs, engine: fe, ratingDelay: time.Millisecond}

	b.handleIncomingMessage(context.Background(), textMessage(1, 1, "hm"))
	time.Sleep(20 * time.Millisecond)

	if texts := fs.sentTexts(); len(texts) != 1 {
		t.Fatalf("unexpected extra messages: %+v", texts)
	}
}

func TestRatingCallbackRecordedAndForwarded(t *testing.T) {
	fs := &fakeSender{}
	fr := &fakeRecorder{}
	b := &Bot{s: fs, engine: &fakeEngine{}, recorder: fr, privateChannelID: -100}

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 5},
		Data:    "rate_5",
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 5}},
	}
	b.handleCallback(cb)

	if len(fr.events) != 1 || fr.events[0].Rating == nil || *fr.events[0].Rating != 5 {
		t.Fatalf("rating not recorded: %+v", fr.events)
	}
	texts := fs.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("want edit + forward, got %+v", texts)
	}
	if !strings.Contains(texts[1], "Rating: 5/5") {
		t.Fatalf("forward malformed: %q", texts[1])
	}
}

func TestRatingCallbackIgnoresGarbage(t *testing.T) {
	fs := &fakeSender{}
	b := &Bot{s: fs, engine: &fakeEngine{}}
	b.handleCallback(&tgbotapi.CallbackQuery{ID: "x", From: &tgbotapi.User{ID: 1}, Data: "rate_99"})
	b.handleCallback(&tgbotapi.CallbackQuery{ID: "y", From: &tgbotapi.User{ID: 1}, Data: "other"})
	if texts := fs.sentTexts(); len(texts) != 0 {
		t.Fatalf("garbage callback produced output: %+v", texts)
	}
}

func TestDailyReportSummarizes(t *testing.T) {
	fs := &fakeSender{}
	fr := &fakeRecorder{}
	now := time.Now().UTC()
	five := 5
	_ = fr.AppendInteraction(storage.Event{Timestamp: now, UserID: 1, UserMessage: "a", AssistantResponse: "b"})
	_ = fr.AppendInteraction(storage.Event{Timestamp: now, UserID: 2, UserMessage: "c", AssistantResponse: "d"})
	_ = fr.AppendInteraction(storage.Event{Timestamp: now, UserID: 1, Rating: &five})
	_ = fr.AppendInteraction(storage.Event{Timestamp: now.Add(-48 * time.Hour), UserID: 3, UserMessage: "old", AssistantResponse: "old"})

	b := &Bot{s: fs, engine: &fakeEngine{}, recorder: fr, privateChannelID: -100}
	if err := b.DailyReport(context.Background()); err != nil {
		t.Fatalf("report: %v", err)
	}
	texts := fs.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("want one report message, got %+v", texts)
	}
	if !strings.Contains(texts[0], "2 exchanges from 2 users") || !strings.Contains(texts[0], "5.0/5") {
		t.Fatalf("report content: %q", texts[0])
	}
}
