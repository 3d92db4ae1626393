package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nzt-bot/internal/storage"
)

// startHook is relayed through the engine when a user presses /start,
// so the opening message comes from the persona rather than hardcoded
// bot text.
const startHook = "SYSTEM_CMD: User clicked START. Execute 'THE HOOK'."

const ratingCallbackPrefix = "rate_"

// ratingTriggers mark a verdict-shaped reply; matching replies are
// followed by the feedback keyboard.
var ratingTriggers = []string{"Final Verdict", "Success Rate"}

// responder is the conversational core: total, never errors.
type responder interface {
	Reply(ctx context.Context, userID int64, text string) string
	ResetUser(userID int64)
}

type Bot struct {
	api              *tgbotapi.BotAPI
	s                sender
	engine           responder
	recorder         storage.Recorder
	parseMode        string
	privateChannelID int64
	ratingDelay      time.Duration
}

func New(botToken string, eng responder, recorder storage.Recorder, parseMode string, privateChannelID int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Bot{
		api:              api,
		s:                botAPISender{api: api},
		engine:           eng,
		recorder:         recorder,
		parseMode:        parseMode,
		privateChannelID: privateChannelID,
		ratingDelay:      3 * time.Second,
	}, nil
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleIncomingMessage(ctx, update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				b.handleCallback(update.CallbackQuery)
				continue
			}
		}
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Text == "" {
		return
	}
	userID := msg.From.ID

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "reset":
			log.Printf("user %d requested %s", userID, msg.Command())
			b.engine.ResetUser(userID)
			b.sendTyping(msg.Chat.ID)
			initial := b.engine.Reply(ctx, userID, startHook)
			b.sendMessage(msg.Chat.ID, initial)
		default:
			log.Printf("ignoring unknown command %q from %d", msg.Command(), userID)
		}
		return
	}

	log.Printf("incoming message from %d (@%s): %d chars", userID, msg.From.UserName, len(msg.Text))
	b.sendTyping(msg.Chat.ID)

	response := b.engine.Reply(ctx, userID, msg.Text)
	b.sendMessage(msg.Chat.ID, response)
	b.record(storage.Event{Timestamp: time.Now().UTC(), UserID: userID, UserMessage: msg.Text, AssistantResponse: response})

	if isVerdict(response) {
		b.scheduleRatingPrompt(ctx, msg.Chat.ID)
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if !strings.HasPrefix(cb.Data, ratingCallbackPrefix) {
		return
	}
	rating, err := strconv.Atoi(strings.TrimPrefix(cb.Data, ratingCallbackPrefix))
	if err != nil || rating < 1 || rating > 5 {
		return
	}

	ack := "Thanks for the feedback, I'll do better next time 🙏"
	if rating >= 4 {
		ack = "Thank you! Good luck with your decision ✨"
	}
	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, ack)
		if _, err := b.s.Send(edit); err != nil {
			log.Printf("failed to edit rating prompt: %v", err)
		}
	}
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("failed to answer callback: %v", err)
	}

	b.record(storage.Event{Timestamp: time.Now().UTC(), UserID: cb.From.ID, Rating: &rating})
	if b.privateChannelID != 0 {
		note := tgbotapi.NewMessage(b.privateChannelID, fmt.Sprintf("Rating: %d/5", rating))
		if _, err := b.s.Send(note); err != nil {
			log.Printf("failed to forward rating: %v", err)
		}
	}
}

// scheduleRatingPrompt sends the feedback keyboard a few seconds after
// the verdict so it lands as a separate message. The timer outlives the
// handler, so the callback re-checks the context: once the bot is
// shutting down, no more API calls go out.
func (b *Bot) scheduleRatingPrompt(ctx context.Context, chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("😕 Off the mark", ratingCallbackPrefix+"1"),
			tgbotapi.NewInlineKeyboardButtonData("🔥 Spot on", ratingCallbackPrefix+"5"),
		),
	)
	time.AfterFunc(b.ratingDelay, func() {
		if ctx.Err() != nil {
			return
		}
		msg := tgbotapi.NewMessage(chatID, "📉 *Was this analysis helpful?*\n\nHelp me get sharper next time 👇")
		msg.ParseMode = b.parseMode
		msg.ReplyMarkup = kb
		if _, err := b.s.Send(msg); err != nil {
			log.Printf("failed to send rating prompt: %v", err)
		}
	})
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.s.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Printf("failed to send typing action: %v", err)
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if b.parseMode != "" {
		msg.ParseMode = b.parseMode
	}
	if _, err := b.s.Send(msg); err != nil {
		// Model output is not guaranteed to be valid markup; deliver it
		// plain rather than not at all.
		plain := tgbotapi.NewMessage(chatID, text)
		if _, err := b.s.Send(plain); err != nil {
			log.Printf("failed to send message: %v", err)
		}
	}
}

func (b *Bot) record(ev storage.Event) {
	if b.recorder == nil {
		return
	}
	if err := b.recorder.AppendInteraction(ev); err != nil {
		log.Printf("failed to record interaction: %v", err)
	}
}

func isVerdict(response string) bool {
	for _, marker := range ratingTriggers {
		if strings.Contains(response, marker) {
			return true
		}
	}
	return false
}
