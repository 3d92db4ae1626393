package telegram

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DailyReport posts a one-line activity summary for the last 24 hours
// to the private channel. Plugged into the scheduler.
func (b *Bot) DailyReport(ctx context.Context) error {
	if b.recorder == nil || b.privateChannelID == 0 {
		return nil
	}
	events, err := b.recorder.LoadInteractions()
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	users := make(map[int64]struct{})
	exchanges := 0
	ratingSum, ratingCount := 0, 0
	for _, ev := range events {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if ev.Rating != nil {
			ratingSum += *ev.Rating
			ratingCount++
			continue
		}
		exchanges++
		users[ev.UserID] = struct{}{}
	}

	text := fmt.Sprintf("📊 Last 24h: %d exchanges from %d users", exchanges, len(users))
	if ratingCount > 0 {
		text += fmt.Sprintf(", avg rating %.1f/5 (%d votes)", float64(ratingSum)/float64(ratingCount), ratingCount)
	}

	msg := tgbotapi.NewMessage(b.privateChannelID, text)
	if _, err := b.s.Send(msg); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	log.Printf("daily report sent: %s", text)
	return nil
}
