// Package notify provides anomaly sinks that publish batches to operators:
// a Telegram channel and the console.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/oddsradar/internal/models"
)

// Telegram publishes anomaly batches to a Telegram chat.
type Telegram struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegram creates a Telegram sink.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Telegram{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when ctx
// is cancelled.
func (t *Telegram) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					t.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (t *Telegram) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		t.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (t *Telegram) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(t.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr)
}

// SendError sends a cycle-failure notification.
// Call this only on the first occurrence of a consecutive failure sequence.
func (t *Telegram) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Polling error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return t.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (t *Telegram) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Polling recovered* after %d consecutive failure\\(s\\)", failureCount)
	return t.sendMarkdownV2(text)
}

// Append publishes the anomaly batch to the chat.
func (t *Telegram) Append(_ context.Context, batch []models.Anomaly) error {
	if len(batch) == 0 {
		return nil
	}
	return t.sendMarkdownV2(formatBatch(batch))
}

var kindEmoji = map[models.AnomalyKind]string{
	models.KindSharpDrop:      "📉",
	models.KindSharpRise:      "📈",
	models.KindValueBet:       "💎",
	models.KindUnbalancedFlow: "⚖️",
	models.KindTotalOverSpike: "🎯",
	models.KindLateGameSpike:  "⏰",
	models.KindCorridorBreach: "🚧",
	models.KindLimitCut:       "✂️",
}

// formatBatch formats an anomaly batch into a Telegram MarkdownV2 message.
func formatBatch(batch []models.Anomaly) string {
	var b strings.Builder
	b.WriteString("🚨 *Odds Anomalies Detected*\n\n")
	b.WriteString(fmt.Sprintf("📅 %s\n\n", escapeMarkdownV2(batch[0].DetectedAt.Format("2006-01-02 15:04:05"))))

	for i, a := range batch {
		emoji := kindEmoji[a.Kind]
		if emoji == "" {
			emoji = "🔔"
		}

		name := a.Entity.EventName
		if name == "" {
			name = a.Entity.EntityID
		}
		b.WriteString(fmt.Sprintf("%d\\. %s *%s* \\[%s\\]\n", i+1, emoji, escapeMarkdownV2(name), escapeMarkdownV2(string(a.Severity))))

		if a.Entity.League != "" {
			b.WriteString(fmt.Sprintf("   🏆 %s\n", escapeMarkdownV2(a.Entity.League)))
		}

		detail := fmt.Sprintf("%s %s: %.3f → %.3f", a.Kind, a.MarketLabel, a.Before, a.After)
		if a.ChangePercent != 0 {
			detail += fmt.Sprintf(" (%+.1f%%)", a.ChangePercent)
		}
		b.WriteString(fmt.Sprintf("   %s\n\n", escapeMarkdownV2(detail)))
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
