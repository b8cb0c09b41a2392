package notify

import (
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"margin_trader/pkg/logger"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram: пассивный нотифайер: только отправка в один чат, без апдейтов.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return newTelegram(token, chatID, tgbot.APIEndpoint)
}

func newTelegram(token string, chatID int64, endpoint string) (*Telegram, error) {
	b, err := tgbot.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	// ошибка доставки не должна ронять торговый цикл
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("[NOTIFY] telegram send failed: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Stdout: заглушка, всё пишет в лог.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }

// New выбирает Telegram, если заданы токен и чат, иначе Stdout.
func New(token string, chatID int64) (Notifier, error) {
	if token == "" || chatID == 0 {
		return NewStdout(), nil
	}
	return NewTelegram(token, chatID)
}
