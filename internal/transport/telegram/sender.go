// Package telegram delivers text to a Telegram chat with telebot.
//
// The sender is send-only: it never polls for updates. It backs both the
// notifier's telegram channel and the remote log sink.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "ticketd/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// ParseMode is passed through to Telegram ("HTML", "Markdown" or empty).
	ParseMode string
	// APIURL overrides the Bot API base URL.
	APIURL string
}

type Sender struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

// New validates the token against the Bot API unless offline is set.
func New(cfg Config, log logx.Logger, offline bool) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: offline,
		Client:  &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

// SendText posts text to the configured chat, split into chunks that fit
// Telegram's message limit.
func (s *Sender) SendText(ctx context.Context, text string) error {
	chunks := splitText(text, textLimit, s.cfg.ParseMode)
	chat := &tele.Chat{ID: s.cfg.ChatID}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{
			ParseMode:             s.cfg.ParseMode,
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		}
		if _, err := s.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// SendLog forwards a formatted log line. It satisfies logx.RemoteSender.
func (s *Sender) SendLog(ctx context.Context, text string) error {
	return s.SendText(ctx, text)
}

const textLimit = 4000

// splitText prefers newline boundaries and avoids cutting inside an HTML tag
// when parseMode is HTML.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
