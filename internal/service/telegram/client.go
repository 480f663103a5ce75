// Package telegram adapts telebot to the bot's messenger and poller
// interfaces: long polling, text and voice sends, message deletion.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/zhouzirui/z-tavern/relaybot/internal/config"
	"github.com/zhouzirui/z-tavern/relaybot/internal/model/chat"
)

// ErrMessageNotFound is returned by DeleteMessage when the message is
// already gone.
var ErrMessageNotFound = errors.New("message not found")

// Client wraps a telebot.Bot. Updates are pulled one batch at a time by
// the dispatch loop instead of telebot's own poller.
type Client struct {
	bot    *tele.Bot
	poller *tele.LongPoller
	token  string
	logger *slog.Logger
}

// NewClient builds a client without contacting Telegram. httpClient may be nil.
func NewClient(cfg config.TelegramConfig, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 20 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: pollTimeout + 40*time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	poller := &tele.LongPoller{Timeout: pollTimeout, AllowedUpdates: []string{"message"}}
	bot, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Poller:  poller,
		Client:  httpClient,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", redactToken(err, cfg.Token))
	}

	return &Client{
		bot:    bot,
		poller: poller,
		token:  cfg.Token,
		logger: logger.With("component", "telegram"),
	}, nil
}

// User is the subset of the Bot API user object the bot reads.
type User struct {
	ID        int64
	IsBot     bool
	Username  string
	FirstName string
	LastName  string
}

func newUser(u *tele.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:        u.ID,
		IsBot:     u.IsBot,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// DisplayName prefers the full name, then @username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if username := strings.TrimSpace(u.Username); username != "" {
		return "@" + username
	}
	return ""
}

// GetMe verifies the token and returns the bot account.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	data, err := c.raw(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result tele.User `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("telegram getMe: decode result: %w", err)
	}
	return newUser(&resp.Result), nil
}

// Poll long-polls for updates starting at offset. It returns the text
// messages among them and the offset for the next call; updates without
// text are acknowledged but skipped.
func (c *Client) Poll(ctx context.Context, offset int64) ([]chat.Inbound, int64, error) {
	secs := int(c.poller.Timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	data, err := c.raw(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         secs,
		"allowed_updates": c.poller.AllowedUpdates,
	})
	if err != nil {
		return nil, offset, err
	}

	var resp struct {
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, offset, fmt.Errorf("telegram getUpdates: decode result: %w", err)
	}

	next := offset
	inbound := make([]chat.Inbound, 0, len(resp.Result))
	for _, u := range resp.Result {
		if id := int64(u.ID); id >= next {
			next = id + 1
		}
		msg := u.Message
		if msg == nil || msg.Chat == nil || msg.Text == "" {
			continue
		}
		inbound = append(inbound, chat.Inbound{
			ChatID:    msg.Chat.ID,
			MessageID: int64(msg.ID),
			Sender:    newUser(msg.Sender).DisplayName(),
			Text:      msg.Text,
		})
	}
	return inbound, next, nil
}

// raw runs a Bot API call; telebot has no context support, so a cancelled
// ctx abandons the in-flight request instead of waiting on it.
func (c *Client) raw(ctx context.Context, method string, payload any) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.bot.Raw(method, payload)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, c.wrap(method, res.err)
		}
		return res.data, nil
	}
}

// SendText sends text with an optional reply keyboard and returns the new
// message id.
func (c *Client) SendText(_ context.Context, chatID int64, text string, keyboard *chat.Keyboard) (int64, error) {
	var opts []any
	if !keyboard.Empty() {
		markup := &tele.ReplyMarkup{ResizeKeyboard: true}
		for _, row := range keyboard.Rows {
			buttons := make([]tele.ReplyButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, tele.ReplyButton{Text: label})
			}
			markup.ReplyKeyboard = append(markup.ReplyKeyboard, buttons)
		}
		opts = append(opts, markup)
	}

	msg, err := c.bot.Send(tele.ChatID(chatID), text, opts...)
	if err != nil {
		return 0, c.wrap("sendMessage", err)
	}
	return int64(msg.ID), nil
}

// DeleteMessage removes a message. An already deleted message yields an
// error matching ErrMessageNotFound.
func (c *Client) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	err := c.bot.Delete(&tele.StoredMessage{
		MessageID: strconv.FormatInt(messageID, 10),
		ChatID:    chatID,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tele.ErrNotFoundToDelete):
		return fmt.Errorf("%w: %w", ErrMessageNotFound, err)
	default:
		return c.wrap("deleteMessage", err)
	}
}

// SendVoice uploads the audio file at path as a voice message.
func (c *Client) SendVoice(_ context.Context, chatID int64, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open voice file: %w", err)
	}
	if _, err := c.bot.Send(tele.ChatID(chatID), &tele.Voice{File: tele.FromDisk(path)}); err != nil {
		return c.wrap("sendVoice", err)
	}
	return nil
}

func (c *Client) wrap(method string, err error) error {
	return fmt.Errorf("telegram %s: %w", method, redactToken(err, c.token))
}

// redactToken keeps the bot token out of logged *url.Error messages.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
