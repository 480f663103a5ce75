// Package dialog decides what to do with every inbound chat message: menu
// commands, the guided questionnaire and ordinary completion requests.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/z-tavern/relaybot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/relaybot/internal/model/script"
	speechmodel "github.com/zhouzirui/z-tavern/relaybot/internal/model/speech"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/ai"
	chatservice "github.com/zhouzirui/z-tavern/relaybot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/speech"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/telegram"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/transcript"
)

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, keyboard *chat.Keyboard) (int64, error)
	SendVoice(ctx context.Context, chatID int64, path string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// SessionStore owns questionnaire sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, chatID int64, questions []string) (chat.Session, error)
	RecordAnswer(ctx context.Context, chatID int64, answer string) (chat.Session, error)
	DeleteSession(ctx context.Context, chatID int64)
}

// Dependencies are the collaborators of a Handler. Synthesizer and Recorder
// may be nil.
type Dependencies struct {
	Messenger   Messenger
	Completer   ai.Completer
	Sessions    SessionStore
	Synthesizer speech.Synthesizer
	Recorder    transcript.Recorder
	Script      *script.Script
}

// Options are the fixed limits and speech settings.
type Options struct {
	MaxInputLength int
	TTSEnabled     bool
	MaxTTSLength   int
	Language       string
	Slow           bool
	TempDir        string
}

// Handler is the dialog controller.
type Handler struct {
	messenger Messenger
	completer ai.Completer
	sessions  SessionStore
	synth     speech.Synthesizer
	recorder  transcript.Recorder
	script    *script.Script
	opts      Options
	logger    *slog.Logger
}

// New wires a Handler.
func New(deps Dependencies, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = transcript.Nop{}
	}
	if deps.Script == nil {
		deps.Script = script.Default()
	}
	return &Handler{
		messenger: deps.Messenger,
		completer: deps.Completer,
		sessions:  deps.Sessions,
		synth:     deps.Synthesizer,
		recorder:  deps.Recorder,
		script:    deps.Script,
		opts:      opts,
		logger:    logger.With("component", "dialog"),
	}
}

// HandleMessage processes one inbound message to completion. Messages that
// arrive after ctx is cancelled are dropped; work already started is not
// interrupted by the cancellation.
func (h *Handler) HandleMessage(ctx context.Context, msg chat.Inbound) error {
	if ctx.Err() != nil {
		h.logger.Debug("shutting down, message dropped", "chat_id", msg.ChatID, "message_id", msg.MessageID)
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	h.record(ctx, msg.ChatID, transcript.Inbound, msg.Text)

	switch text := msg.Text; {
	case isStartCommand(text):
		return h.send(ctx, msg.ChatID, h.script.Texts.Welcome, h.script.MainMenu())
	case text == h.script.Buttons.Menu:
		return h.send(ctx, msg.ChatID, h.script.Texts.ChooseMode, h.script.MainMenu())
	case text == h.script.Buttons.NormalMode:
		return h.send(ctx, msg.ChatID, h.script.Texts.NormalMode, nil)
	case text == h.script.Buttons.Diagnostic:
		return h.startDiagnostic(ctx, msg.ChatID)
	}

	session, err := h.sessions.RecordAnswer(ctx, msg.ChatID, msg.Text)
	switch {
	case err == nil:
		return h.continueDiagnostic(ctx, session)
	case errors.Is(err, chatservice.ErrSessionNotFound):
		return h.answer(ctx, msg.ChatID, msg.Text)
	default:
		return fmt.Errorf("record answer: %w", err)
	}
}

func (h *Handler) startDiagnostic(ctx context.Context, chatID int64) error {
	session, err := h.sessions.CreateSession(ctx, chatID, h.script.Diagnostic.Questions)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	question, _ := session.Pending()
	return h.send(ctx, chatID, question, nil)
}

func (h *Handler) continueDiagnostic(ctx context.Context, session chat.Session) error {
	if question, ok := session.Pending(); ok {
		return h.send(ctx, session.ChatID, question, nil)
	}

	prompt := h.script.ComposeDiagnosis(session.Answers)
	reply := h.complete(ctx, session.ChatID, h.script.Diagnostic.Role, prompt)
	deliverErr := h.deliver(ctx, session.ChatID, reply)

	h.sessions.DeleteSession(ctx, session.ChatID)
	h.logger.Info("diagnostic finished", "chat_id", session.ChatID)

	if deliverErr != nil {
		return deliverErr
	}
	return h.send(ctx, session.ChatID, h.script.Texts.DiagnosticDone, h.script.MainMenu())
}

func (h *Handler) answer(ctx context.Context, chatID int64, text string) error {
	if length := utf8.RuneCountInString(text); length > h.opts.MaxInputLength {
		h.logger.Info("input too long", "chat_id", chatID, "length", length, "limit", h.opts.MaxInputLength)
		return h.send(ctx, chatID, h.script.InputTooLong(h.opts.MaxInputLength), nil)
	}

	reply := h.complete(ctx, chatID, h.script.SystemPrompt, text)
	return h.deliver(ctx, chatID, reply)
}

// complete runs one completion call behind a placeholder message. Failures
// come back as the reply text.
func (h *Handler) complete(ctx context.Context, chatID int64, systemPrompt, userContent string) string {
	placeholderID, err := h.messenger.SendText(ctx, chatID, h.script.Texts.Thinking, nil)
	if err != nil {
		h.logger.Error("failed to send placeholder", "chat_id", chatID, "error", err)
	}

	reply, err := h.completer.Complete(ctx, systemPrompt, userContent)
	if err != nil {
		reply = h.describeFailure(err)
		h.logger.Error("completion failed", "chat_id", chatID, "error", err)
	}

	if placeholderID != 0 {
		h.removePlaceholder(ctx, chatID, placeholderID)
	}
	return reply
}

func (h *Handler) describeFailure(err error) string {
	if statusErr, ok := ai.AsStatusError(err); ok {
		return h.script.StatusFailure(statusErr.StatusCode, statusErr.Detail, statusErr.Decoded)
	}
	return h.script.RequestFailure(err.Error())
}

func (h *Handler) removePlaceholder(ctx context.Context, chatID, messageID int64) {
	err := h.messenger.DeleteMessage(ctx, chatID, messageID)
	switch {
	case err == nil:
	case errors.Is(err, telegram.ErrMessageNotFound):
		h.logger.Warn("placeholder already deleted", "chat_id", chatID, "message_id", messageID)
	default:
		h.logger.Error("failed to delete placeholder", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// deliver sends the reply and, when enabled, its voice rendition.
func (h *Handler) deliver(ctx context.Context, chatID int64, reply string) error {
	if reply == "" {
		h.logger.Warn("empty reply, nothing to send", "chat_id", chatID)
		return nil
	}
	if err := h.send(ctx, chatID, reply, nil); err != nil {
		return err
	}
	h.sendVoice(ctx, chatID, reply)
	return nil
}

func (h *Handler) sendVoice(ctx context.Context, chatID int64, text string) {
	if !h.opts.TTSEnabled || h.synth == nil || text == "" {
		return
	}
	if length := utf8.RuneCountInString(text); length > h.opts.MaxTTSLength {
		h.logger.Warn("reply too long for speech synthesis", "chat_id", chatID, "length", length, "limit", h.opts.MaxTTSLength)
		return
	}

	resp, err := h.synth.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: strconv.FormatInt(chatID, 10),
		Text:      text,
		Language:  h.opts.Language,
		Slow:      h.opts.Slow,
		Format:    "mp3",
	})
	if err != nil {
		h.logger.Error("speech synthesis failed", "chat_id", chatID, "error", err)
		return
	}

	path, err := h.writeArtifact(chatID, resp.AudioData)
	if err != nil {
		h.logger.Error("failed to store voice artifact", "chat_id", chatID, "error", err)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			h.logger.Error("failed to remove voice artifact", "chat_id", chatID, "path", path, "error", err)
		}
	}()

	if err := h.messenger.SendVoice(ctx, chatID, path); err != nil {
		h.logger.Error("failed to send voice", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) writeArtifact(chatID int64, audio []byte) (string, error) {
	f, err := os.CreateTemp(h.opts.TempDir, fmt.Sprintf("tts_%d_%d_*.mp3", chatID, time.Now().Unix()))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, keyboard *chat.Keyboard) error {
	if _, err := h.messenger.SendText(ctx, chatID, text, keyboard); err != nil {
		return fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	h.record(ctx, chatID, transcript.Outbound, text)
	return nil
}

func (h *Handler) record(ctx context.Context, chatID int64, direction transcript.Direction, text string) {
	err := h.recorder.Record(ctx, transcript.Entry{
		ChatID:    chatID,
		Direction: direction,
		Text:      text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.logger.Warn("failed to record transcript", "chat_id", chatID, "error", err)
	}
}

// isStartCommand matches "/start", "/start@bot" and "/start payload".
func isStartCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd := fields[0]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.EqualFold(cmd, script.StartCommand)
}
