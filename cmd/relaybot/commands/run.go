package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/relaybot/internal/config"
	"github.com/zhouzirui/z-tavern/relaybot/internal/handler"
	"github.com/zhouzirui/z-tavern/relaybot/internal/handler/dialog"
	"github.com/zhouzirui/z-tavern/relaybot/internal/handler/dispatch"
	"github.com/zhouzirui/z-tavern/relaybot/internal/model/script"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/ai"
	chatservice "github.com/zhouzirui/z-tavern/relaybot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/speech"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/telegram"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/transcript"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start polling Telegram and relaying messages",
	Args:  cobra.NoArgs,
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, _ []string) error {
	loadEnv()

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go dispatch.WatchSignals(cancel, signals, os.Exit, logger)

	sc, err := loadScript(cfg.Dialog.ScriptFile)
	if err != nil {
		return err
	}

	completer, err := newCompleter(ctx, cfg.Completion, logger)
	if err != nil {
		return err
	}

	var synth speech.Synthesizer
	if cfg.Speech.Enabled {
		svc, err := speech.NewService(cfg.Speech.ServiceConfig(), logger)
		if err != nil {
			return fmt.Errorf("init speech service: %w", err)
		}
		synth = svc
		logger.Info("speech synthesis enabled", "provider", cfg.Speech.Provider, "language", cfg.Speech.Language)
	} else {
		logger.Info("speech synthesis disabled")
	}

	recorder, closeRecorder, err := newRecorder(ctx, cfg.Transcript, logger)
	if err != nil {
		return err
	}
	defer closeRecorder()

	bot, err := telegram.NewClient(cfg.Telegram, nil, logger)
	if err != nil {
		return err
	}
	if me, err := bot.GetMe(ctx); err != nil {
		logger.Warn("telegram getMe failed, continuing", "error", err)
	} else {
		logger.Info("telegram bot authorized", "username", me.Username, "name", me.DisplayName())
	}

	sessions := chatservice.NewService()
	dialogHandler := dialog.New(dialog.Dependencies{
		Messenger:   bot,
		Completer:   completer,
		Sessions:    sessions,
		Synthesizer: synth,
		Recorder:    recorder,
		Script:      sc,
	}, dialog.Options{
		MaxInputLength: cfg.Dialog.MaxInputLength,
		TTSEnabled:     cfg.Speech.Enabled,
		MaxTTSLength:   cfg.Speech.MaxLength,
		Language:       cfg.Speech.Language,
		Slow:           cfg.Speech.Slow,
		TempDir:        cfg.Speech.TempDir,
	}, logger)

	loop := dispatch.New(bot, dialogHandler, cfg.Telegram.RetryDelay, logger)

	serverDone := make(chan error, 1)
	if addr := cfg.Server.HealthAddr; addr != "" {
		router := handler.NewRouter(handler.Health{
			Sessions:  sessions,
			Dispatch:  loop,
			StartedAt: time.Now(),
			Version:   Version,
		}, logger)
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		logger.Info("ops server listening", "addr", addr)
		go func() { serverDone <- runServer(ctx, srv) }()
	} else {
		close(serverDone)
	}

	logger.Info("relaybot started", "provider", cfg.Completion.Provider, "max_input_length", cfg.Dialog.MaxInputLength)
	loopErr := loop.Run(ctx)
	cancel()

	if err := <-serverDone; err != nil {
		logger.Error("ops server error", "error", err)
	}
	logger.Info("relaybot stopped")
	return loopErr
}

func loadScript(path string) (*script.Script, error) {
	if path == "" {
		return script.Default(), nil
	}
	sc, err := script.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return sc, nil
}

func newCompleter(ctx context.Context, cfg config.CompletionConfig, logger *slog.Logger) (ai.Completer, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		client, err := ai.NewArkClient(ctx, cfg.Ark, logger)
		if err != nil {
			return nil, fmt.Errorf("init ark client: %w", err)
		}
		logger.Info("completion provider ready", "provider", cfg.Provider, "model", cfg.Ark.Model)
		return client, nil
	default:
		logger.Info("completion provider ready", "provider", cfg.Provider, "model", cfg.Model, "base_url", cfg.BaseURL)
		return ai.NewOpenAIClient(cfg, logger), nil
	}
}

func newRecorder(ctx context.Context, cfg config.TranscriptConfig, logger *slog.Logger) (transcript.Recorder, func(), error) {
	if cfg.DatabaseURL == "" {
		return transcript.Nop{}, func() {}, nil
	}

	recorder, err := transcript.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open transcript store: %w", err)
	}
	logger.Info("transcript recording enabled")
	return recorder, func() { closeQuietly(recorder, logger) }, nil
}

func closeQuietly(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
