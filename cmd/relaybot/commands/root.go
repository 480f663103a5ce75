package commands

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/z-tavern/relaybot/internal/config"
)

var (
	// Global flags
	envFile string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "relaybot",
	Short: "Telegram bot relaying messages to an LLM completion API",
	Long: `relaybot - a Telegram bot that relays chat messages to an OpenAI-compatible
completion API (or Volcengine Ark), optionally answers with a synthesized voice
message, and offers a five-question guided diagnostic.

Configuration comes from the environment (and an optional .env file):
  TELEGRAM_BOT_TOKEN   Telegram bot token (required)
  API_KEY              completion API key (required for the openrouter provider)
  ENABLE_TTS           send voice replies (default true)

Running without a subcommand is the same as 'relaybot run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: ./.env)")
	rootCmd.PersistentFlags().String("health-addr", "", "ops HTTP listen address, e.g. :8081 (env HEALTH_ADDR)")
	rootCmd.PersistentFlags().Bool("tts", true, "send voice replies (env ENABLE_TTS)")

	_ = v.BindPFlag("HEALTH_ADDR", rootCmd.PersistentFlags().Lookup("health-addr"))
	_ = v.BindPFlag("ENABLE_TTS", rootCmd.PersistentFlags().Lookup("tts"))

	rootCmd.AddCommand(runCmd, sayCmd, versionCmd)
}

// loadEnv 读取 .env，缺失时仅告警。
func loadEnv() {
	if err := config.LoadDotEnv(envFile); err != nil {
		slog.Warn("dotenv not loaded, using process environment only", "path", envFile, "error", err)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
