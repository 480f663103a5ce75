package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/relaybot/internal/config"
	speechmodel "github.com/zhouzirui/z-tavern/relaybot/internal/model/speech"
	"github.com/zhouzirui/z-tavern/relaybot/internal/service/speech"
)

var (
	sayText     string
	sayOut      string
	sayLanguage string
	sayVoice    string
	saySlow     bool
	sayTimeout  time.Duration
)

var sayCmd = &cobra.Command{
	Use:   "say",
	Short: "Synthesize one phrase with the configured speech provider",
	Long: `Synthesize text with the configured TTS provider and write the mp3 to a file.
Useful to check speech credentials without starting the bot.

Examples:
  relaybot say --text "Привет" --out hello.mp3
  TTS_PROVIDER=volcengine relaybot say --text "你好" --voice zh_female_qingxin`,
	Args: cobra.NoArgs,
	RunE: runSay,
}

func init() {
	sayCmd.Flags().StringVar(&sayText, "text", "", "text to synthesize (required)")
	sayCmd.Flags().StringVarP(&sayOut, "out", "o", "", "output file (default: tts-output-<unix>.mp3)")
	sayCmd.Flags().StringVar(&sayLanguage, "lang", "", "language tag (default: TTS_LANGUAGE)")
	sayCmd.Flags().StringVar(&sayVoice, "voice", "", "voice id for volcengine (default: SPEECH_TTS_VOICE)")
	sayCmd.Flags().BoolVar(&saySlow, "slow", false, "slow speech")
	sayCmd.Flags().DurationVar(&sayTimeout, "timeout", 45*time.Second, "request timeout")
	_ = sayCmd.MarkFlagRequired("text")
}

func runSay(cmd *cobra.Command, _ []string) error {
	loadEnv()

	if strings.TrimSpace(sayText) == "" {
		return fmt.Errorf("--text is empty")
	}

	cfg, err := config.LoadSpeech(v)
	if err != nil {
		return fmt.Errorf("load speech configuration: %w", err)
	}
	if sayLanguage != "" {
		cfg.Language = sayLanguage
	}
	if saySlow {
		cfg.Slow = true
	}

	logger := slog.Default()
	svc, err := speech.NewService(cfg.ServiceConfig(), logger)
	if err != nil {
		return fmt.Errorf("init speech service: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sayTimeout)
	defer cancel()

	sessionID := "say-" + uuid.NewString()
	logger.Info("synthesizing", "session", sessionID, "provider", cfg.Provider, "language", cfg.Language)

	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      sayText,
		Voice:     sayVoice,
		Language:  cfg.Language,
		Slow:      cfg.Slow,
		Format:    "mp3",
	})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	out := sayOut
	if out == "" {
		out = fmt.Sprintf("tts-output-%d.mp3", time.Now().Unix())
	}
	if err := os.WriteFile(out, resp.AudioData, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(resp.AudioData))
	return nil
}
