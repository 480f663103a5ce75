package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhouzirui/z-tavern/relaybot/internal/model/speech"
)

const (
	ProviderGoogle     = "google"
	ProviderVolcengine = "volcengine"
)

// Synthesizer 将文本转换为音频。
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Service 语音服务：按配置选择具体的合成后端，并补全请求默认值。
type Service struct {
	config   *speech.SpeechConfig
	provider Synthesizer
	logger   *slog.Logger
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig, logger *slog.Logger) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("speech config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "speech")

	var provider Synthesizer
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "", ProviderGoogle:
		provider = NewGoogleTTSClient(config, nil)
	case ProviderVolcengine:
		if _, _, err := resolveCredentials(config); err != nil {
			return nil, err
		}
		provider = NewVolcengineTTSClient(config, logger)
	default:
		return nil, fmt.Errorf("unsupported speech provider %q", config.Provider)
	}

	return &Service{config: config, provider: provider, logger: logger}, nil
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	filled := req.WithDefaults(s.config)

	resp, err := s.provider.SynthesizeSpeech(ctx, &filled)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("speech synthesized", "session", filled.SessionID, "bytes", len(resp.AudioData))
	return resp, nil
}
