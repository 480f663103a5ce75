// Package speech holds the value types shared by the speech synthesis
// backends.
package speech

import (
	"strings"
	"time"
)

// DefaultFormat 机器人只发送 mp3 语音
const DefaultFormat = "mp3"

// SpeechConfig 语音合成后端配置
type SpeechConfig struct {
	Provider string // google | volcengine

	// google translate TTS，留空使用公开地址
	GoogleBaseURL string

	// 火山引擎
	AppID       string
	AccessToken string
	APIKey      string // AccessToken 为空时回退使用
	BaseURL     string // WebSocket 地址，留空使用默认

	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	TTSSlow     bool

	Timeout int // seconds
}

// TTSRequest 一次合成请求。零值字段由 WithDefaults 按配置补全。
type TTSRequest struct {
	SessionID string
	Text      string
	Voice     string
	Speed     float32 // 语速倍率，0 表示使用配置
	Slow      bool
	Volume    float32
	Format    string
	Language  string
}

// WithDefaults returns a copy of r with empty fields taken from cfg.
func (r TTSRequest) WithDefaults(cfg *SpeechConfig) TTSRequest {
	if strings.TrimSpace(r.Format) == "" {
		r.Format = DefaultFormat
	}
	if cfg == nil {
		return r
	}
	if strings.TrimSpace(r.Language) == "" {
		r.Language = strings.TrimSpace(cfg.TTSLanguage)
	}
	if strings.TrimSpace(r.Voice) == "" {
		r.Voice = strings.TrimSpace(cfg.TTSVoice)
	}
	r.Slow = r.Slow || cfg.TTSSlow
	return r
}

// TTSResponse 合成结果，AudioData 为完整音频。
type TTSResponse struct {
	SessionID string
	AudioData []byte
	Duration  int64 // milliseconds, 0 when the backend does not report it
	Format    string
	RequestID string
	CreatedAt time.Time
}
