package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	speechmodel "github.com/zhouzirui/z-tavern/relaybot/internal/model/speech"
)

// ErrMissingSecret 表示必需的凭证未配置，进程应在进入轮询前退出。
var ErrMissingSecret = errors.New("required secret is not set")

const (
	ProviderOpenRouter = "openrouter"
	ProviderArk        = "ark"

	SpeechProviderGoogle     = "google"
	SpeechProviderVolcengine = "volcengine"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Telegram   TelegramConfig
	Completion CompletionConfig
	Dialog     DialogConfig
	Speech     SpeechConfig
	Server     ServerConfig
	Transcript TranscriptConfig
	Log        LogConfig
}

// LoadDotEnv 加载 .env 文件；path 为空时读取当前目录下的 .env。
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return godotenv.Load()
	}
	return godotenv.Load(path)
}

// Load 从 viper 读取配置（命令行 flag > 环境变量 > 默认值）。
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()

	telegram, err := loadTelegramConfig(v)
	if err != nil {
		return nil, err
	}

	completion, err := loadCompletionConfig(v)
	if err != nil {
		return nil, err
	}

	dialog, err := loadDialogConfig(v)
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig(v)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig(v)
	if err != nil {
		return nil, err
	}

	return &Config{
		Telegram:   telegram,
		Completion: completion,
		Dialog:     dialog,
		Speech:     speech,
		Server:     ServerConfig{HealthAddr: normalizeAddr(getOrDefault(v, "HEALTH_ADDR", ""))},
		Transcript: TranscriptConfig{DatabaseURL: getOrDefault(v, "DATABASE_URL", "")},
		Log:        logCfg,
	}, nil
}

// LoadSpeech 只读取语音配置，供不需要 Bot 凭证的工具命令使用。
func LoadSpeech(v *viper.Viper) (SpeechConfig, error) {
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()
	return loadSpeechConfig(v)
}

// TelegramConfig 描述 Bot API 连接参数。
type TelegramConfig struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
	RetryDelay  time.Duration
}

func loadTelegramConfig(v *viper.Viper) (TelegramConfig, error) {
	token := getOrDefault(v, "TELEGRAM_BOT_TOKEN", "")
	if token == "" {
		return TelegramConfig{}, fmt.Errorf("%w: TELEGRAM_BOT_TOKEN", ErrMissingSecret)
	}

	pollTimeout, err := parseDuration(v, "TELEGRAM_POLL_TIMEOUT", 20*time.Second)
	if err != nil {
		return TelegramConfig{}, err
	}

	retryDelay, err := parseDuration(v, "POLL_RETRY_DELAY", 5*time.Second)
	if err != nil {
		return TelegramConfig{}, err
	}

	return TelegramConfig{
		Token:       token,
		APIURL:      strings.TrimRight(getOrDefault(v, "TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
		PollTimeout: pollTimeout,
		RetryDelay:  retryDelay,
	}, nil
}

// CompletionConfig 描述补全服务配置。
type CompletionConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	Ark      AIConfig
}

func loadCompletionConfig(v *viper.Viper) (CompletionConfig, error) {
	provider := strings.ToLower(getOrDefault(v, "COMPLETION_PROVIDER", ProviderOpenRouter))

	timeout, err := parseDuration(v, "COMPLETION_TIMEOUT", 0)
	if err != nil {
		return CompletionConfig{}, err
	}

	cfg := CompletionConfig{
		Provider: provider,
		APIKey:   getOrDefault(v, "API_KEY", ""),
		BaseURL:  getOrDefault(v, "COMPLETION_API_URL", "https://openrouter.ai/api/v1"),
		Model:    getOrDefault(v, "COMPLETION_MODEL", "deepseek/deepseek-chat:free"),
		Timeout:  timeout,
	}

	switch provider {
	case ProviderOpenRouter:
		if cfg.APIKey == "" {
			return CompletionConfig{}, fmt.Errorf("%w: API_KEY", ErrMissingSecret)
		}
	case ProviderArk:
		ai, err := loadAIConfig(v)
		if err != nil {
			return CompletionConfig{}, err
		}
		if !ai.Enabled() {
			return CompletionConfig{}, fmt.Errorf("%w: ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY with ARK_MODEL", ErrMissingSecret)
		}
		cfg.Ark = ai
	default:
		return CompletionConfig{}, fmt.Errorf("invalid COMPLETION_PROVIDER value %q", provider)
	}
	return cfg, nil
}

// AIConfig 描述 Ark 大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: %w", ErrMissingSecret)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

func loadAIConfig(v *viper.Viper) (AIConfig, error) {
	temperature, err := parseOptionalFloat(v, "ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloat(v, "ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalInt(v, "ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      getOrDefault(v, "ARK_API_KEY", ""),
		AccessKey:   getOrDefault(v, "ARK_ACCESS_KEY", ""),
		SecretKey:   getOrDefault(v, "ARK_SECRET_KEY", ""),
		Model:       getOrDefault(v, "ARK_MODEL", ""),
		BaseURL:     getOrDefault(v, "ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getOrDefault(v, "ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// DialogConfig 描述对话控制器的限制。
type DialogConfig struct {
	MaxInputLength int
	ScriptFile     string
}

func loadDialogConfig(v *viper.Viper) (DialogConfig, error) {
	maxInput, err := parsePositiveInt(v, "MAX_USER_INPUT_LENGTH", 2000)
	if err != nil {
		return DialogConfig{}, err
	}
	return DialogConfig{
		MaxInputLength: maxInput,
		ScriptFile:     getOrDefault(v, "SCRIPT_FILE", ""),
	}, nil
}

// SpeechConfig 描述语音合成相关配置。
type SpeechConfig struct {
	Enabled   bool
	Provider  string
	MaxLength int
	Language  string
	Slow      bool
	TempDir   string

	GoogleBaseURL string

	AppID       string
	AccessToken string
	APIKey      string
	BaseURL     string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	Timeout     int
}

// ServiceConfig 转换为语音服务使用的配置。
func (c SpeechConfig) ServiceConfig() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		Provider:      c.Provider,
		GoogleBaseURL: c.GoogleBaseURL,
		AppID:         c.AppID,
		AccessToken:   c.AccessToken,
		APIKey:        c.APIKey,
		BaseURL:       c.BaseURL,
		TTSVoice:      c.TTSVoice,
		TTSSpeed:      c.TTSSpeed,
		TTSVolume:     c.TTSVolume,
		TTSLanguage:   c.Language,
		TTSSlow:       c.Slow,
		Timeout:       c.Timeout,
	}
}

func loadSpeechConfig(v *viper.Viper) (SpeechConfig, error) {
	enabled, err := parseBool(v, "ENABLE_TTS", true)
	if err != nil {
		return SpeechConfig{}, err
	}

	maxLength, err := parsePositiveInt(v, "MAX_TTS_LENGTH", 3000)
	if err != nil {
		return SpeechConfig{}, err
	}

	slow, err := parseBool(v, "TTS_SLOW", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	timeout, err := parseOptionalInt(v, "SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32(v, "SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32(v, "SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	provider := strings.ToLower(getOrDefault(v, "TTS_PROVIDER", SpeechProviderGoogle))

	apiKey := getOrDefault(v, "SPEECH_API_KEY", "")
	accessToken := getOrDefault(v, "SPEECH_ACCESS_TOKEN", apiKey)

	cfg := SpeechConfig{
		Enabled:       enabled,
		Provider:      provider,
		MaxLength:     maxLength,
		Language:      getOrDefault(v, "TTS_LANGUAGE", "ru"),
		Slow:          slow,
		TempDir:       getOrDefault(v, "TTS_TEMP_DIR", ""),
		GoogleBaseURL: getOrDefault(v, "TTS_GOOGLE_URL", ""),
		AppID:         getOrDefault(v, "SPEECH_APP_ID", ""),
		AccessToken:   accessToken,
		APIKey:        apiKey,
		BaseURL:       getOrDefault(v, "SPEECH_BASE_URL", ""),
		TTSVoice:      getOrDefault(v, "SPEECH_TTS_VOICE", ""),
		TTSSpeed:      ttsSpeed,
		TTSVolume:     ttsVolume,
		Timeout:       timeoutSeconds,
	}

	if !enabled {
		return cfg, nil
	}

	switch provider {
	case SpeechProviderGoogle:
	case SpeechProviderVolcengine:
		if cfg.AppID == "" || cfg.AccessToken == "" {
			return SpeechConfig{}, fmt.Errorf("%w: SPEECH_APP_ID and SPEECH_ACCESS_TOKEN", ErrMissingSecret)
		}
		if cfg.TTSVoice == "" {
			return SpeechConfig{}, fmt.Errorf("%w: SPEECH_TTS_VOICE", ErrMissingSecret)
		}
	default:
		return SpeechConfig{}, fmt.Errorf("invalid TTS_PROVIDER value %q", provider)
	}
	return cfg, nil
}

// ServerConfig 描述运维 HTTP 服务配置，HealthAddr 为空表示不启动。
type ServerConfig struct {
	HealthAddr string
}

// TranscriptConfig 描述对话记录存储，DatabaseURL 为空表示不记录。
type TranscriptConfig struct {
	DatabaseURL string
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig(v *viper.Viper) (LogConfig, error) {
	level := strings.ToLower(getOrDefault(v, "LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q", level)
	}

	format := strings.ToLower(getOrDefault(v, "LOG_FORMAT", "text"))
	switch format {
	case "text", "json":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}
	return LogConfig{Level: level, Format: format}, nil
}

// normalizeAddr 允许直接传入端口号 "8081"。
func normalizeAddr(addr string) string {
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return ":" + addr
}

func getOrDefault(v *viper.Viper, key, defaultValue string) string {
	if value := strings.TrimSpace(v.GetString(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(v *viper.Viper, key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parsePositiveInt(v *viper.Viper, key string, defaultValue int) (int, error) {
	val, err := parseOptionalInt(v, key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, strconv.Itoa(*val))
	}
	return *val, nil
}

// parseDuration 接受 Go duration（"5s"）或纯秒数（"5"）。
func parseDuration(v *viper.Viper, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloat(v *viper.Viper, key string) (*float64, error) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalInt(v *viper.Viper, key string) (*int, error) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32(v *viper.Viper, key string) (*float32, error) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
