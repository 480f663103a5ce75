package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/relaybot/internal/model/speech"
)

const (
	defaultGoogleTTSURL = "https://translate.google.com/translate_tts"
	// googleChunkRunes 单次请求允许的最大字符数
	googleChunkRunes = 100
)

// GoogleTTSClient 调用 Google Translate 的朗读接口，输出 mp3。
type GoogleTTSClient struct {
	config  *speech.SpeechConfig
	baseURL string
	http    *http.Client
}

// NewGoogleTTSClient 创建 Google TTS 客户端，httpClient 为空时按配置超时创建。
func NewGoogleTTSClient(config *speech.SpeechConfig, httpClient *http.Client) *GoogleTTSClient {
	baseURL := strings.TrimSpace(config.GoogleBaseURL)
	if baseURL == "" {
		baseURL = defaultGoogleTTSURL
	}
	if httpClient == nil {
		timeout := time.Duration(config.Timeout) * time.Second
		httpClient = &http.Client{Timeout: timeout}
	}
	return &GoogleTTSClient{config: config, baseURL: baseURL, http: httpClient}
}

// SynthesizeSpeech 按块请求音频并顺序拼接。
func (c *GoogleTTSClient) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	chunks := splitTextChunks(req.Text, googleChunkRunes)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("TTS text is empty")
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	if language == "" {
		language = "ru"
	}

	speed := "1"
	if req.Slow {
		speed = "0.3"
	}

	var audio bytes.Buffer
	for idx, chunk := range chunks {
		data, err := c.fetchChunk(ctx, chunk, language, speed, idx, len(chunks))
		if err != nil {
			return nil, fmt.Errorf("tts chunk %d/%d: %w", idx+1, len(chunks), err)
		}
		audio.Write(data)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &speech.TTSResponse{
		SessionID: sessionID,
		AudioData: audio.Bytes(),
		Format:    "mp3",
		RequestID: uuid.NewString(),
		CreatedAt: time.Now(),
	}, nil
}

func (c *GoogleTTSClient) fetchChunk(ctx context.Context, text, language, speed string, idx, total int) ([]byte, error) {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("q", text)
	query.Set("tl", language)
	query.Set("ttsspeed", speed)
	query.Set("total", strconv.Itoa(total))
	query.Set("idx", strconv.Itoa(idx))
	query.Set("textlen", strconv.Itoa(len([]rune(text))))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio")
	}
	return data, nil
}

// splitTextChunks 将文本切成不超过 limit 个字符的片段，优先在空白或标点处断开。
func splitTextChunks(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	var chunks []string

	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = appendChunk(chunks, runes)
			break
		}

		cut := limit
		for i := limit; i > 0; i-- {
			if isBreakRune(runes[i-1]) {
				cut = i
				break
			}
		}

		chunks = appendChunk(chunks, runes[:cut])
		runes = runes[cut:]
	}
	return chunks
}

func appendChunk(chunks []string, runes []rune) []string {
	if s := strings.TrimSpace(string(runes)); s != "" {
		return append(chunks, s)
	}
	return chunks
}

func isBreakRune(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".,;:!?…", r)
}
