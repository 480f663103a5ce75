package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/relaybot/internal/model/speech"
)

const (
	defaultVolcengineTTSURL     = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
	defaultVolcengineTTSTimeout = 30 * time.Second
)

// VolcengineTTSClient 火山引擎TTS WebSocket客户端
type VolcengineTTSClient struct {
	config *speech.SpeechConfig
	dialer *websocket.Dialer
	wsURL  string
	logger *slog.Logger
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speech.SpeechConfig, logger *slog.Logger) *VolcengineTTSClient {
	if logger == nil {
		logger = slog.Default()
	}
	wsURL := strings.TrimSpace(config.BaseURL)
	if wsURL == "" {
		wsURL = defaultVolcengineTTSURL
	}
	return &VolcengineTTSClient{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		wsURL:  wsURL,
		logger: logger.With("provider", ProviderVolcengine),
	}
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// SynthesizeSpeech 依次尝试候选音色与资源 ID，资源不匹配时换下一个。
func (c *VolcengineTTSClient) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.TTSVoice)
	var lastMismatch error

	for _, speaker := range speakers {
		for _, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, attemptErr := c.synthesizeWithResource(ctx, req, appKey, accessKey, speaker, resourceID)
			if attemptErr == nil {
				return resp, nil
			}
			if !isResourceMismatchError(attemptErr) {
				return nil, attemptErr
			}
			c.logger.Warn("speaker resource mismatch", "speaker", speaker, "resource", resourceID, "error", attemptErr)
			lastMismatch = attemptErr
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("TTS synthesis failed: no speaker configured")
}

// deadline 取 SpeechConfig.Timeout 与 ctx 截止时间中较早者。
func (c *VolcengineTTSClient) deadline(ctx context.Context) time.Time {
	timeout := time.Duration(c.config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultVolcengineTTSTimeout
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}

// contextOr 在 ctx 已结束时用 ctx 的错误替换连接错误。
func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *VolcengineTTSClient) synthesizeWithResource(
	ctx context.Context,
	req *speech.TTSRequest,
	appKey, accessKey, speaker, resourceID string,
) (*speech.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()
	// ReadMessage 不感知 ctx，取消时直接关闭连接让读取返回。
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	deadline := c.deadline(ctx)

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debug("tts connected", "logid", logid)
		}
	}

	ttsReq, userUID := c.buildTTSRequest(req, speaker)
	payload, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", contextOr(ctx, err))
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", contextOr(ctx, err))
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		body, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			return nil, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			audio.Write(body)

		case FullServerResponse:
			var serverResp ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &serverResp); err != nil {
					c.logger.Warn("tts payload is not json", "error", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.ReqID != "" {
						reqID = serverResp.ReqID
					}
					if serverResp.Addition.Duration != "" {
						if parsed, err := strconv.ParseInt(serverResp.Addition.Duration, 10, 64); err == nil {
							duration = parsed
						}
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (msg.Header.MessageFlags == WithEvent && msg.EventType == EventTypeSessionFinished) ||
				msg.IsLastPacket() || serverResp.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, fmt.Errorf("TTS audio is empty")
			}
			if reqID == "" {
				reqID = connectID
			}
			return &speech.TTSResponse{
				SessionID: userUID,
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    "mp3",
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			c.logger.Debug("unexpected tts message type", "type", msg.Header.MessageType)
		}
	}
}

// buildTTSRequest 构建符合火山引擎API格式的TTS请求；Slow 映射为 0.8 倍速。
func (c *VolcengineTTSClient) buildTTSRequest(req *speech.TTSRequest, speaker string) (*volcengineTTSRequest, string) {
	ttsReq := &volcengineTTSRequest{}

	userUID := strings.TrimSpace(req.SessionID)
	if userUID == "" {
		userUID = uuid.NewString()
	}
	ttsReq.User.UID = userUID

	ttsReq.ReqParams.Speaker = speaker
	ttsReq.ReqParams.Text = req.Text
	ttsReq.ReqParams.AudioParams.Format = "mp3"
	ttsReq.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if req.Slow && (speed <= 0 || speed > 0.8) {
		speed = 0.8
	}
	if speed > 0 && speed != 1.0 {
		ttsReq.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		ttsReq.ReqParams.AudioParams.VolumeRatio = volume
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	ttsReq.ReqParams.Language = language

	return ttsReq, userUID
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

// resolveTTSSpeakerCandidates 返回去重后的候选音色：请求指定的优先，其次为配置默认值。
func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	for _, s := range []string{requested, fallback} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		duplicate := false
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			candidates = append(candidates, s)
		}
	}
	return candidates
}

func isResourceMismatchError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

// resolveCredentials 返回 AppID 与 AccessToken（缺省回退 APIKey）。
func resolveCredentials(cfg *speech.SpeechConfig) (appID, token string, err error) {
	if cfg == nil {
		return "", "", fmt.Errorf("volcengine speech config is nil")
	}
	appID = strings.TrimSpace(cfg.AppID)
	if token = strings.TrimSpace(cfg.AccessToken); token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", fmt.Errorf("volcengine speech config is missing AppID or AccessToken")
	}
	return appID, token, nil
}
