package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/z-tavern/relaybot/internal/model/speech"
)

func TestResolveTTSResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{
			name:  "default voice",
			voice: "",
			want:  []string{"volc.service_type.10029", "seed-tts-2.0"},
		},
		{
			name:  "mega clone voice",
			voice: "S_clone_speaker",
			want:  []string{"volc.megatts.default"},
		},
		{
			name:  "bigtts voice",
			voice: "zh_female_vv_uranus_bigtts",
			want:  []string{"seed-tts-2.0", "volc.service_type.10029"},
		},
		{
			name:  "legacy 1.0 voice",
			voice: "zh_male_organizer",
			want:  []string{"volc.service_type.10029", "seed-tts-2.0"},
		},
	}

	for _, tt := range tests {
		got := resolveTTSResourceCandidates(tt.voice)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSResourceCandidates(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestResolveTTSSpeakerCandidates(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		fallback string
		want     []string
	}{
		{
			name:     "request and fallback",
			request:  "custom-voice",
			fallback: "zh_female_vv_uranus_bigtts",
			want:     []string{"custom-voice", "zh_female_vv_uranus_bigtts"},
		},
		{
			name:     "request empty",
			request:  "",
			fallback: "zh_male_M392_conversation_wvae_bigtts",
			want:     []string{"zh_male_M392_conversation_wvae_bigtts"},
		},
		{
			name:     "duplicates ignored",
			request:  "ZH_voice",
			fallback: "zh_voice",
			want:     []string{"ZH_voice"},
		},
		{
			name:     "nothing configured",
			request:  " ",
			fallback: "",
			want:     nil,
		},
	}

	for _, tt := range tests {
		got := resolveTTSSpeakerCandidates(tt.request, tt.fallback)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSSpeakerCandidates(%q, %q) = %v, want %v", tt.name, tt.request, tt.fallback, got, tt.want)
		}
	}
}

func TestIsResourceMismatchError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "unrelated error", err: fmt.Errorf("some other error"), want: false},
		{
			name: "mismatch substring",
			err:  fmt.Errorf("TTS error: {\"error\":\"resource ID is mismatched with speaker related resource\"}"),
			want: true,
		},
	}

	for _, tc := range cases {
		if got := isResourceMismatchError(tc.err); got != tc.want {
			t.Errorf("%s: isResourceMismatchError(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}

func TestBuildTTSRequestSlowReducesSpeed(t *testing.T) {
	client := NewVolcengineTTSClient(&speechmodel.SpeechConfig{TTSSpeed: 1.0, TTSLanguage: "ru"}, nil)

	req, uid := client.buildTTSRequest(&speechmodel.TTSRequest{SessionID: "chat-1", Text: "привет", Slow: true}, "voice")
	if uid != "chat-1" {
		t.Fatalf("unexpected uid: %q", uid)
	}
	if req.ReqParams.AudioParams.SpeedRatio != 0.8 {
		t.Fatalf("slow flag not applied: %v", req.ReqParams.AudioParams.SpeedRatio)
	}
	if req.ReqParams.Language != "ru" || req.ReqParams.Speaker != "voice" {
		t.Fatalf("unexpected params: %+v", req.ReqParams)
	}
}

// newFakeVolcengine 启动一个 WebSocket 服务，读取一帧请求后按 respond 回写。
func newFakeVolcengine(t *testing.T, respond func(conn *websocket.Conn, req volcengineTTSRequest)) (*httptest.Server, func() http.Header) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var (
		mu   sync.Mutex
		seen http.Header
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = r.Header.Clone()
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		msg, err := DecodeMessage(strings.NewReader(string(data)))
		if err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		var req volcengineTTSRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		respond(conn, req)
	}))
	t.Cleanup(srv.Close)
	return srv, func() http.Header {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg *Message) {
	t.Helper()
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Errorf("encode frame: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Errorf("write frame: %v", err)
	}
}

func TestVolcengineSynthesizeSpeech(t *testing.T) {
	srv, seen := newFakeVolcengine(t, func(conn *websocket.Conn, req volcengineTTSRequest) {
		if req.ReqParams.Text != "привет" {
			t.Errorf("unexpected text: %q", req.ReqParams.Text)
		}

		writeFrame(t, conn, &Message{
			Header:  NewHeader(AudioOnlyServerResponse, PositiveSequenceNumber, NoSerialization, NoCompression),
			Payload: []byte("ID3"),
		})

		body, _ := json.Marshal(map[string]any{
			"reqid": "req-1",
			"code":  3000,
			"data":  base64.StdEncoding.EncodeToString([]byte("-audio")),
		})
		gz, err := CompressPayload(body, GzipCompression)
		if err != nil {
			t.Errorf("compress: %v", err)
			return
		}
		writeFrame(t, conn, &Message{
			Header:   NewHeader(FullServerResponse, NegativeSequenceNumber, JSONSerialization, GzipCompression),
			Sequence: -2,
			Payload:  gz,
		})
	})

	client := NewVolcengineTTSClient(&speechmodel.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		TTSVoice:    "zh_male_organizer",
	}, nil)

	resp, err := client.SynthesizeSpeech(context.Background(), &speechmodel.TTSRequest{SessionID: "s1", Text: "привет"})
	if err != nil {
		t.Fatalf("SynthesizeSpeech err: %v", err)
	}
	if string(resp.AudioData) != "ID3-audio" {
		t.Fatalf("unexpected audio: %q", resp.AudioData)
	}
	if resp.RequestID != "req-1" || resp.SessionID != "s1" || resp.Format != "mp3" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	headers := seen()
	if headers.Get("X-Api-App-Key") != "app" || headers.Get("X-Api-Access-Key") != "token" {
		t.Fatalf("credentials not sent: %v", headers)
	}
	if headers.Get("X-Api-Resource-Id") != "volc.service_type.10029" {
		t.Fatalf("unexpected resource: %q", headers.Get("X-Api-Resource-Id"))
	}
}

func TestVolcengineSynthesizeSpeechErrorFrame(t *testing.T) {
	srv, _ := newFakeVolcengine(t, func(conn *websocket.Conn, _ volcengineTTSRequest) {
		writeFrame(t, conn, &Message{
			Header:    NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
			ErrorCode: 45000001,
			Payload:   []byte(`{"error":"quota exceeded"}`),
		})
	})

	client := NewVolcengineTTSClient(&speechmodel.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		TTSVoice:    "S_clone",
	}, nil)

	_, err := client.SynthesizeSpeech(context.Background(), &speechmodel.TTSRequest{Text: "привет"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") || !strings.Contains(err.Error(), "45000001") {
		t.Fatalf("expected error frame to surface, got %v", err)
	}
}

// stalledVolcengine 读取请求后不再回写，直到测试结束。
func stalledVolcengine(t *testing.T) string {
	t.Helper()
	release := make(chan struct{})
	srv, _ := newFakeVolcengine(t, func(*websocket.Conn, volcengineTTSRequest) {
		<-release
	})
	t.Cleanup(func() { close(release) })
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestVolcengineSynthesizeSpeechHonorsContextDeadline(t *testing.T) {
	client := NewVolcengineTTSClient(&speechmodel.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     stalledVolcengine(t),
		TTSVoice:    "S_clone",
		Timeout:     30,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{Text: "привет"})
	if err == nil {
		t.Fatal("expected error from stalled server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("SynthesizeSpeech took %v with a 200ms context", elapsed)
	}
}

func TestVolcengineSynthesizeSpeechHonorsConfigTimeout(t *testing.T) {
	client := NewVolcengineTTSClient(&speechmodel.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     stalledVolcengine(t),
		TTSVoice:    "S_clone",
		Timeout:     1,
	}, nil)

	start := time.Now()
	_, err := client.SynthesizeSpeech(context.Background(), &speechmodel.TTSRequest{Text: "привет"})
	if err == nil {
		t.Fatal("expected timeout from stalled server")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("SynthesizeSpeech took %v with a 1s timeout", elapsed)
	}
}
