package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/relaybot/internal/config"
	"github.com/zhouzirui/z-tavern/relaybot/internal/model/chat"
)

const testToken = "123:ABC"

type fakeBotAPI struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *Client) {
	t.Helper()
	fake := &fakeBotAPI{
		requests: make(map[string][]map[string]any),
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)

		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			fake.mu.Lock()
			fake.requests[method] = append(fake.requests[method], body)
			fake.mu.Unlock()
		}

		fake.mu.Lock()
		handler := fake.handlers[method]
		fake.mu.Unlock()
		if handler == nil {
			t.Errorf("no handler for %s", method)
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(config.TelegramConfig{
		Token:       testToken,
		APIURL:      srv.URL,
		PollTimeout: time.Second,
	}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}
	return fake, client
}

func (f *fakeBotAPI) handle(method string, h func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeBotAPI) respond(method, body string) {
	f.handle(method, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeBotAPI) lastRequest(method string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[method]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func TestPollFiltersNonTextAndAdvancesOffset(t *testing.T) {
	fake, client := newFakeBotAPI(t)
	fake.respond("getUpdates", `{"ok":true,"result":[
		{"update_id":10,"message":{"message_id":1,"chat":{"id":42},"from":{"id":7,"first_name":"Анна"},"text":"Привет"}},
		{"update_id":11,"message":{"message_id":2,"chat":{"id":42},"sticker":{"file_id":"x"}}},
		{"update_id":12,"edited_message":{"message_id":1,"chat":{"id":42},"text":"edit"}},
		{"update_id":13,"message":{"message_id":3,"chat":{"id":43},"from":{"id":8,"username":"bob"},"text":"/start"}}
	]}`)

	inbound, next, err := client.Poll(context.Background(), 10)
	if err != nil {
		t.Fatalf("Poll err: %v", err)
	}
	if next != 14 {
		t.Fatalf("next offset = %d, want 14", next)
	}

	want := []chat.Inbound{
		{ChatID: 42, MessageID: 1, Sender: "Анна", Text: "Привет"},
		{ChatID: 43, MessageID: 3, Sender: "@bob", Text: "/start"},
	}
	if len(inbound) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(inbound), len(want), inbound)
	}
	for i := range want {
		if inbound[i] != want[i] {
			t.Fatalf("message %d = %+v, want %+v", i, inbound[i], want[i])
		}
	}

	req := fake.lastRequest("getUpdates")
	if req["offset"] != float64(10) || req["timeout"] != float64(1) {
		t.Fatalf("unexpected getUpdates request: %v", req)
	}
}

func TestPollKeepsOffsetOnError(t *testing.T) {
	fake, client := newFakeBotAPI(t)
	fake.handle("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`)
	})

	_, next, err := client.Poll(context.Background(), 77)
	if next != 77 {
		t.Fatalf("offset changed on error: %d", next)
	}
	if err == nil || !strings.Contains(err.Error(), "getUpdates") {
		t.Fatalf("expected getUpdates error, got %v", err)
	}
}

func TestPollReturnsWhenContextCancelled(t *testing.T) {
	fake, client := newFakeBotAPI(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	fake.handle("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, next, err := client.Poll(ctx, 5)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if next != 5 {
		t.Fatalf("offset changed on cancel: %d", next)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Poll took %v after cancel", elapsed)
	}
}

func TestSendTextWithKeyboard(t *testing.T) {
	fake, client := newFakeBotAPI(t)
	fake.respond("sendMessage", `{"ok":true,"result":{"message_id":555,"chat":{"id":42},"text":"Меню"}}`)

	id, err := client.SendText(context.Background(), 42, "Меню", &chat.Keyboard{Rows: [][]string{
		{"Обычный режим", "Меню"},
		{"Диагностика"},
	}})
	if err != nil {
		t.Fatalf("SendText err: %v", err)
	}
	if id != 555 {
		t.Fatalf("message id = %d", id)
	}

	req := fake.lastRequest("sendMessage")
	if req["chat_id"] != "42" || req["text"] != "Меню" {
		t.Fatalf("unexpected request: %v", req)
	}
	rawMarkup, ok := req["reply_markup"].(string)
	if !ok {
		t.Fatalf("reply_markup missing: %v", req)
	}
	var markup map[string]any
	if err := json.Unmarshal([]byte(rawMarkup), &markup); err != nil {
		t.Fatalf("reply_markup is not json: %v", err)
	}
	if markup["resize_keyboard"] != true {
		t.Fatalf("resize_keyboard not set: %v", markup)
	}
	rows := markup["keyboard"].([]any)
	if len(rows) != 2 || len(rows[0].([]any)) != 2 || len(rows[1].([]any)) != 1 {
		t.Fatalf("unexpected keyboard layout: %v", rows)
	}
	first := rows[0].([]any)[0].(map[string]any)
	if first["text"] != "Обычный режим" {
		t.Fatalf("unexpected first button: %v", first)
	}
}

func TestSendTextWithoutKeyboard(t *testing.T) {
	fake, client := newFakeBotAPI(t)
	fake.respond("sendMessage", `{"ok":true,"result":{"message_id":1}}`)

	if _, err := client.SendText(context.Background(), 1, "hi", nil); err != nil {
		t.Fatalf("SendText err: %v", err)
	}
	if _, ok := fake.lastRequest("sendMessage")["reply_markup"]; ok {
		t.Fatal("reply_markup should be omitted without keyboard")
	}
}

func TestDeleteMessageClassifiesNotFound(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      bool
		wantNotFound bool
	}{
		{name: "deleted", status: http.StatusOK, body: `{"ok":true,"result":true}`},
		{
			name:         "already gone",
			status:       http.StatusBadRequest,
			body:         `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`,
			wantErr:      true,
			wantNotFound: true,
		},
		{
			name:    "forbidden",
			status:  http.StatusForbidden,
			body:    `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, client := newFakeBotAPI(t)
			fake.handle("deleteMessage", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			err := client.DeleteMessage(context.Background(), 42, 9)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, ErrMessageNotFound); got != tt.wantNotFound {
				t.Fatalf("errors.Is(ErrMessageNotFound) = %v, want %v (%v)", got, tt.wantNotFound, err)
			}
			req := fake.lastRequest("deleteMessage")
			if req["chat_id"] != "42" || req["message_id"] != "9" {
				t.Fatalf("unexpected request: %v", req)
			}
		})
	}
}

func TestSendVoiceUploadsMultipart(t *testing.T) {
	fake, client := newFakeBotAPI(t)

	type upload struct {
		chatID string
		data   string
	}
	uploads := make(chan upload, 1)
	fake.handle("sendVoice", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		file, _, err := r.FormFile("voice")
		if err != nil {
			t.Errorf("voice field: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		uploads <- upload{chatID: r.FormValue("chat_id"), data: string(data)}
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":3,"chat":{"id":42}}}`)
	})

	path := filepath.Join(t.TempDir(), "tts_42_1.mp3")
	if err := os.WriteFile(path, []byte("ID3audio"), 0o600); err != nil {
		t.Fatalf("WriteFile err: %v", err)
	}

	if err := client.SendVoice(context.Background(), 42, path); err != nil {
		t.Fatalf("SendVoice err: %v", err)
	}

	got := <-uploads
	if got.chatID != "42" || got.data != "ID3audio" {
		t.Fatalf("unexpected upload: %+v", got)
	}
}

func TestSendVoiceMissingFile(t *testing.T) {
	_, client := newFakeBotAPI(t)
	if err := client.SendVoice(context.Background(), 1, filepath.Join(t.TempDir(), "missing.mp3")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGetMe(t *testing.T) {
	fake, client := newFakeBotAPI(t)
	fake.respond("getMe", `{"ok":true,"result":{"id":1,"is_bot":true,"username":"relay_bot","first_name":"Relay"}}`)

	me, err := client.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe err: %v", err)
	}
	if me.Username != "relay_bot" || !me.IsBot {
		t.Fatalf("unexpected user: %+v", me)
	}
}

func TestNetworkErrorDoesNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(config.TelegramConfig{Token: testToken, APIURL: url, PollTimeout: time.Second}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}
	_, err = client.GetMe(context.Background())
	if err == nil {
		t.Fatal("expected network error")
	}
	if strings.Contains(err.Error(), testToken) {
		t.Fatalf("token leaked in error: %v", err)
	}
}
