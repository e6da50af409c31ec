package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/proxy/types"
)

func dialTestSocket(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to establish websocket connection: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilDone collects messages up to and excluding "[DONE]".
func readUntilDone(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var msgs []string
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed after %v: %v", msgs, err)
		}
		if string(msg) == doneMessage {
			return msgs
		}
		msgs = append(msgs, string(msg))
	}
}

func testProxyConfig() config.ProxyConfig {
	return config.NewDefault().Proxy
}

func TestWebSocketHandler_StreamsChunks(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("deepseek", "deepseek-chat")
	conn := dialTestSocket(t, NewWebSocketHandler(newTestDispatcher(t, adapter), testProxyConfig()))

	// Two requests on one connection are answered in order.
	for i := 0; i < 2; i++ {
		req := `{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
			t.Fatal(err)
		}

		msgs := readUntilDone(t, conn)
		var content strings.Builder
		for _, m := range msgs {
			var c types.ChatCompletionStreamChunk
			if err := json.Unmarshal([]byte(m), &c); err != nil {
				t.Fatalf("bad chunk %q: %v", m, err)
			}
			content.WriteString(c.Choices[0].Delta.Content)
		}
		if content.String() != "mock response" {
			t.Errorf("request %d: content = %q", i, content.String())
		}
	}
}

func TestWebSocketHandler_Errors(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("deepseek", "deepseek-chat")
	conn := dialTestSocket(t, NewWebSocketHandler(newTestDispatcher(t, adapter), testProxyConfig()))

	tests := []struct {
		name     string
		req      string
		wantCode string
	}{
		{"invalid json", `{`, types.CodeInvalidJSON},
		{"unknown model", `{"model":"gpt-9","messages":[{"role":"user","content":"hi"}]}`, "model_not_supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.req)); err != nil {
				t.Fatal(err)
			}
			msgs := readUntilDone(t, conn)
			if len(msgs) != 1 {
				t.Fatalf("expected one error message, got %v", msgs)
			}
			var resp types.ErrorResponse
			if err := json.Unmarshal([]byte(msgs[0]), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
		})
	}
}
