package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/proxy"
	"mercator-hq/webrelay/pkg/proxy/types"
)

// doneMessage ends every response on the socket, mirroring the SSE marker.
const doneMessage = "[DONE]"

const writeWait = 10 * time.Second

// WebSocketHandler serves GET /v1/chat/completions/ws. Each text message
// from the client is a chat completion request; the answer is streamed
// back as chunk messages followed by "[DONE]". Requests on one connection
// are served in order.
type WebSocketHandler struct {
	Dispatcher   *dispatcher.Dispatcher
	MaxBodyBytes int64
	PingInterval time.Duration

	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a websocket handler. Browser origins are
// checked against the CORS allow list.
func NewWebSocketHandler(d *dispatcher.Dispatcher, cfg config.ProxyConfig) *WebSocketHandler {
	origins := cfg.CORS.AllowedOrigins
	return &WebSocketHandler{
		Dispatcher:   d,
		MaxBodyBytes: cfg.MaxBodyBytes,
		PingInterval: cfg.WebSocket.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
			},
		},
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if h.MaxBodyBytes > 0 {
		conn.SetReadLimit(h.MaxBodyBytes)
	}

	// The hijacked connection is no longer tied to the request context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	ws := &wsConn{conn: conn}
	if h.PingInterval > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * h.PingInterval))
		})
		go ws.ping(ctx, h.PingInterval)
	}

	slog.InfoContext(ctx, "websocket connected", "remote_addr", r.RemoteAddr)

	for {
		if h.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * h.PingInterval))
		}
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "websocket read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			if err := ws.Error(types.NewInvalidRequestError("expected a text message", "", types.CodeInvalidJSON)); err != nil {
				return
			}
			_ = ws.Done()
			continue
		}

		if err := h.serve(ctx, ws, msg); err != nil {
			slog.WarnContext(ctx, "websocket write failed", "error", err)
			return
		}
	}
}

// serve answers one request. Only write errors are returned; request and
// backend failures are reported to the client as error objects.
func (h *WebSocketHandler) serve(ctx context.Context, ws *wsConn, msg []byte) error {
	req, err := proxy.DecodeChatCompletionRequest(msg)
	if err != nil {
		return ws.Fail(err)
	}
	creq, err := proxy.ToCanonical(req)
	if err != nil {
		return ws.Fail(err)
	}
	creq.Stream = true

	s := h.Dispatcher.Dispatch(ctx, creq)
	defer s.Close()

	first, err := s.Next(ctx)
	if err != nil {
		return ws.Fail(err)
	}
	if first.Kind == canonical.DeltaError {
		return ws.Fail(&dispatcher.FailureError{Kind: first.ErrKind, Status: first.Status, Message: first.Message})
	}

	if _, err := pump(ctx, s, first, proxy.NewChunkFormatter(req.Model), ws); err != nil {
		return err
	}
	return ws.Done()
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) Chunk(chunk *types.ChatCompletionStreamChunk) error { return c.writeJSON(chunk) }
func (c *wsConn) Error(e *types.ErrorResponse) error                 { return c.writeJSON(e) }

// Fail reports err as an error object and ends the response.
func (c *wsConn) Fail(err error) error {
	if werr := c.Error(proxy.HandleError(err)); werr != nil {
		return werr
	}
	return c.Done()
}

func (c *wsConn) Done() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(doneMessage))
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				return
			}
		}
	}
}
