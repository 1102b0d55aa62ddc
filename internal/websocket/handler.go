package websocket

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trentd187/company-chat/internal/chat"
	"github.com/trentd187/company-chat/internal/logging"
	"github.com/trentd187/company-chat/internal/middleware"
)

// Config tunes every websocket connection.
type Config struct {
	SendBuffer      int           // Frames queued per connection before Send blocks
	MaxMessageBytes int64         // Larger inbound frames close the connection
	RateLimit       float64       // Inbound messages per second
	RateBurst       int           // Inbound burst allowance
	PingInterval    time.Duration // Must be shorter than PongWait
	PongWait        time.Duration // Silence after which the peer is considered gone
	Origins         []string      // Allowed Origin headers; empty or "*" allows all
}

// Handler owns the websocket sessions of the server: it upgrades requests,
// admits each session through the chat lifecycle and pumps frames in both
// directions until either side goes away.
type Handler struct {
	lifecycle *chat.Lifecycle
	cfg       Config
	logger    *zap.Logger

	// mu serializes session registration against Shutdown.
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHandler(lifecycle *chat.Lifecycle, cfg Config, logger *zap.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    logging.OrNop(logger),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Upgrade returns the fiber handler performing the websocket handshake.
// The request must already carry a principal (see middleware.Identify).
func (h *Handler) Upgrade() fiber.Handler {
	wsCfg := websocket.Config{}
	if len(h.cfg.Origins) > 0 && !(len(h.cfg.Origins) == 1 && h.cfg.Origins[0] == "*") {
		wsCfg.Origins = h.cfg.Origins
	}
	return websocket.New(h.serve, wsCfg)
}

// serve runs for the whole life of one connection; the connection is closed
// by the library when it returns.
func (h *Handler) serve(conn *websocket.Conn) {
	if !h.track() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			h.logger.Debug("refuse session during shutdown", zap.Error(err))
		}
		return
	}
	defer h.wg.Done()

	principal, ok := conn.Locals(middleware.LocalPrincipal).(chat.Principal)
	if !ok {
		principal = chat.AnonymousPrincipal
	}

	client := newClient(uuid.NewString(), conn, h.cfg, h.logger)
	finished := make(chan struct{})
	go client.writePump(finished)
	defer func() { <-finished }()

	stop := context.AfterFunc(h.ctx, func() {
		client.shutdown(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	session := h.lifecycle.NewSession(client.id, principal, client)
	if err := session.Admit(h.ctx); err != nil {
		client.logger.Info("connection refused", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		client.shutdown(websocket.ClosePolicyViolation, "admission refused")
		return
	}

	h.readLoop(client, session)

	session.Close()
	client.shutdown(websocket.CloseNormalClosure, "")
}

// readLoop forwards inbound text frames to the session until the connection
// fails, the peer closes it, or the pong deadline passes. Frames over the
// rate limit are dropped.
func (h *Handler) readLoop(client *Client, session *chat.Session) {
	conn := client.conn
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	if err := client.extendReadDeadline(h.cfg.PongWait); err != nil {
		client.logger.Debug("set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return client.extendReadDeadline(h.cfg.PongWait)
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.RateBurst)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			h.logReadError(client, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			client.logger.Debug("rate limit exceeded; dropping message")
			continue
		}
		session.HandleText(h.ctx, data)
	}
}

func (h *Handler) logReadError(client *Client, err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) && !errors.Is(err, io.EOF) && !isExpectedCloseError(err) {
		client.logger.Warn("unexpected websocket close", zap.Error(err))
		return
	}
	client.logger.Debug("connection closed", zap.Error(err))
}

// Shutdown sends a going-away close frame to every connection and waits for
// their handlers to finish, or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers a session with the shutdown wait group. It fails once
// Shutdown has started.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.wg.Add(1)
	return true
}

// isExpectedCloseError reports errors that only mean the socket is already gone.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
