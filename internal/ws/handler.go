// Package ws serves display and control sessions over WebSocket.
package ws

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/statusboard/internal/hub"
)

// Config holds transport settings.
type Config struct {
	// AllowedOrigins limits browser Origin values. Empty accepts any.
	AllowedOrigins []string
	SendBuffer     int
	ReadLimit      int64
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:   64,
		ReadLimit:    4 << 20,
		PingInterval: 25 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Dispatcher receives session lifecycle and inbound frames.
type Dispatcher interface {
	Connect(s *hub.Session) error
	Dispatch(s *hub.Session, raw []byte) error
}

// Registry forgets sessions once their connection is gone.
type Registry interface {
	Remove(s *hub.Session)
}

// Handler upgrades HTTP requests and runs one reader and one writer per
// connection.
type Handler struct {
	cfg        Config
	upgrader   websocket.Upgrader
	dispatcher Dispatcher
	registry   Registry
	logger     zerolog.Logger
}

// NewHandler creates the websocket endpoint.
func NewHandler(cfg Config, d Dispatcher, reg Registry, logger zerolog.Logger) *Handler {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	h := &Handler{
		cfg:        cfg,
		dispatcher: d,
		registry:   reg,
		logger:     logger.With().Str("component", "ws").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Str("remote", r.RemoteAddr).Msg("websocket origin rejected")
	return false
}

// ServeHTTP upgrades the connection and serves the session until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sess := hub.NewSession(r.RemoteAddr, h.cfg.SendBuffer)
	log := h.logger.With().Str("session", sess.ID).Logger()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, sess, log)
	}()

	if err := h.dispatcher.Connect(sess); err != nil {
		log.Warn().Err(err).Msg("session rejected")
		sess.Close()
		<-writerDone
		return
	}

	h.readPump(conn, sess, log)

	sess.Close()
	h.registry.Remove(sess)
	<-writerDone
}

func (h *Handler) pongWait() time.Duration {
	return 2 * h.cfg.PingInterval
}

func (h *Handler) readPump(conn *websocket.Conn, sess *hub.Session, log zerolog.Logger) {
	conn.SetReadLimit(h.cfg.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongWait()))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.Debug().Err(err).Msg("session read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		// Dispatch answers bad frames itself; the session stays open.
		_ = h.dispatcher.Dispatch(sess, data)
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sess *hub.Session, log zerolog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Msg("session write failed")
				sess.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}
