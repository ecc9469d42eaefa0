package stream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"nuha.dev/tesou/internal/util"
)

const (
	defaultHeartbeatInterval = 60 * time.Second
	defaultQueueSize         = 16
	maxFrameSize             = 128 * 1024
	writeWait                = 10 * time.Second
)

// StreamAuthorizer validates the connection-establishment parameters
// (token, optional user_id) before the websocket handshake completes.
type StreamAuthorizer interface {
	AuthorizeStream(q url.Values) (ok bool, reason string)
}

type HandlerConfig struct {
	// HeartbeatInterval is the ping cadence; a connection that shows no
	// liveness signal for twice this interval is force-closed.
	HeartbeatInterval time.Duration
	// QueueSize bounds the per-connection outbound sink.
	QueueSize int
}

// Handler upgrades authorized requests to websocket sessions subscribed to
// one user's position stream.
type Handler struct {
	handle *Handle
	auth   StreamAuthorizer
	clock  clockwork.Clock
	config HandlerConfig
	logger zerolog.Logger
}

func NewHandler(handle *Handle, auth StreamAuthorizer, clock clockwork.Clock, config HandlerConfig) *Handler {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = defaultHeartbeatInterval
	}
	if config.QueueSize == 0 {
		config.QueueSize = defaultQueueSize
	}
	h := &Handler{handle: handle, auth: auth, clock: clock, config: config}
	h.logger = log.With().Str("module", "websocket").Logger()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if ok, reason := h.auth.AuthorizeStream(q); !ok {
		http.Error(w, reason, http.StatusUnauthorized)
		return
	}
	raw := q.Get("user_id")
	if raw == "" {
		http.Error(w, "no user_id in query", http.StatusBadRequest)
		return
	}
	user, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		http.Error(w, "the user_id must be a number", http.StatusBadRequest)
		return
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Err(err).Msg("Error while upgrading websocket")
		return
	}
	h.session(c, UserId(user))
}

// session runs the per-connection event loop: inbound frames, outbound
// broadcast messages and heartbeat ticks, in arrival order, until the peer
// closes, the transport fails or the liveness clock runs out.
func (h *Handler) session(c *websocket.Conn, user UserId) {
	c.SetReadLimit(maxFrameSize)
	logger := h.logger.With().Str("session", util.GenUUID()).Uint16("user_id", user).Logger()
	logger.Info().Msg("new endpoint connection")

	sub := NewSubscriber(h.config.QueueSize)
	connId := h.handle.Connect(sub, user)
	// deregistration must run on every exit path, including panics
	defer h.handle.Disconnect(connId)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lastBeat := h.clock.Now().UnixNano()
	beat := func() { atomic.StoreInt64(&lastBeat, h.clock.Now().UnixNano()) }

	readErr := make(chan error, 1)
	go h.readLoop(ctx, c, user, beat, readErr, logger)

	timeout := 2 * h.config.HeartbeatInterval
	ticker := h.clock.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	status := websocket.StatusNormalClosure
	reason := ""

loop:
	for {
		select {
		case msg := <-sub.C():
			wctx, wcancel := context.WithTimeout(ctx, writeWait)
			err := c.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				logger.Err(err).Msg("Error while writing to connection")
				break loop
			}
		case err := <-readErr:
			// peer close or transport error; either way the session is over
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				// hand the peer's own status and reason back on close
				status = ce.Code
				reason = ce.Reason
			} else {
				logger.Err(err).Msg("websocket read failed")
			}
			break loop
		case <-ticker.Chan():
			if time.Duration(h.clock.Now().UnixNano()-atomic.LoadInt64(&lastBeat)) > timeout {
				logger.Info().Dur("timeout", timeout).Msg("client has not sent heartbeat, disconnecting")
				status = websocket.StatusGoingAway
				reason = "heartbeat timeout"
				break loop
			}
			go func() {
				pctx, pcancel := context.WithTimeout(ctx, h.config.HeartbeatInterval)
				defer pcancel()
				// a returned Ping means the pong came back
				if err := c.Ping(pctx); err == nil {
					beat()
				}
			}()
		}
	}

	// attempt to close the connection gracefully, best effort
	_ = c.Close(status, reason)
}

func (h *Handler) readLoop(ctx context.Context, c *websocket.Conn, user UserId, beat func(), readErr chan<- error, logger zerolog.Logger) {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}
		// any inbound frame counts as a liveness signal; incoming pings are
		// answered by the websocket library itself
		beat()
		switch typ {
		case websocket.MessageText:
			// application messages are opaque, republished to everyone
			// watching this user
			h.handle.Publish(user, msg)
		case websocket.MessageBinary:
			logger.Warn().Msg("unexpected binary message")
		}
	}
}
