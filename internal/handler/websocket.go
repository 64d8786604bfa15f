package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"edge-proxy/internal/metrics"
	"edge-proxy/internal/service"
)

const closeGracePeriod = time.Second

// Relay completes the client side of a WebSocket upgrade and pumps frames
// between the client and an already-open upstream connection.
type Relay struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRelay creates a Relay. The metrics parameter is optional.
func NewRelay(logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Any page may open sockets through the proxy, matching the
			// permissive CORS policy on plain requests.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "websocket_relay"),
		metrics: m,
	}
}

// Serve upgrades the client connection and relays until either side closes.
// The upstream connection is always closed on return.
func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, upstream *service.UpstreamSocket) error {
	defer func() { _ = upstream.Conn.Close() }()

	client, err := r.upgrader.Upgrade(w, req, upstream.Header)
	if err != nil {
		// The upgrader has already answered the client with an HTTP error.
		return fmt.Errorf("client upgrade: %w", err)
	}
	defer func() { _ = client.Close() }()

	if r.metrics != nil {
		r.metrics.WebSocketsActive.Inc()
		defer r.metrics.WebSocketsActive.Dec()
	}

	r.logger.Debug("websocket relay open", "subprotocol", client.Subprotocol())

	errc := make(chan error, 2)
	go pump(upstream.Conn, client, errc)
	go pump(client, upstream.Conn, errc)

	// The first side to finish ends the relay; the deferred closes unblock the other.
	return <-errc
}

// pump copies messages from src to dst one frame at a time without
// buffering whole messages, forwarding the close frame when src ends.
func pump(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, r, err := src.NextReader()
		if err != nil {
			forwardClose(dst, err)
			errc <- err
			return
		}
		w, err := dst.NextWriter(mt)
		if err != nil {
			errc <- err
			return
		}
		if _, err := io.Copy(w, r); err != nil {
			errc <- err
			return
		}
		if err := w.Close(); err != nil {
			errc <- err
			return
		}
	}
}

// forwardClose mirrors a close received from one side onto the other.
func forwardClose(dst *websocket.Conn, err error) {
	code := websocket.CloseNormalClosure
	text := ""
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, text = ce.Code, ce.Text
	}
	switch code {
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		// Reserved codes that must not appear on the wire.
		code = websocket.CloseNoStatusReceived
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = dst.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
}
