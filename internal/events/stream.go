package events

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GinHandlers contains HTTP handlers for the event stream
type GinHandlers struct {
	bus *Bus
}

// NewGinHandlers creates handlers streaming from the given bus
func NewGinHandlers(bus *Bus) *GinHandlers {
	return &GinHandlers{bus: bus}
}

// StreamHandler upgrades the connection and forwards every bus event as JSON
// until the client goes away.
func (h *GinHandlers) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.With().Str("component", "event_stream").Str("remote", c.ClientIP()).Logger()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		if h.bus == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
			return
		}

		stream, unsub := h.bus.Subscribe(100, AllEvents...)
		defer unsub()

		// Reader goroutine notices the client closing.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		logger.Info().Msg("event stream opened")
		for {
			select {
			case <-closed:
				logger.Info().Msg("event stream closed by client")
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				if err := conn.WriteJSON(env); err != nil {
					logger.Warn().Err(err).Msg("websocket write failed")
					return
				}
			}
		}
	}
}
