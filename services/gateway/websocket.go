package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/signals"
)

// StreamEvent is one message pushed to an execution stream client.
// Type is "status" for lifecycle changes and "verdict" when the run
// publishes its trade verdict.
type StreamEvent struct {
	Type        string                   `json:"type"`
	ExecutionID string                   `json:"executionId"`
	Status      pipeline.ExecutionStatus `json:"status,omitempty"`
	Verdict     *signals.Verdict         `json:"verdict,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	// 4KB buffers; stream events are small JSON documents
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// handleExecutionStream upgrades to a websocket and pushes status and
// verdict events for one execution until it reaches a terminal state.
func (s *Server) handleExecutionStream(c *gin.Context) {
	id := c.Param("id")

	state, err := s.engine.ExecutionContext(id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "verdict streaming is not configured"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	wsClients.Inc()
	defer wsClients.Dec()
	s.logger.Info("execution stream client connected", slog.String("execution_id", id))

	// Verdicts are published under the pipeline state id the run carries.
	verdicts, cancel := s.hub.Subscribe(state.ID)
	defer cancel()

	// We never expect client messages, but reads are how close frames
	// surface.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	status, err := s.engine.ExecutionStatus(id)
	if err != nil {
		return
	}
	if err := sendJSON(ws, StreamEvent{Type: "status", ExecutionID: id, Status: status}); err != nil {
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			s.logger.Info("execution stream client disconnected", slog.String("execution_id", id))
			return
		case v := <-verdicts:
			if err := sendJSON(ws, StreamEvent{Type: "verdict", ExecutionID: id, Verdict: v}); err != nil {
				return
			}
		case <-ticker.C:
			current, err := s.engine.ExecutionStatus(id)
			if err != nil {
				return
			}
			if current != status {
				status = current
				if err := sendJSON(ws, StreamEvent{Type: "status", ExecutionID: id, Status: status}); err != nil {
					return
				}
			}
			if current.Terminal() {
				// Flush a verdict that was published before we noticed
				// the run finish.
				select {
				case v := <-verdicts:
					_ = sendJSON(ws, StreamEvent{Type: "verdict", ExecutionID: id, Verdict: v})
				default:
				}
				return
			}
		}
	}
}
