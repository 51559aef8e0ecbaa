package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"droid/internal/agent/ports"
	"droid/internal/orchestrator"
)

const (
	sseHeartbeat = 15 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
}

// sessionKey resolves the conversation identity: an explicit session wins,
// then the device, then a shared default.
func sessionKey(sessionID, deviceID string) string {
	if sessionID != "" {
		return sessionID
	}
	if deviceID != "" {
		return deviceID
	}
	return "default"
}

// handleChat starts a task and streams its events as SSE until the terminal
// event arrives.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := sessionKey(req.SessionID, req.DeviceID)
	events, err := s.orch.StartTask(c.Request.Context(), key, req.Message)
	if err != nil {
		if errors.Is(err, orchestrator.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{
				"error":      "a task is already running for this session",
				"session_id": key,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := marshalEvent(event)
			if err != nil {
				s.logger.Error("Failed to marshal event for session %s: %v", key, err)
				continue
			}
			c.SSEvent("", string(data))
			c.Writer.Flush()
			if isTerminal(event) {
				// Drain until close so the run goroutine never blocks.
				for range events {
				}
				return
			}

		case <-heartbeat.C:
			c.SSEvent("", "heartbeat")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			// Client went away; the run keeps going and events land in the
			// broadcaster replay buffer. Drain in the background.
			go func() {
				for range events {
				}
			}()
			return
		}
	}
}

func (s *Server) handleCancel(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := sessionKey(req.SessionID, req.DeviceID)
	found := s.orch.CancelTask(key)
	c.JSON(http.StatusOK, gin.H{"session_id": key, "cancelled": found})
}

func (s *Server) handleReset(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := sessionKey(req.SessionID, req.DeviceID)
	if err := s.orch.ResetSession(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": key, "reset": true})
}

func (s *Server) handleDevices(c *gin.Context) {
	devices, err := s.orch.ListDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// handleWebSocket serves the side-channel event feed: recent events replayed
// first, then live events until the client disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	key := sessionKey(c.Query("session_id"), c.Query("device_id"))

	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	feed := s.orch.Broadcaster()
	ch := feed.Subscribe(key)
	defer feed.Unsubscribe(key, ch)

	for _, event := range feed.Recent(key) {
		if err := writeEvent(conn, event); err != nil {
			return
		}
	}

	// Reader goroutine: detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case event := <-ch:
			if err := writeEvent(conn, event); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event ports.AgentEvent) error {
	data, err := marshalEvent(event)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
