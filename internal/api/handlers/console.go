package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/yourusername/bedrock-server-manager/internal/api/middleware"
	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/events"
	ws "github.com/yourusername/bedrock-server-manager/internal/websocket"
)

// ConsoleHandler serves console history and the live console stream
type ConsoleHandler struct {
	server         ServerControl
	history        *console.RingBuffer
	hub            *ws.Hub
	allowedOrigins []string
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(srv ServerControl, history *console.RingBuffer, hub *ws.Hub, allowedOrigins []string) *ConsoleHandler {
	return &ConsoleHandler{
		server:         srv,
		history:        history,
		hub:            hub,
		allowedOrigins: allowedOrigins,
	}
}

// GetHistory returns buffered console lines, optionally filtered
// GET /api/v1/console/history?lines=100&filter=search&pattern=...
func (h *ConsoleHandler) GetHistory(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("lines", "100"))
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lines must be a non-negative integer"})
		return
	}

	filter, err := console.NewOutputFilter(c.Query("filter"), c.Query("pattern"), c.Query("case_sensitive") == "true")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter: " + err.Error()})
		return
	}

	lines := filter.FilterLines(h.history.GetLast(n))
	if lines == nil {
		lines = []events.ConsoleLine{}
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// HandleWebSocket streams console lines (room=console, default) or
// supervisor and backup events (room=events). Clients in the console room
// may send {"type":"command","payload":"<line>"} when their token allows it.
// GET /api/v1/console/ws
func (h *ConsoleHandler) HandleWebSocket(c *gin.Context) {
	room := c.DefaultQuery("room", ws.RoomConsole)
	if room != ws.RoomConsole && room != ws.RoomEvents {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room must be console or events"})
		return
	}

	upgrader := gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), h.allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Console] Failed to upgrade WebSocket: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	canOperate := middleware.CanOperate(c)
	client := &ws.Client{
		ID:       uuid.New().String(),
		Operator: middleware.Operator(c),
		Conn:     conn,
		Room:     room,
		Send:     make(chan *ws.Message, 1024),
		Hub:      h.hub,
		OnMessage: func(client *ws.Client, msg ws.InboundMessage) {
			h.handleClientMessage(client, msg, canOperate)
		},
	}

	if err := h.hub.Join(client); err != nil {
		conn.Close()
		return
	}

	if room == ws.RoomConsole {
		for _, line := range h.history.GetLines() {
			if err := client.SendMessage(ws.TypeConsoleLine, line); err != nil {
				break
			}
		}
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *ConsoleHandler) handleClientMessage(client *ws.Client, msg ws.InboundMessage, canOperate bool) {
	if msg.Type != ws.TypeCommand {
		client.SendMessage(ws.TypeError, "unsupported message type: "+msg.Type)
		return
	}
	if client.Room != ws.RoomConsole || !canOperate {
		client.SendMessage(ws.TypeError, "commands require the operate scope on the console stream")
		return
	}

	var command string
	if err := json.Unmarshal(msg.Payload, &command); err != nil {
		client.SendMessage(ws.TypeError, "command payload must be a string")
		return
	}
	command = strings.TrimSpace(command)
	if command == "" || strings.ContainsAny(command, "\r\n") {
		client.SendMessage(ws.TypeError, "command must be a single non-empty line")
		return
	}
	if !h.server.Running() {
		client.SendMessage(ws.TypeError, "server is not running")
		return
	}

	log.Printf("[Console] %s sent command via websocket", client.Operator)
	if err := h.server.Send(command); err != nil {
		client.SendMessage(ws.TypeError, err.Error())
	}
}
