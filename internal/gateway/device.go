package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classtrack/internal/bus"
	"classtrack/internal/energy"
	"classtrack/internal/metrics"
	"classtrack/internal/model"
	"classtrack/internal/session"
	"classtrack/internal/store"
)

// CloseDeviceAuthFailed is sent when a device connection is rejected:
// unknown classroom, inactive classroom, or token mismatch. Distinct from
// generic close codes so firmware can stop retrying a bad token.
const CloseDeviceAuthFailed = 4003

// deviceMessage is the inbound device frame. Any combination of the
// optional fields may be present.
type deviceMessage struct {
	DeviceID  string   `json:"device_id"`
	RFIDUID   string   `json:"rfid_uid,omitempty"`
	Power     *float64 `json:"power,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// ack is the synchronous per-message reply to a device.
type ack struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Gateway terminates device and dashboard WebSocket connections.
type Gateway struct {
	store     store.Store
	sessions  *session.Service
	energy    *energy.Service
	bus       *bus.Bus
	loc       *time.Location
	jwtKey    string
	jwtIssuer string
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// New creates the gateway. jwtKey may be empty; dashboard connections are
// then accepted without a token (authentication delegated externally).
func New(st store.Store, sessions *session.Service, en *energy.Service, b *bus.Bus,
	loc *time.Location, jwtKey, jwtIssuer, allowedOrigin string, logger *zap.Logger) *Gateway {
	return &Gateway{
		store:     st,
		sessions:  sessions,
		energy:    en,
		bus:       b,
		loc:       loc,
		jwtKey:    jwtKey,
		jwtIssuer: jwtIssuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		logger: logger,
	}
}

// DeviceHandler serves GET /ws/device/:classroom_id?token=...
// One long-lived connection per physical device; inbound frames are
// processed strictly in arrival order.
func (g *Gateway) DeviceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		classroomID, err := strconv.ParseInt(c.Param("classroom_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid classroom id"})
			return
		}
		token := c.Query("token")

		conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.logger.Warn("device upgrade failed", zap.Int64("classroom_id", classroomID), zap.Error(err))
			return
		}

		classroom, reason := g.verifyDevice(c, classroomID, token)
		if classroom == nil {
			g.logger.Warn("device rejected",
				zap.Int64("classroom_id", classroomID), zap.String("reason", reason))
			msg := websocket.FormatCloseMessage(CloseDeviceAuthFailed, reason)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}

		logger := g.logger.With(zap.Int64("classroom_id", classroom.ID))
		logger.Info("device connected")
		metrics.DeviceConnections.Inc()
		defer metrics.DeviceConnections.Dec()

		ws := newWSConn(conn)
		defer ws.Close()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				logger.Info("device disconnected", zap.Error(err))
				return
			}
			g.handleDeviceFrame(c, ws, *classroom, payload, logger)
		}
	}
}

func (g *Gateway) verifyDevice(c *gin.Context, classroomID int64, token string) (*model.Classroom, string) {
	classroom, err := g.store.ClassroomByID(c.Request.Context(), classroomID)
	if err != nil {
		return nil, "classroom lookup failed"
	}
	if classroom == nil {
		return nil, "classroom does not exist"
	}
	if !classroom.IsActive {
		return nil, "classroom is not active"
	}
	if classroom.DeviceToken != token {
		return nil, "token mismatch"
	}
	return classroom, ""
}

// handleDeviceFrame decodes one inbound frame, routes its RFID and power
// fields, and always acknowledges with the gateway's current time so the
// device can confirm delivery independent of server-side processing.
func (g *Gateway) handleDeviceFrame(c *gin.Context, ws *wsConn, classroom model.Classroom, payload []byte, logger *zap.Logger) {
	now := time.Now()

	var msg deviceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		_ = ws.WriteJSON(ack{Status: "error", Message: "Invalid JSON"})
		return
	}

	ts := parseTimestamp(msg.Timestamp, now)

	if msg.RFIDUID != "" {
		evt := g.sessions.RecordScan(c.Request.Context(), classroom, msg.RFIDUID, ts)
		g.bus.Publish(bus.Dashboard(classroom.ID), bus.Message{
			Type:  "attendance",
			Event: string(evt.Kind),
			Data:  evt.Data,
		})
	}

	if msg.Power != nil {
		pd, err := g.energy.Record(c.Request.Context(), classroom.ID, *msg.Power, ts)
		if err != nil {
			logger.Error("energy append failed", zap.Error(err))
		} else {
			g.bus.Publish(bus.Dashboard(classroom.ID), bus.Message{Type: "power", Data: pd})
		}
	}

	_ = ws.WriteJSON(ack{Status: "ok", Timestamp: now.In(g.loc).Format(time.RFC3339)})
}
