package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classtrack/internal/auth"
	"classtrack/internal/bus"
	"classtrack/internal/energy"
	"classtrack/internal/metrics"
	"classtrack/internal/store"
)

// dashboardAction is the inbound frame from an observer. Only refresh is
// supported.
type dashboardAction struct {
	Action string `json:"action"`
}

type attendanceOutbound struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type powerOutbound struct {
	Type        string  `json:"type"`
	ClassroomID int64   `json:"classroom_id"`
	Watts       float64 `json:"watts"`
	Timestamp   string  `json:"timestamp"`
}

type dataOutbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DashboardHandler serves GET /ws/dashboard and /ws/dashboard/:classroom_id.
// A connection without a classroom id observes every classroom: it joins
// the aggregate group plus each currently-active classroom's group, as a
// snapshot at connect time. Classrooms activated later are not auto-joined.
func (g *Gateway) DashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var classroomID *int64
		if raw := c.Param("classroom_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid classroom id"})
				return
			}
			classroomID = &id
		}

		if g.jwtKey != "" {
			token := auth.TokenFromRequest(c.Request)
			if _, err := auth.Parse(token, g.jwtKey, g.jwtIssuer); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
		}

		conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.logger.Warn("dashboard upgrade failed", zap.Error(err))
			return
		}

		metrics.DashboardConnections.Inc()
		defer metrics.DashboardConnections.Dec()

		ws := newWSConn(conn)
		defer ws.Close()

		sub := g.subscribeDashboard(c.Request.Context(), classroomID)
		defer g.bus.Unsubscribe(sub)

		g.logger.Info("dashboard connected", zap.Any("classroom_id", classroomID))

		g.sendSnapshot(c.Request.Context(), ws, classroomID)

		go g.pump(ws, sub)

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				g.logger.Info("dashboard disconnected", zap.Error(err))
				return
			}
			var action dashboardAction
			if err := json.Unmarshal(payload, &action); err != nil {
				continue
			}
			if action.Action == "refresh" {
				g.sendSnapshot(c.Request.Context(), ws, classroomID)
			}
		}
	}
}

func (g *Gateway) subscribeDashboard(ctx context.Context, classroomID *int64) *bus.Subscription {
	if classroomID != nil {
		return g.bus.Subscribe(bus.Dashboard(*classroomID))
	}
	sub := g.bus.Subscribe(bus.DashboardAll)
	classrooms, err := g.store.ActiveClassrooms(ctx)
	if err != nil {
		g.logger.Error("active classroom listing failed", zap.Error(err))
		return sub
	}
	for _, room := range classrooms {
		g.bus.Join(sub, bus.Dashboard(room.ID))
	}
	return sub
}

// pump forwards bus messages to the connection, each formatted into the
// dashboard outbound encoding. Exits when the subscription closes or the
// connection dies.
func (g *Gateway) pump(ws *wsConn, sub *bus.Subscription) {
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			var err error
			switch msg.Type {
			case "attendance":
				err = ws.WriteJSON(attendanceOutbound{Type: "attendance", Event: msg.Event, Data: msg.Data})
			case "power":
				if pd, isPower := msg.Data.(energy.PowerData); isPower {
					err = ws.WriteJSON(powerOutbound{
						Type:        "power",
						ClassroomID: pd.ClassroomID,
						Watts:       pd.Watts,
						Timestamp:   pd.Timestamp,
					})
				}
			default:
				err = ws.WriteJSON(dataOutbound{Type: msg.Type, Data: msg.Data})
			}
			if err != nil {
				return
			}
		case <-ws.Done():
			return
		}
	}
}

// sendSnapshot pushes initial_data, overlaying the redis power cache on the
// database view. A snapshot failure degrades to an empty payload rather
// than dropping the connection.
func (g *Gateway) sendSnapshot(ctx context.Context, ws *wsConn, classroomID *int64) {
	snap, err := g.store.DashboardSnapshot(ctx, classroomID, time.Now())
	if err != nil {
		g.logger.Error("dashboard snapshot failed", zap.Error(err))
		snap = &store.Snapshot{Classrooms: []store.ClassroomState{}}
	}
	for i := range snap.Classrooms {
		watts, ts, ok := g.energy.LatestCached(ctx, snap.Classrooms[i].ID)
		if !ok {
			continue
		}
		formatted := ts.In(g.loc).Format(time.RFC3339)
		snap.Classrooms[i].CurrentPower = &watts
		snap.Classrooms[i].LastPowerUpdate = &formatted
	}
	_ = ws.WriteJSON(dataOutbound{Type: "initial_data", Data: snap})
}
