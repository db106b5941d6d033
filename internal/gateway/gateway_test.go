package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classtrack/internal/bus"
	"classtrack/internal/energy"
	"classtrack/internal/gateway"
	"classtrack/internal/model"
	"classtrack/internal/session"
	"classtrack/internal/store/memory"
)

type noopTimers struct{}

func (noopTimers) Arm(model.AttendanceSession) {}

type env struct {
	srv   *httptest.Server
	store *memory.Store
	room  model.Classroom
}

// newEnv wires the gateway against the in-memory store behind a real HTTP
// server, with a teacher tagged A1B2 scheduled Monday 08:00-09:00.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New(time.UTC)
	tag := "A1B2"
	teacher := st.AddTeacher(model.Teacher{Name: "Alice Cruz", RFIDUID: &tag, IsActive: true})
	room := st.AddClassroom(model.Classroom{Name: "Room 5", DeviceToken: "secret", IsActive: true})
	st.AddSchedule(model.ScheduleEntry{
		TeacherID: teacher.ID,
		Classroom: room.ID,
		Weekday:   time.Monday,
		Start:     model.ClockTime{Hour: 8},
		End:       model.ClockTime{Hour: 9},
		Subject:   "Mathematics",
	})

	logger := zap.NewNop()
	fanout := bus.New(logger)
	sessions := session.NewService(st, noopTimers{}, time.UTC, 15*time.Minute, logger)
	en := energy.NewService(st, nil, logger)
	gw := gateway.New(st, sessions, en, fanout, time.UTC, "", "", "*", logger)

	r := gin.New()
	r.GET("/ws/device/:classroom_id", gw.DeviceHandler())
	r.GET("/ws/dashboard", gw.DashboardHandler())
	r.GET("/ws/dashboard/:classroom_id", gw.DashboardHandler())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{srv: srv, store: st, room: room}
}

func (e *env) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *env) dialDevice(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	return e.dial(t, fmt.Sprintf("/ws/device/%d?token=%s", e.room.ID, token))
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDevice_BadTokenClosedWithAuthCode(t *testing.T) {
	e := newEnv(t)
	conn := e.dialDevice(t, "wrong")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, gateway.CloseDeviceAuthFailed) {
		t.Fatalf("expected close %d, got %v", gateway.CloseDeviceAuthFailed, err)
	}
}

func TestDevice_UnknownClassroomClosedWithAuthCode(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "/ws/device/999?token=secret")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, gateway.CloseDeviceAuthFailed) {
		t.Fatalf("expected close %d, got %v", gateway.CloseDeviceAuthFailed, err)
	}
}

func TestDevice_ScanReachesDashboard(t *testing.T) {
	e := newEnv(t)

	dash := e.dial(t, fmt.Sprintf("/ws/dashboard/%d", e.room.ID))
	if first := readJSON(t, dash); first["type"] != "initial_data" {
		t.Fatalf("expected initial_data first, got %v", first["type"])
	}

	device := e.dialDevice(t, "secret")
	writeJSON(t, device, map[string]any{
		"device_id": "esp32-01",
		"rfid_uid":  "A1B2",
		"timestamp": "2026-01-05T08:10:00Z", // Monday, inside the schedule
	})

	reply := readJSON(t, device)
	if reply["status"] != "ok" {
		t.Fatalf("expected ok ack, got %v", reply)
	}

	evt := readJSON(t, dash)
	if evt["type"] != "attendance" || evt["event"] != string(session.EventIn) {
		t.Fatalf("expected attendance_in broadcast, got %v", evt)
	}
	data, _ := evt["data"].(map[string]any)
	if data["teacher"] != "Alice Cruz" || data["time"] != "08:10" {
		t.Fatalf("unexpected payload: %v", data)
	}
}

func TestDevice_InvalidJSONGetsErrorAck(t *testing.T) {
	e := newEnv(t)
	device := e.dialDevice(t, "secret")

	if err := device.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	reply := readJSON(t, device)
	if reply["status"] != "error" || reply["message"] != "Invalid JSON" {
		t.Fatalf("expected error ack, got %v", reply)
	}

	// The connection survives a bad frame.
	writeJSON(t, device, map[string]any{"device_id": "esp32-01"})
	if reply := readJSON(t, device); reply["status"] != "ok" {
		t.Fatalf("expected ok ack after recovery, got %v", reply)
	}
}

func TestDevice_UnknownTagBroadcastsError(t *testing.T) {
	e := newEnv(t)

	dash := e.dial(t, fmt.Sprintf("/ws/dashboard/%d", e.room.ID))
	readJSON(t, dash) // initial_data

	device := e.dialDevice(t, "secret")
	writeJSON(t, device, map[string]any{"rfid_uid": "FFFF"})
	if reply := readJSON(t, device); reply["status"] != "ok" {
		t.Fatalf("unknown tag must still ack ok, got %v", reply)
	}

	evt := readJSON(t, dash)
	if evt["event"] != string(session.EventError) {
		t.Fatalf("expected attendance_error, got %v", evt)
	}
	data, _ := evt["data"].(map[string]any)
	if data["rfid_uid"] != "FFFF" {
		t.Fatalf("error payload must echo the tag, got %v", data)
	}
}

func TestDevice_PowerReachesDashboard(t *testing.T) {
	e := newEnv(t)

	dash := e.dial(t, "/ws/dashboard") // all-classrooms view
	readJSON(t, dash)                  // initial_data

	device := e.dialDevice(t, "secret")
	writeJSON(t, device, map[string]any{"device_id": "esp32-01", "power": 142.5})
	if reply := readJSON(t, device); reply["status"] != "ok" {
		t.Fatalf("expected ok ack, got %v", reply)
	}

	evt := readJSON(t, dash)
	if evt["type"] != "power" {
		t.Fatalf("expected power broadcast, got %v", evt)
	}
	if evt["watts"] != 142.5 || evt["classroom_id"] != float64(e.room.ID) {
		t.Fatalf("unexpected power payload: %v", evt)
	}

	reading, err := e.store.LatestReading(context.Background(), e.room.ID)
	if err != nil || reading == nil || reading.Watts != 142.5 {
		t.Fatalf("reading not persisted: %v %v", reading, err)
	}
}

func TestDashboard_RefreshResendsSnapshot(t *testing.T) {
	e := newEnv(t)
	dash := e.dial(t, fmt.Sprintf("/ws/dashboard/%d", e.room.ID))
	readJSON(t, dash)

	writeJSON(t, dash, map[string]string{"action": "refresh"})
	snap := readJSON(t, dash)
	if snap["type"] != "initial_data" {
		t.Fatalf("refresh must resend initial_data, got %v", snap["type"])
	}

	raw, _ := json.Marshal(snap["data"])
	var payload struct {
		Classrooms []struct {
			Name string `json:"name"`
		} `json:"classrooms"`
		Stats map[string]any `json:"stats"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Classrooms) != 1 || payload.Classrooms[0].Name != "Room 5" {
		t.Fatalf("snapshot missing classroom: %+v", payload)
	}
}

func TestDashboard_UnknownActionIgnored(t *testing.T) {
	e := newEnv(t)
	dash := e.dial(t, fmt.Sprintf("/ws/dashboard/%d", e.room.ID))
	readJSON(t, dash)

	writeJSON(t, dash, map[string]string{"action": "reboot"})

	_ = dash.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := dash.ReadMessage(); err == nil {
		t.Fatal("unknown action must not produce a reply")
	}
}
