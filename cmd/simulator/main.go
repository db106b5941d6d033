// Simulator stands in for a classroom device during development: it opens
// the device WebSocket, replays RFID scans, and reports a jittered power
// reading on an interval, printing every acknowledgment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classtrack/internal/logging"
)

type deviceMessage struct {
	DeviceID  string   `json:"device_id"`
	RFIDUID   string   `json:"rfid_uid,omitempty"`
	Power     *float64 `json:"power,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

func main() {
	var (
		server        = flag.String("server", "ws://localhost:8080", "server base URL")
		classroomID   = flag.Int64("classroom", 1, "classroom id to connect as")
		token         = flag.String("token", "", "device token for the classroom")
		deviceID      = flag.String("device", "sim-device-1", "device id to report")
		tags          = flag.String("tags", "", "comma-separated RFID tags to scan, one per scan interval")
		scanEvery     = flag.Duration("scan-every", 10*time.Second, "delay between scans")
		powerEvery    = flag.Duration("power-every", 60*time.Second, "power reporting interval")
		baseWatts     = flag.Float64("watts", 240, "base power reading")
		sendTimestamp = flag.Bool("send-timestamp", true, "include a timestamp field")
	)
	flag.Parse()

	logger, err := logging.NewLogger("classtrack-simulator", "dev")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*server, *classroomID, *token, *deviceID, *tags,
		*scanEvery, *powerEvery, *baseWatts, *sendTimestamp, logger); err != nil {
		logger.Fatal("simulator failed", zap.Error(err))
	}
}

func run(server string, classroomID int64, token, deviceID, tags string,
	scanEvery, powerEvery time.Duration, baseWatts float64, sendTimestamp bool, logger *zap.Logger) error {
	endpoint := fmt.Sprintf("%s/ws/device/%d?token=%s", server, classroomID, url.QueryEscape(token))

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()
	logger.Info("connected", zap.String("endpoint", endpoint))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		_ = conn.Close()
	}()

	// Print every server reply, including close frames from a rejected
	// token, so handshake failures are visible.
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				logger.Info("connection closed", zap.Error(err))
				cancel()
				return
			}
			logger.Info("server reply", zap.ByteString("payload", payload))
		}
	}()

	send := func(msg deviceMessage) error {
		msg.DeviceID = deviceID
		if sendTimestamp {
			msg.Timestamp = time.Now().Format(time.RFC3339)
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	var scanTags []string
	if tags != "" {
		scanTags = strings.Split(tags, ",")
	}

	scanTicker := time.NewTicker(scanEvery)
	defer scanTicker.Stop()
	powerTicker := time.NewTicker(powerEvery)
	defer powerTicker.Stop()

	// Initial power reading on connect, like the firmware does.
	watts := baseWatts
	if err := send(deviceMessage{Power: &watts}); err != nil {
		return err
	}

	nextTag := 0
	for {
		select {
		case <-scanTicker.C:
			if nextTag >= len(scanTags) {
				continue
			}
			tag := strings.TrimSpace(scanTags[nextTag])
			nextTag++
			logger.Info("scanning tag", zap.String("rfid_uid", tag))
			if err := send(deviceMessage{RFIDUID: tag}); err != nil {
				return err
			}
		case <-powerTicker.C:
			jittered := baseWatts + rand.Float64()*20 - 10
			if err := send(deviceMessage{Power: &jittered}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
