// proctor-feed: streams a local webcam to proctord
//
// Frames go over the candidate WebSocket by default, or are POSTed one by
// one with -mode http. With -start the session is opened first and ended on
// exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mdobak/go-xerrors"

	"github.com/teslashibe/go-proctor/internal/httpc"
	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/camera"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

type feedConfig struct {
	server    string
	room      string
	candidate string
	mode      string
	interval  time.Duration
	camera    camera.Config
	start     bool
	debug     bool
}

func parseFlags() (feedConfig, error) {
	var cfg feedConfig
	server := flag.String("server", "localhost:8080", "proctord host:port")
	room := flag.String("room", "", "Room ID (required)")
	candidate := flag.String("candidate", "", "Candidate name, used with -start")
	mode := flag.String("mode", "ws", "Transport: ws or http")
	interval := flag.Duration("interval", time.Second, "Time between frames")
	preset := flag.String("preset", camera.PresetDefault, "Camera preset")
	device := flag.Int("device", 0, "Capture device ID")
	start := flag.Bool("start", false, "Start the session before streaming and end it on exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *room == "" {
		return cfg, errors.New("-room is required")
	}
	if *mode != "ws" && *mode != "http" {
		return cfg, fmt.Errorf("unknown -mode %q", *mode)
	}
	camCfg := camera.GetPreset(*preset)
	if camCfg == nil {
		return cfg, fmt.Errorf("unknown camera preset %q", *preset)
	}
	camCfg.DeviceID = *device

	return feedConfig{
		server:    *server,
		room:      *room,
		candidate: *candidate,
		mode:      *mode,
		interval:  *interval,
		camera:    *camCfg,
		start:     *start,
		debug:     *debug,
	}, nil
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		flag.Usage()
		os.Exit(2)
	}

	level := "info"
	if cfg.debug {
		level = "debug"
	}
	log.Init(level)
	logger := log.Component("proctor-feed").With("room", cfg.room)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "feed failed", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg feedConfig, logger *slog.Logger) error {
	cam, err := camera.OpenWebcam(cfg.camera)
	if err != nil {
		return err
	}
	defer cam.Close()

	api := "http://" + cfg.server + "/api/sessions"
	if cfg.start {
		_, err := httpc.PostJSON(ctx, api, map[string]string{
			"room_id":        cfg.room,
			"candidate_name": cfg.candidate,
		})
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		logger.Info("session started")

		defer func() {
			endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			body, err := httpc.Post(endCtx, api+"/"+url.PathEscape(cfg.room)+"/end", "application/json", nil)
			if err != nil {
				logger.Warn("end session failed", "error", err)
				return
			}
			logger.Info("session ended", "record", string(body))
		}()
	}

	var send func(ctx context.Context, jpeg []byte, w, h int, id uint64) error
	switch cfg.mode {
	case "ws":
		conn, err := dial(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		send = conn.sendFrame
	default:
		send = func(ctx context.Context, jpeg []byte, w, h int, _ uint64) error {
			target := fmt.Sprintf("%s/%s/frames?width=%d&height=%d&captured_at=%d",
				api, url.PathEscape(cfg.room), w, h, time.Now().UnixMilli())
			_, err := httpc.Post(ctx, target, "image/jpeg", jpeg)
			return err
		}
	}

	logger.Info("streaming", "mode", cfg.mode, "interval", cfg.interval,
		"width", cfg.camera.Width, "height", cfg.camera.Height)

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	var frameID uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		jpeg, w, h, err := cam.CaptureJPEG()
		if err != nil {
			logger.Warn("capture failed", "error", err)
			continue
		}
		frameID++
		if err := send(ctx, jpeg, w, h, frameID); err != nil {
			return fmt.Errorf("send frame %d: %w", frameID, err)
		}
		logger.Debug("frame sent", "frame_id", frameID, "bytes", len(jpeg))
	}
}

// wsConn is the candidate WebSocket. Replies are read in the background.
type wsConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

func dial(ctx context.Context, cfg feedConfig, logger *slog.Logger) (*wsConn, error) {
	target := url.URL{Scheme: "ws", Host: cfg.server, Path: "/ws/candidate/" + cfg.room}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.String(), err)
	}
	c := &wsConn{ws: ws, logger: logger}
	go c.readLoop()
	return c, nil
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeError:
			var e protocol.ErrorData
			msg.ParseData(&e)
			c.logger.Warn("server rejected message", "error", e.Message)
		case protocol.TypePong:
			if pong, err := msg.GetPongData(); err == nil {
				c.logger.Debug("pong", "latency_ms", pong.LatencyMs)
			}
		}
	}
}

func (c *wsConn) sendFrame(_ context.Context, jpeg []byte, w, h int, id uint64) error {
	msg, err := protocol.NewFrameMessage(w, h, jpeg, id, time.Now())
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
