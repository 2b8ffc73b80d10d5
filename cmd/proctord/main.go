// proctord: remote interview integrity monitor
// Accepts candidate webcam frames, scores integrity violations per room and
// publishes them to dashboards, storage and brokers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/teslashibe/go-proctor/internal/config"
	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/sink"
	"github.com/teslashibe/go-proctor/pkg/store"
	"github.com/teslashibe/go-proctor/pkg/tracking"
	"github.com/teslashibe/go-proctor/pkg/tracking/detection"
	"github.com/teslashibe/go-proctor/pkg/web"
)

// options are command-line settings not carried by config.Config
type options struct {
	debug     bool
	staticDir string
}

func main() {
	cfg, opts, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	if opts.debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)
	logger := log.Component("proctord")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.ErrorContext(ctx, "proctord failed", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

func parseFlags() (config.Config, options, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, options{}, err
	}

	var opts options
	port := flag.String("port", cfg.Port, "HTTP server port")
	preset := flag.String("preset", cfg.Preset, "Tracking preset: default, strict, lenient")
	tick := flag.Duration("tick", cfg.TickInterval, "Detection tick interval (0 = preset default)")
	faceModel := flag.String("face-model", cfg.FaceModel, "YuNet face model (ONNX)")
	objectModel := flag.String("object-model", cfg.ObjectModel, "YOLOv8 object model (ONNX, empty disables)")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path (empty disables)")
	jsonStore := flag.String("json-store", cfg.JSONStorePath, "JSON session store, used when -db is empty")
	kafkaBrokers := flag.String("kafka", strings.Join(cfg.KafkaBrokers, ","), "Kafka brokers, comma separated")
	kafkaTopic := flag.String("kafka-topic", cfg.KafkaTopic, "Kafka topic for session events")
	mqttBroker := flag.String("mqtt", cfg.MQTTBroker, "MQTT broker host:port")
	mqttTopic := flag.String("mqtt-topic", cfg.MQTTTopic, "MQTT topic prefix")
	allowDegraded := flag.Bool("allow-degraded", cfg.AllowDegraded, "Run sessions without perception if models fail to load")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging and request logs")
	flag.StringVar(&opts.staticDir, "static", "", "Serve dashboard assets from this directory")
	flag.Parse()

	cfg.Port, cfg.Preset, cfg.TickInterval = *port, *preset, *tick
	cfg.FaceModel, cfg.ObjectModel = *faceModel, *objectModel
	cfg.DBPath, cfg.JSONStorePath = *dbPath, *jsonStore
	cfg.KafkaTopic, cfg.MQTTBroker, cfg.MQTTTopic = *kafkaTopic, *mqttBroker, *mqttTopic
	cfg.AllowDegraded = *allowDegraded
	cfg.KafkaBrokers = nil
	for _, b := range strings.Split(*kafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	return cfg, opts, nil
}

func run(ctx context.Context, cfg config.Config, opts options, logger *slog.Logger) error {
	trackingCfg, ok := tracking.Preset(cfg.Preset)
	if !ok {
		return fmt.Errorf("unknown tracking preset %q", cfg.Preset)
	}
	if cfg.TickInterval > 0 {
		trackingCfg.TickInterval = cfg.TickInterval
	}
	trackingCfg.Logger = log.L()

	m := metrics.New()

	records, err := openStore(cfg)
	if err != nil {
		return err
	}
	if records != nil {
		defer records.Close()
	}

	rooms := hub.NewRooms(ctx, log.L())
	sinks := []sink.EventSink{hub.NewSink(rooms)}
	if records != nil {
		sinks = append(sinks, sink.NewStoreSink(records))
	}

	if len(cfg.KafkaBrokers) > 0 {
		ks, err := sink.NewKafkaSink(sink.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  log.L(),
		})
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		defer ks.Close()
		sinks = append(sinks, ks)
	}

	if cfg.MQTTBroker != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ms, err := sink.NewMQTTSink(connectCtx, sink.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			TopicPrefix: cfg.MQTTTopic,
			QoS:         1,
			Logger:      log.L(),
		})
		cancel()
		if err != nil {
			return fmt.Errorf("mqtt sink: %w", err)
		}
		defer ms.Close()
		sinks = append(sinks, ms)
	}

	events := sink.NewMulti(sinks, sink.WithMetrics(m), sink.WithLogger(log.L()))

	manager := proctor.NewManager(proctor.Config{
		Tracking:      trackingCfg,
		FrameMaxAge:   cfg.FrameMaxAge,
		AllowDegraded: cfg.AllowDegraded,
		Logger:        log.L(),
	}, perceptionFactory(cfg), proctor.WithSink(events), proctor.WithMetrics(m))

	webOpts := []web.Option{web.WithRooms(rooms), web.WithMetrics(m)}
	if records != nil {
		webOpts = append(webOpts, web.WithStore(records))
	}
	srv := web.NewServer(web.Config{
		Port:      cfg.Port,
		Debug:     opts.debug,
		StaticDir: opts.staticDir,
		Logger:    log.L(),
	}, manager, webOpts...)

	logger.Info("starting",
		"port", cfg.Port,
		"preset", cfg.Preset,
		"tick", trackingCfg.TickInterval,
		"sinks", events.Len(),
		"allow_degraded", cfg.AllowDegraded,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End sessions first so their final records reach every sink.
	var errs []error
	if err := manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("end sessions: %w", err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func openStore(cfg config.Config) (store.Store, error) {
	switch {
	case cfg.DBPath != "":
		s, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case cfg.JSONStorePath != "":
		s, err := store.NewJSONStore(cfg.JSONStorePath)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// perceptionFactory opens a YuNet + YOLO perceiver for each new session
func perceptionFactory(cfg config.Config) proctor.PerceptionFactory {
	return func() (tracking.PerceptionPort, error) {
		pcfg := detection.DefaultPerceiverConfig()
		pcfg.Face.ModelPath = cfg.FaceModel
		pcfg.Object.ModelPath = cfg.ObjectModel
		pcfg.Logger = log.L()
		p, err := detection.NewPerceiver(pcfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
