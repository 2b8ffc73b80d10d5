// Package config provides configuration for go-proctor commands.
//
// Settings come from the environment, optionally seeded from a .env file.
// Variables already set in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvPort          = "PROCTOR_PORT"
	EnvTickInterval  = "PROCTOR_TICK_INTERVAL"
	EnvPreset        = "PROCTOR_PRESET"
	EnvFrameMaxAge   = "PROCTOR_FRAME_MAX_AGE"
	EnvFaceModel     = "PROCTOR_FACE_MODEL"
	EnvObjectModel   = "PROCTOR_OBJECT_MODEL"
	EnvDBPath        = "PROCTOR_DB_PATH"
	EnvJSONStore     = "PROCTOR_JSON_STORE"
	EnvKafkaBrokers  = "PROCTOR_KAFKA_BROKERS"
	EnvKafkaTopic    = "PROCTOR_KAFKA_TOPIC"
	EnvMQTTBroker    = "PROCTOR_MQTT_BROKER"
	EnvMQTTTopic     = "PROCTOR_MQTT_TOPIC"
	EnvAllowDegraded = "PROCTOR_ALLOW_DEGRADED"
	EnvLogLevel      = "LOG_LEVEL"
)

// Defaults.
const (
	DefaultPort        = "8080"
	DefaultFaceModel   = "models/face_detection_yunet.onnx"
	DefaultObjectModel = "models/yolov8n.onnx"
	DefaultDBPath      = "data/proctor.db"
	DefaultKafkaTopic  = "proctor.events"
	DefaultMQTTTopic   = "proctor/rooms"
	DefaultLogLevel    = "info"
)

// Config is the server configuration
type Config struct {
	Port         string
	TickInterval time.Duration // 0 = tracking preset default
	Preset       string        // default, strict or lenient
	FrameMaxAge  time.Duration

	FaceModel   string
	ObjectModel string // empty disables object detection

	DBPath        string // SQLite file; empty disables it
	JSONStorePath string // JSON file store, used when DBPath is empty

	KafkaBrokers []string
	KafkaTopic   string
	MQTTBroker   string
	MQTTTopic    string

	AllowDegraded bool
	LogLevel      string
}

// Load reads the optional env files (".env" when none are given) and then
// the environment. A missing env file is not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment
func FromEnv() (Config, error) {
	cfg := Config{
		Port:          String(EnvPort, DefaultPort),
		Preset:        String(EnvPreset, "default"),
		FaceModel:     String(EnvFaceModel, DefaultFaceModel),
		ObjectModel:   String(EnvObjectModel, DefaultObjectModel),
		DBPath:        String(EnvDBPath, DefaultDBPath),
		JSONStorePath: os.Getenv(EnvJSONStore),
		KafkaBrokers:  List(EnvKafkaBrokers),
		KafkaTopic:    String(EnvKafkaTopic, DefaultKafkaTopic),
		MQTTBroker:    os.Getenv(EnvMQTTBroker),
		MQTTTopic:     String(EnvMQTTTopic, DefaultMQTTTopic),
		LogLevel:      String(EnvLogLevel, DefaultLogLevel),
	}

	var errs []error
	var err error
	if cfg.TickInterval, err = Duration(EnvTickInterval, 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.FrameMaxAge, err = Duration(EnvFrameMaxAge, 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.AllowDegraded, err = Bool(EnvAllowDegraded, false); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// String returns the env var, or def when unset or blank
func String(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Duration parses a Go duration ("2s", "500ms") from the env var
func Duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	if d < 0 {
		return def, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}

// Bool parses a boolean env var
func Bool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

// List splits a comma-separated env var, dropping blanks
func List(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
