package tracking

import (
	"log/slog"
	"time"
)

// Config holds all tunable parameters for violation tracking
type Config struct {
	// Timing
	TickInterval time.Duration // How often to sample a frame and run the trackers

	// Focus
	FaceCenterThreshold float64       // Max |faceX - centerX| / frameWidth still counted as centered
	FocusLostThreshold  time.Duration // Continuous off-center time before FOCUS_LOST
	FocusLostConfidence float64

	// Presence
	NoFaceThreshold         time.Duration // Continuous absence before NO_FACE
	NoFaceConfidence        float64
	MultipleFacesConfidence float64

	// Contraband
	MinObjectConfidence float64 // Objects below this are ignored (0 = keep all)

	// Observability
	Logger *slog.Logger
}

// DefaultConfig returns the production tracking configuration
func DefaultConfig() Config {
	return Config{
		TickInterval: 2 * time.Second, // one frame every 2s

		FaceCenterThreshold: 0.30,
		FocusLostThreshold:  5 * time.Second,
		FocusLostConfidence: 0.8,

		NoFaceThreshold:         10 * time.Second,
		NoFaceConfidence:        0.9,
		MultipleFacesConfidence: 0.9,

		MinObjectConfidence: 0,
	}
}

// StrictConfig returns a configuration that flags violations sooner
func StrictConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 1 * time.Second
	cfg.FaceCenterThreshold = 0.20
	cfg.FocusLostThreshold = 3 * time.Second
	cfg.NoFaceThreshold = 6 * time.Second
	return cfg
}

// LenientConfig returns a configuration that tolerates more movement
func LenientConfig() Config {
	cfg := DefaultConfig()
	cfg.FaceCenterThreshold = 0.40
	cfg.FocusLostThreshold = 8 * time.Second
	cfg.NoFaceThreshold = 15 * time.Second
	cfg.MinObjectConfidence = 0.5 // Ignore weak object hits
	return cfg
}

// Preset returns a named configuration: "default", "strict" or "lenient".
func Preset(name string) (Config, bool) {
	switch name {
	case "", "default":
		return DefaultConfig(), true
	case "strict":
		return StrictConfig(), true
	case "lenient":
		return LenientConfig(), true
	}
	return Config{}, false
}
