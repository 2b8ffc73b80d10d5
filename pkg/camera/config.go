// Package camera captures and buffers candidate video frames.
package camera

import "fmt"

// Config holds capture settings for a candidate webcam
type Config struct {
	DeviceID int `json:"device_id"` // OS camera index

	// Resolution
	Width  int `json:"width"`  // Frame width in pixels
	Height int `json:"height"` // Frame height in pixels

	// Encoding
	Quality int `json:"quality"` // JPEG quality 1-100
}

// Limits accepted by Validate
const (
	MinWidth  = 160
	MinHeight = 120
	MaxWidth  = 3840
	MaxHeight = 2160
)

// DefaultConfig returns 640x480 capture, plenty for face and object models
func DefaultConfig() Config {
	return Config{
		DeviceID: 0,
		Width:    640,
		Height:   480,
		Quality:  80,
	}
}

// Validate checks the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.DeviceID < 0 {
		errors = append(errors, "device_id must not be negative")
	}
	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}
