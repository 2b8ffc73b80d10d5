// Package detection runs the face and object models behind tracking.PerceptionPort
package detection

import (
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrModelNotFound is returned when a model file does not exist
	ErrModelNotFound = errors.New("detection: model file not found")

	// ErrEmptyImage is returned for frames that decode to nothing
	ErrEmptyImage = errors.New("detection: empty image")
)

// Detection is a bounding box in normalized (0-1) image coordinates
type Detection struct {
	X, Y       float64 // Top-left corner
	W, H       float64 // Width and height
	Confidence float64 // Detection confidence (0-1)
}

// Center returns the center point of the detection
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// FaceDetector finds faces in a decoded image
type FaceDetector interface {
	DetectMat(img gocv.Mat) ([]Detection, error)
	Close() error
}

// ObjectDetector finds labelled objects in a decoded image
type ObjectDetector interface {
	DetectMat(img gocv.Mat) ([]ObjectDetection, error)
	Close() error
}

// Config holds face detector configuration
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence (default 0.5)
	InputWidth       int     // Model input width
	InputHeight      int     // Model input height
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// decode turns JPEG bytes into a BGR Mat. The caller closes it.
func decode(jpeg []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), ErrEmptyImage
	}
	return img, nil
}
