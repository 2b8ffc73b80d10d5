package camera

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrCameraUnavailable is returned when the capture device cannot be opened
// or stops delivering frames.
var ErrCameraUnavailable = errors.New("camera: device unavailable")

// Webcam grabs JPEG frames from a local capture device
type Webcam struct {
	config Config

	mu  sync.Mutex
	cap *gocv.VideoCapture
	img gocv.Mat
}

// OpenWebcam opens the device named in cfg
func OpenWebcam(cfg Config) (*Webcam, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", errs)
	}

	vc, err := gocv.OpenVideoCapture(cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrCameraUnavailable, cfg.DeviceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d not opened", ErrCameraUnavailable, cfg.DeviceID)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))

	return &Webcam{
		config: cfg,
		cap:    vc,
		img:    gocv.NewMat(),
	}, nil
}

// CaptureJPEG reads one frame and encodes it. It also returns the frame size,
// which may differ from the requested resolution.
func (w *Webcam) CaptureJPEG() ([]byte, int, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cap == nil {
		return nil, 0, 0, ErrCameraUnavailable
	}
	if ok := w.cap.Read(&w.img); !ok || w.img.Empty() {
		return nil, 0, 0, fmt.Errorf("%w: read failed", ErrCameraUnavailable)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, w.img, []int{gocv.IMWriteJpegQuality, w.config.Quality})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory; copy before Close
	out := append([]byte(nil), buf.GetBytes()...)
	return out, w.img.Cols(), w.img.Rows(), nil
}

// Close releases the device
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil
	}
	w.img.Close()
	err := w.cap.Close()
	w.cap = nil
	return err
}
