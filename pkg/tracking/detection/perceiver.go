package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/tracking"
)

// PerceiverConfig selects the models a Perceiver loads
type PerceiverConfig struct {
	Face   Config
	Object YOLOConfig // Empty ModelPath disables object detection

	Logger *slog.Logger
}

// DefaultPerceiverConfig returns YuNet faces plus YOLOv8n objects
func DefaultPerceiverConfig() PerceiverConfig {
	return PerceiverConfig{
		Face:   DefaultConfig(),
		Object: DefaultYOLOConfig(),
	}
}

// Perceiver implements tracking.PerceptionPort on top of gocv models.
// Each frame is decoded once and shared by both detectors.
type Perceiver struct {
	faces   FaceDetector
	objects ObjectDetector // nil when disabled
	logger  *slog.Logger
}

var _ tracking.PerceptionPort = (*Perceiver)(nil)

// NewPerceiver loads the configured models. The face model is required.
func NewPerceiver(cfg PerceiverConfig) (*Perceiver, error) {
	faces, err := NewYuNet(cfg.Face)
	if err != nil {
		return nil, fmt.Errorf("load face model: %w", err)
	}

	p := &Perceiver{
		faces:  faces,
		logger: log.Or(cfg.Logger, "perceiver"),
	}

	if cfg.Object.ModelPath != "" {
		objects, err := NewYOLO(cfg.Object)
		if err != nil {
			faces.Close()
			return nil, fmt.Errorf("load object model: %w", err)
		}
		p.objects = objects
	} else {
		p.logger.Warn("object model disabled, contraband checks will never fire")
	}

	p.logger.Info("perception ready", "face_model", cfg.Face.ModelPath, "object_model", cfg.Object.ModelPath)
	return p, nil
}

// NewPerceiverWith wraps already loaded detectors. objects may be nil.
func NewPerceiverWith(faces FaceDetector, objects ObjectDetector, logger *slog.Logger) *Perceiver {
	return &Perceiver{faces: faces, objects: objects, logger: log.Or(logger, "perceiver")}
}

// Detect runs face and object detection on one frame
func (p *Perceiver) Detect(ctx context.Context, frame tracking.Frame) (tracking.Observation, error) {
	if err := ctx.Err(); err != nil {
		return tracking.Observation{}, err
	}

	img, err := decode(frame.Data)
	if err != nil {
		return tracking.Observation{}, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()

	width, height := img.Cols(), img.Rows()

	faces, err := p.faces.DetectMat(img)
	if err != nil {
		return tracking.Observation{}, fmt.Errorf("detect faces: %w", err)
	}

	var objects []ObjectDetection
	if p.objects != nil {
		objects, err = p.objects.DetectMat(img)
		if err != nil {
			return tracking.Observation{}, fmt.Errorf("detect objects: %w", err)
		}
	}

	return ToObservation(faces, objects, width, height), nil
}

// Close releases both models
func (p *Perceiver) Close() error {
	var errs []error
	if p.faces != nil {
		errs = append(errs, p.faces.Close())
	}
	if p.objects != nil {
		errs = append(errs, p.objects.Close())
	}
	return errors.Join(errs...)
}

// ToObservation maps normalized detections onto pixel coordinates of a
// width x height frame.
func ToObservation(faces []Detection, objects []ObjectDetection, width, height int) tracking.Observation {
	obs := tracking.Observation{
		FrameWidth:  width,
		FrameHeight: height,
	}

	w, h := float64(width), float64(height)
	for _, f := range faces {
		obs.Faces = append(obs.Faces, tracking.FaceObservation{
			Box: tracking.BoundingBox{
				OriginX: f.X * w,
				OriginY: f.Y * h,
				Width:   f.W * w,
				Height:  f.H * h,
			},
			Confidence: f.Confidence,
		})
	}

	for _, o := range objects {
		if o.ClassName == "" {
			continue
		}
		obs.Objects = append(obs.Objects, tracking.ObjectObservation{
			Label:      o.ClassName,
			Confidence: o.Confidence,
		})
	}

	return obs
}
