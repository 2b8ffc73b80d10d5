package detection

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/teslashibe/go-proctor/pkg/tracking"
	"gocv.io/x/gocv"
)

type fakeFaces struct {
	dets   []Detection
	err    error
	closed bool
}

func (f *fakeFaces) DetectMat(gocv.Mat) ([]Detection, error) {
	return f.dets, f.err
}

func (f *fakeFaces) Close() error {
	f.closed = true
	return nil
}

type fakeObjects struct {
	dets   []ObjectDetection
	closed bool
}

func (f *fakeObjects) DetectMat(gocv.Mat) ([]ObjectDetection, error) {
	return f.dets, nil
}

func (f *fakeObjects) Close() error {
	f.closed = true
	return nil
}

func TestPerceiver_Detect(t *testing.T) {
	faces := &fakeFaces{dets: []Detection{{X: 0.4, Y: 0.2, W: 0.2, H: 0.4, Confidence: 0.9}}}
	objects := &fakeObjects{dets: []ObjectDetection{
		{Detection: Detection{Confidence: 0.7}, ClassID: 73, ClassName: "book"},
	}}
	p := NewPerceiverWith(faces, objects, nil)

	frame := tracking.Frame{Data: createSolidJPEG(320, 240, color.RGBA{80, 80, 80, 255})}
	obs, err := p.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if obs.FrameWidth != 320 || obs.FrameHeight != 240 {
		t.Errorf("frame size: got %dx%d, want 320x240", obs.FrameWidth, obs.FrameHeight)
	}
	if len(obs.Faces) != 1 || len(obs.Objects) != 1 {
		t.Fatalf("got %d faces / %d objects, want 1/1", len(obs.Faces), len(obs.Objects))
	}
	if obs.Objects[0].Label != "book" {
		t.Errorf("label: got %q, want book", obs.Objects[0].Label)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !faces.closed || !objects.closed {
		t.Error("Close should release both detectors")
	}
}

func TestPerceiver_FaceOnly(t *testing.T) {
	p := NewPerceiverWith(&fakeFaces{}, nil, nil)

	frame := tracking.Frame{Data: createSolidJPEG(64, 48, color.RGBA{0, 0, 0, 255})}
	obs, err := p.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(obs.Objects) != 0 {
		t.Errorf("objects: got %d, want 0 with no object model", len(obs.Objects))
	}
}

func TestPerceiver_Errors(t *testing.T) {
	boom := errors.New("inference failed")
	p := NewPerceiverWith(&fakeFaces{err: boom}, nil, nil)

	if _, err := p.Detect(context.Background(), tracking.Frame{Data: []byte("not a jpeg")}); err == nil {
		t.Error("expected error for undecodable frame")
	}

	frame := tracking.Frame{Data: createSolidJPEG(32, 32, color.RGBA{255, 255, 255, 255})}
	if _, err := p.Detect(context.Background(), frame); !errors.Is(err, boom) {
		t.Errorf("expected wrapped detector error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Detect(ctx, frame); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
