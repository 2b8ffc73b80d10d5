package detection

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/teslashibe/go-proctor/internal/log"
	"gocv.io/x/gocv"
)

// ObjectDetection is a detected object with its class
type ObjectDetection struct {
	Detection
	ClassID   int    // COCO class ID
	ClassName string // Human-readable class name
}

// YOLODetector runs a YOLOv8 ONNX model over a frame
type YOLODetector struct {
	net       gocv.Net
	config    YOLOConfig
	logger    *slog.Logger
	mu        sync.Mutex
	inputSize image.Point
}

// YOLOConfig holds YOLO detector configuration
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOConfig returns production defaults for YOLOv8n
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.4,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// NewYOLO loads a YOLOv8 model
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("detection: failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		config:    cfg,
		logger:    log.Component("yolo"),
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect decodes a JPEG and finds objects in it
func (d *YOLODetector) Detect(jpeg []byte) ([]ObjectDetection, error) {
	img, err := decode(jpeg)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	return d.DetectMat(img)
}

// DetectMat finds objects in a decoded image
func (d *YOLODetector) DetectMat(img gocv.Mat) ([]ObjectDetection, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	layout, err := outputLayout(output.Size())
	if err != nil {
		return nil, err
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}
	if len(data) < layout.attrs*layout.anchors {
		return nil, fmt.Errorf("detection: output tensor holds %d values, shape needs %d",
			len(data), layout.attrs*layout.anchors)
	}

	detections := d.parse(data, layout, imgW, imgH)

	if len(detections) > 0 {
		d.logger.Debug("objects found", "count", len(detections))
	}

	return detections, nil
}

// tensorLayout describes a YOLOv8 head output. Each anchor carries 4 box
// values followed by one score per class.
type tensorLayout struct {
	attrs   int
	anchors int
	// anchorMajor is set for [N, attrs] exports; the stock head is
	// [attrs, N] with each attribute contiguous across anchors.
	anchorMajor bool
}

func (l tensorLayout) at(attr, anchor int) int {
	if l.anchorMajor {
		return anchor*l.attrs + attr
	}
	return attr*l.anchors + anchor
}

// outputLayout reads the head shape from the Mat dims. The network returns
// a 3-D [1, 84, 8400] blob whose Rows and Cols are both -1, so the sizes
// must come from Size().
func outputLayout(size []int) (tensorLayout, error) {
	dims := size
	if len(dims) == 3 {
		if dims[0] != 1 {
			return tensorLayout{}, fmt.Errorf("detection: unsupported batch size %d", dims[0])
		}
		dims = dims[1:]
	}
	if len(dims) != 2 || dims[0] <= 0 || dims[1] <= 0 {
		return tensorLayout{}, fmt.Errorf("detection: unexpected output shape %v", size)
	}

	l := tensorLayout{attrs: dims[0], anchors: dims[1]}
	if l.attrs > l.anchors {
		l = tensorLayout{attrs: dims[1], anchors: dims[0], anchorMajor: true}
	}
	if l.attrs <= 4 {
		return tensorLayout{}, fmt.Errorf("detection: output shape %v has no class scores", size)
	}
	return l, nil
}

// candidate is one anchor that cleared the confidence threshold
type candidate struct {
	box        image.Rectangle
	confidence float32
	classID    int
}

// decodeCandidates picks the best class per anchor and scales its box from
// model input pixels to image pixels.
func decodeCandidates(data []float32, l tensorLayout, thresh, scaleX, scaleY float32) []candidate {
	var out []candidate
	for i := 0; i < l.anchors; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < l.attrs; c++ {
			if score := data[l.at(c, i)]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < thresh {
			continue
		}

		cx := data[l.at(0, i)]
		cy := data[l.at(1, i)]
		w := data[l.at(2, i)]
		h := data[l.at(3, i)]

		out = append(out, candidate{
			box: image.Rect(
				int((cx-w/2)*scaleX), int((cy-h/2)*scaleY),
				int((cx+w/2)*scaleX), int((cy+h/2)*scaleY),
			),
			confidence: maxScore,
			classID:    maxClassID,
		})
	}
	return out
}

// parse decodes the tensor and applies NMS
func (d *YOLODetector) parse(data []float32, l tensorLayout, imgW, imgH float32) []ObjectDetection {
	scaleX := imgW / float32(d.config.InputWidth)
	scaleY := imgH / float32(d.config.InputHeight)

	cands := decodeCandidates(data, l, d.config.ConfidenceThresh, scaleX, scaleY)
	if len(cands) == 0 {
		return nil
	}

	boxes := make([]image.Rectangle, len(cands))
	confidences := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		confidences[i] = c.confidence
	}
	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)

	detections := make([]ObjectDetection, 0, len(indices))
	for _, idx := range indices {
		detections = append(detections, cands[idx].toObject(imgW, imgH))
	}
	return detections
}

func (c candidate) toObject(imgW, imgH float32) ObjectDetection {
	return ObjectDetection{
		Detection: Detection{
			X:          float64(c.box.Min.X) / float64(imgW),
			Y:          float64(c.box.Min.Y) / float64(imgH),
			W:          float64(c.box.Dx()) / float64(imgW),
			H:          float64(c.box.Dy()) / float64(imgH),
			Confidence: float64(c.confidence),
		},
		ClassID:   c.classID,
		ClassName: ClassName(c.classID),
	}
}

// Close releases the detector resources
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	return nil
}

// ClassName returns the COCO label for id, or "" when out of range
func ClassName(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return ""
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
