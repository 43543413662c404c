package detector

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YOLOConfig holds YOLO detector configuration.
type YOLOConfig struct {
	ModelPath     string
	MinConfidence float32
	NMSThreshold  float32
	InputWidth    int
	InputHeight   int
	// ClassNames maps class ids to labels. Defaults to COCOClasses.
	ClassNames []string
}

// DefaultYOLOConfig returns defaults for a YOLOv8n ONNX export.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:     "models/yolov8n.onnx",
		MinConfidence: 0.5,
		NMSThreshold:  0.45,
		InputWidth:    640,
		InputHeight:   640,
		ClassNames:    COCOClasses,
	}
}

// YOLODetector runs a YOLOv8 ONNX model through OpenCV's dnn module.
type YOLODetector struct {
	net       gocv.Net
	config    YOLOConfig
	mu        sync.Mutex
	inputSize image.Point
}

// NewYOLO loads the model at cfg.ModelPath.
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}
	if len(cfg.ClassNames) == 0 {
		cfg.ClassNames = COCOClasses
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in the frame. Boxes are scaled back to the frame's
// pixel space and clipped to its bounds.
func (d *YOLODetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	blob := gocv.BlobFromImage(*frame, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	return d.parseOutput(output, frame.Cols(), frame.Rows())
}

// parseOutput decodes a YOLOv8 tensor of shape [1, 4+classes, candidates].
// Each candidate column holds (cx, cy, w, h) in input pixels followed by
// per-class scores.
func (d *YOLODetector) parseOutput(output gocv.Mat, frameW, frameH int) ([]Detection, error) {
	dims := output.Size()
	if len(dims) != 3 || dims[1] <= 4 {
		return nil, fmt.Errorf("unexpected YOLO output shape %v", dims)
	}
	attrs, candidates := dims[1], dims[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read YOLO output: %w", err)
	}

	return decodeYOLO(data, attrs, candidates, frameW, frameH, d.config), nil
}

// decodeYOLO is split from parseOutput so it can be tested without a model.
func decodeYOLO(data []float32, attrs, candidates, frameW, frameH int, cfg YOLOConfig) []Detection {
	var (
		boxes       []image.Rectangle
		confidences []float32
		classIDs    []int
	)

	scaleX := float32(frameW) / float32(cfg.InputWidth)
	scaleY := float32(frameH) / float32(cfg.InputHeight)
	bounds := image.Rect(0, 0, frameW, frameH)

	for i := 0; i < candidates; i++ {
		maxScore := float32(0)
		maxClass := 0
		for c := 4; c < attrs; c++ {
			if score := data[c*candidates+i]; score > maxScore {
				maxScore = score
				maxClass = c - 4
			}
		}

		if maxScore < cfg.MinConfidence {
			continue
		}

		cx := data[0*candidates+i]
		cy := data[1*candidates+i]
		w := data[2*candidates+i]
		h := data[3*candidates+i]

		box := image.Rect(
			int((cx-w/2)*scaleX),
			int((cy-h/2)*scaleY),
			int((cx+w/2)*scaleX),
			int((cy+h/2)*scaleY),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}

		boxes = append(boxes, box)
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClass)
	}

	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, cfg.MinConfidence, cfg.NMSThreshold)

	detections := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		detections = append(detections, Detection{
			Box:        boxes[idx],
			Label:      className(cfg.ClassNames, classIDs[idx]),
			Confidence: float64(confidences[idx]),
		})
	}

	return detections
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Close releases the detector resources.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// COCOClasses contains the 80 COCO class names used by the stock YOLOv8 weights.
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
