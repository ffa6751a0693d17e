package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

type ONNXOptions struct {
	ModelPath string
	// RuntimeLibrary is the path of the onnxruntime shared library. Empty
	// uses the platform default search.
	RuntimeLibrary string
	Labels         []string
	InputSize      int
	// Softmax is needed for models that export raw logits.
	Softmax bool
}

// ONNXModel is a classification model loaded once and shared by all
// requests. The session owns fixed input and output buffers, so runs are
// serialized.
type ONNXModel struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	size    int
	softmax bool
}

func NewONNXModel(o ONNXOptions) (*ONNXModel, error) {
	if o.InputSize <= 0 {
		return nil, errors.New("input size must be positive")
	}
	if len(o.Labels) == 0 {
		return nil, errors.New("labels required")
	}
	if !ort.IsInitialized() {
		if o.RuntimeLibrary != "" {
			ort.SetSharedLibraryPath(o.RuntimeLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnxruntime: %w", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(o.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", o.ModelPath, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("model %s: want 1 input and at least 1 output, got %d and %d", o.ModelPath, len(inputs), len(outputs))
	}
	classes := int64(len(o.Labels))
	if dims := outputs[0].Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		if dims[len(dims)-1] != classes {
			return nil, fmt.Errorf("model %s has %d classes but %d labels were loaded", o.ModelPath, dims[len(dims)-1], classes)
		}
	}

	size := int64(o.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, classes))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(o.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("load model %s: %w", o.ModelPath, err)
	}
	return &ONNXModel{
		session: session,
		input:   input,
		output:  output,
		labels:  o.Labels,
		size:    o.InputSize,
		softmax: o.Softmax,
	}, nil
}

func (m *ONNXModel) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	data := Preprocess(img, m.size)

	m.mu.Lock()
	copy(m.input.GetData(), data)
	err := m.session.Run()
	scores := append([]float32(nil), m.output.GetData()...)
	m.mu.Unlock()
	if err != nil {
		return Prediction{}, fmt.Errorf("run model: %w", err)
	}
	if m.softmax {
		Softmax(scores)
	}
	return Top1(scores, m.labels)
}

// Close releases the session and tensors. The runtime environment stays
// loaded for the life of the process.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.session.Destroy(), m.input.Destroy(), m.output.Destroy())
}
