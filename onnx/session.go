package onnx

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Options tunes ONNX Runtime threading. Zero values fall back to runtime.NumCPU().
type Options struct {
	IntraOpThreads int
	InterOpThreads int
}

// TensorInfo describes one named model input or output.
type TensorInfo struct {
	Name     string
	Shape    []int64
	DataType string
}

// Session wraps an AdvancedSession bound to one fixed input and output tensor.
// It is not safe for concurrent use; Pool hands out exclusive access.
type Session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	Input  TensorInfo
	Output TensorInfo
}

// ReadTensorInfo lists a model's inputs and outputs without creating a session.
func ReadTensorInfo(modelPath string) ([]TensorInfo, []TensorInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read model io info: %w", err)
	}
	return convertInfo(inputs), convertInfo(outputs), nil
}

func convertInfo(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, TensorInfo{
			Name:     info.Name,
			Shape:    append([]int64(nil), info.Dimensions...),
			DataType: info.DataType.String(),
		})
	}
	return out
}

// staticShape replaces a dynamic batch dimension with 1. Any other dynamic
// dimension cannot back a preallocated tensor.
func staticShape(name string, dims []int64) ([]int64, error) {
	shape := append([]int64(nil), dims...)
	for i, d := range shape {
		if d > 0 {
			continue
		}
		if i == 0 {
			shape[i] = 1
			continue
		}
		return nil, fmt.Errorf("tensor %q has dynamic dimension %d in %v; export the model with a static shape", name, i, dims)
	}
	return shape, nil
}

func NewSession(modelPath string, opts Options) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read model io info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has %d inputs and %d outputs", modelPath, len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("input %q has type %s, want float32", in.Name, in.DataType)
	}

	inputShape, err := staticShape(in.Name, in.Dimensions)
	if err != nil {
		return nil, err
	}
	outputShape, err := staticShape(out.Name, out.Dimensions)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	intra, inter := opts.IntraOpThreads, opts.InterOpThreads
	if intra <= 0 {
		intra = runtime.NumCPU()
	}
	if inter <= 0 {
		inter = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(intra); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(inter); err != nil {
		return nil, fmt.Errorf("set inter-op threads: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(inputShape...))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{in.Name},
		[]string{out.Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &Session{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		Input:   TensorInfo{Name: in.Name, Shape: inputShape, DataType: in.DataType.String()},
		Output:  TensorInfo{Name: out.Name, Shape: outputShape, DataType: out.DataType.String()},
	}, nil
}

// Run copies input into the bound tensor, runs the model and returns a copy of the
// output that stays valid after the session is reused.
func (s *Session) Run(input []float32) ([]float32, error) {
	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model %q expects %d", len(input), s.Input.Name, len(dst))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	return append([]float32(nil), s.output.GetData()...), nil
}

func (s *Session) Destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// CustomMetadata looks up a key in the model's custom metadata map.
func CustomMetadata(modelPath, key string) (string, bool, error) {
	meta, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return "", false, fmt.Errorf("read model metadata: %w", err)
	}
	defer meta.Destroy()
	return meta.LookupCustomMetadataMap(key)
}
