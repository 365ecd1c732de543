package triton

import (
	"context"
	"fmt"

	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/inference"
	"github.com/google/uuid"
)

// Runner implements inference.Runner against one model on the inference server.
type Runner struct {
	client  *Client
	model   string
	version string

	input       string
	output      string
	inputShape  []int64
	outputShape []int64
}

// NewRunner reads the model metadata and binds the first input and output.
func NewRunner(ctx context.Context, client *Client, model, version string) (*Runner, error) {
	meta, err := client.ModelMetadata(ctx, model, version)
	if err != nil {
		return nil, err
	}
	if len(meta.Inputs) == 0 || len(meta.Outputs) == 0 {
		return nil, fmt.Errorf("model %s has %d inputs and %d outputs", model, len(meta.Inputs), len(meta.Outputs))
	}
	in, out := meta.Inputs[0], meta.Outputs[0]
	if in.Datatype != DatatypeFP32 {
		return nil, fmt.Errorf("model %s input %q is %s, want %s", model, in.Name, in.Datatype, DatatypeFP32)
	}

	return &Runner{
		client:      client,
		model:       model,
		version:     version,
		input:       in.Name,
		output:      out.Name,
		inputShape:  batchOfOne(in.Shape),
		outputShape: batchOfOne(out.Shape),
	}, nil
}

func batchOfOne(shape []int64) []int64 {
	s := append([]int64(nil), shape...)
	if len(s) > 0 && s[0] <= 0 {
		s[0] = 1
	}
	return s
}

func (r *Runner) Run(ctx context.Context, input []float32) ([]float32, error) {
	resp, err := r.client.Infer(ctx, r.model, r.version, &InferRequest{
		ID: uuid.NewString(),
		Inputs: []InferInput{{
			Name:     r.input,
			Shape:    r.inputShape,
			Datatype: DatatypeFP32,
			Data:     input,
		}},
		Outputs: []RequestedOutput{{Name: r.output}},
	})
	if err != nil {
		if _, ok := fetch.StatusCode(err); ok {
			return nil, inference.NewError(inference.KindInferenceFailure, "inference server rejected request", err)
		}
		return nil, inference.NewError(inference.KindUnavailable, "inference server unavailable", err)
	}

	out, ok := resp.Output(r.output)
	if !ok {
		return nil, inference.NewError(inference.KindInferenceFailure, "inference server response missing output", fmt.Errorf("no output %q", r.output))
	}
	return out.Data, nil
}

func (r *Runner) InputShape() []int64  { return r.inputShape }
func (r *Runner) OutputShape() []int64 { return r.outputShape }
