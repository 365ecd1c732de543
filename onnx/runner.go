package onnx

import (
	"context"
	"fmt"

	"github.com/Tutortoise/vision-service/inference"
)

// PoolRunner implements inference.Runner on top of a Pool.
type PoolRunner struct {
	pool        *Pool
	inputShape  []int64
	outputShape []int64
}

func NewPoolRunner(pool *Pool, inputShape, outputShape []int64) *PoolRunner {
	return &PoolRunner{pool: pool, inputShape: inputShape, outputShape: outputShape}
}

// OpenModel creates a session pool for modelPath and a runner over it. The shapes
// of the first session are used for the runner.
func OpenModel(name, modelPath string, cfg PoolConfig, opts Options) (*PoolRunner, error) {
	var first *Session
	factory := func() (Model, error) {
		s, err := NewSession(modelPath, opts)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = s
		}
		return s, nil
	}

	pool, err := NewPool(name, factory, cfg)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", modelPath, err)
	}

	return NewPoolRunner(pool, first.Input.Shape, first.Output.Shape), nil
}

func (r *PoolRunner) Run(ctx context.Context, input []float32) ([]float32, error) {
	session, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	output, err := session.Run(input)
	if err != nil {
		r.pool.Discard(session, err)
		return nil, inference.NewError(inference.KindInferenceFailure, "model inference failed", err)
	}
	r.pool.Release(session)

	return output, nil
}

func (r *PoolRunner) InputShape() []int64  { return r.inputShape }
func (r *PoolRunner) OutputShape() []int64 { return r.outputShape }
func (r *PoolRunner) Pool() *Pool          { return r.pool }

func (r *PoolRunner) Close() error {
	r.pool.Close()
	return nil
}
