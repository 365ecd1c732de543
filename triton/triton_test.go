package triton

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/health/ready", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /v2/models/resnext101/ready", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /v2/models/resnext101", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelMetadata{
			Name:     "resnext101",
			Versions: []string{"1"},
			Platform: "onnxruntime_onnx",
			Inputs:   []TensorMetadata{{Name: "input", Datatype: "FP32", Shape: []int64{-1, 3, 2, 2}}},
			Outputs:  []TensorMetadata{{Name: "output", Datatype: "FP32", Shape: []int64{-1, 3}}},
		})
	})
	mux.HandleFunc("POST /v2/models/resnext101/infer", func(w http.ResponseWriter, r *http.Request) {
		var req InferRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) || !assert.Len(t, req.Inputs, 1) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "input", req.Inputs[0].Name)
		assert.Equal(t, []int64{1, 3, 2, 2}, req.Inputs[0].Shape)
		assert.NotEmpty(t, req.ID)

		var sum float32
		for _, v := range req.Inputs[0].Data {
			sum += v
		}
		json.NewEncoder(w).Encode(InferResponse{
			ModelName: "resnext101",
			ID:        req.ID,
			Outputs:   []InferOutput{{Name: "output", Shape: []int64{1, 3}, Datatype: "FP32", Data: []float32{0, sum, 1}}},
		})
	})
	mux.HandleFunc("GET /v2/models/broken", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelMetadata{
			Name:    "broken",
			Inputs:  []TensorMetadata{{Name: "input", Datatype: "FP32", Shape: []int64{1, 4}}},
			Outputs: []TensorMetadata{{Name: "output", Datatype: "FP32", Shape: []int64{1, 4}}},
		})
	})
	mux.HandleFunc("POST /v2/models/broken/infer", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"input shape mismatch"}`, http.StatusBadRequest)
	})
	mux.HandleFunc("GET /v2/models/uint8", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelMetadata{
			Inputs:  []TensorMetadata{{Name: "input", Datatype: "UINT8", Shape: []int64{1, 4}}},
			Outputs: []TensorMetadata{{Name: "output", Datatype: "FP32", Shape: []int64{1, 4}}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	return NewClient(url+"/", fetch.New(fetch.Options{AllowPrivate: true}))
}

func TestClientHealth(t *testing.T) {
	c := newTestClient(newFakeServer(t).URL)

	require.NoError(t, c.ServerReady(context.Background()))
	require.NoError(t, c.ModelReady(context.Background(), "resnext101", ""))
	assert.Error(t, c.ModelReady(context.Background(), "yolov8", "1"))
}

func TestClientMetadata(t *testing.T) {
	c := newTestClient(newFakeServer(t).URL)

	meta, err := c.ModelMetadata(context.Background(), "resnext101", "")
	require.NoError(t, err)
	assert.Equal(t, "onnxruntime_onnx", meta.Platform)
	assert.Equal(t, "input", meta.Inputs[0].Name)
}

func TestRunner(t *testing.T) {
	c := newTestClient(newFakeServer(t).URL)

	r, err := NewRunner(context.Background(), c, "resnext101", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2, 2}, r.InputShape())
	assert.Equal(t, []int64{1, 3}, r.OutputShape())

	input := make([]float32, 12)
	for i := range input {
		input[i] = 0.5
	}
	out, err := r.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 6, 1}, out)
}

func TestRunnerErrors(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(srv.URL)

	_, err := NewRunner(context.Background(), c, "uint8", "")
	assert.Error(t, err)

	_, err = NewRunner(context.Background(), c, "missing", "")
	assert.Error(t, err)

	r, err := NewRunner(context.Background(), c, "broken", "")
	require.NoError(t, err)
	_, err = r.Run(context.Background(), make([]float32, 4))
	assert.Equal(t, inference.KindInferenceFailure, inference.KindOf(err))

	srv.Close()
	_, err = r.Run(context.Background(), make([]float32, 4))
	assert.Equal(t, inference.KindUnavailable, inference.KindOf(err))
}
