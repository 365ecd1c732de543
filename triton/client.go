// Package triton talks to an inference server over the KServe v2 HTTP/JSON protocol.
package triton

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Tutortoise/vision-service/fetch"
)

// DatatypeFP32 is the KServe v2 name of a float32 tensor.
const DatatypeFP32 = "FP32"

type TensorMetadata struct {
	Name     string  `json:"name"`
	Datatype string  `json:"datatype"`
	Shape    []int64 `json:"shape"`
}

type ModelMetadata struct {
	Name     string           `json:"name"`
	Versions []string         `json:"versions,omitempty"`
	Platform string           `json:"platform"`
	Inputs   []TensorMetadata `json:"inputs"`
	Outputs  []TensorMetadata `json:"outputs"`
}

type InferInput struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type RequestedOutput struct {
	Name string `json:"name"`
}

type InferRequest struct {
	ID      string            `json:"id,omitempty"`
	Inputs  []InferInput      `json:"inputs"`
	Outputs []RequestedOutput `json:"outputs,omitempty"`
}

type InferOutput struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type InferResponse struct {
	ModelName    string        `json:"model_name"`
	ModelVersion string        `json:"model_version,omitempty"`
	ID           string        `json:"id,omitempty"`
	Outputs      []InferOutput `json:"outputs"`
}

// Output returns the named output tensor.
func (r *InferResponse) Output(name string) (*InferOutput, bool) {
	for i := range r.Outputs {
		if r.Outputs[i].Name == name {
			return &r.Outputs[i], true
		}
	}
	return nil, false
}

type Client struct {
	baseURL string
	http    *fetch.Client
}

func NewClient(baseURL string, http *fetch.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: http}
}

func (c *Client) modelPath(model, version string) string {
	p := c.baseURL + "/v2/models/" + url.PathEscape(model)
	if version != "" {
		p += "/versions/" + url.PathEscape(version)
	}
	return p
}

// ServerReady returns nil when the server reports itself ready for inference.
func (c *Client) ServerReady(ctx context.Context) error {
	if _, err := c.http.Get(ctx, c.baseURL+"/v2/health/ready"); err != nil {
		return fmt.Errorf("server not ready: %w", err)
	}
	return nil
}

func (c *Client) ModelReady(ctx context.Context, model, version string) error {
	if _, err := c.http.Get(ctx, c.modelPath(model, version)+"/ready"); err != nil {
		return fmt.Errorf("model %s not ready: %w", model, err)
	}
	return nil
}

func (c *Client) ModelMetadata(ctx context.Context, model, version string) (*ModelMetadata, error) {
	var meta ModelMetadata
	if err := c.http.GetJSON(ctx, c.modelPath(model, version), &meta); err != nil {
		return nil, fmt.Errorf("model %s metadata: %w", model, err)
	}
	return &meta, nil
}

func (c *Client) Infer(ctx context.Context, model, version string, req *InferRequest) (*InferResponse, error) {
	body, err := c.http.PostJSON(ctx, c.modelPath(model, version)+"/infer", req)
	if err != nil {
		return nil, fmt.Errorf("infer %s: %w", model, err)
	}

	var resp InferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode infer response: %w", err)
	}
	return &resp, nil
}
