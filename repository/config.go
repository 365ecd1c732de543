package repository

import (
	"fmt"
	"strings"

	"github.com/Tutortoise/vision-service/onnx"
)

const (
	Platform       = "onnxruntime_onnx"
	ModelFileName  = "model.onnx"
	ConfigFileName = "config.pbtxt"
	LabelsFileName = "labels.txt"
)

// ModelConfig is the subset of an inference server model configuration that the
// exporter writes.
type ModelConfig struct {
	Name         string
	MaxBatchSize int
	Inputs       []onnx.TensorInfo
	Outputs      []onnx.TensorInfo
	// LabelFile names the label file of the first output, if any.
	LabelFile string
}

// Marshal renders the configuration in protobuf text format.
func (c ModelConfig) Marshal() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %q\n", c.Name)
	fmt.Fprintf(&b, "platform: %q\n", Platform)
	fmt.Fprintf(&b, "max_batch_size: %d\n", c.MaxBatchSize)
	writeTensors(&b, "input", c.Inputs, "")
	writeTensors(&b, "output", c.Outputs, c.LabelFile)
	return []byte(b.String())
}

func writeTensors(b *strings.Builder, field string, tensors []onnx.TensorInfo, labelFile string) {
	if len(tensors) == 0 {
		return
	}
	fmt.Fprintf(b, "%s [\n", field)
	for i, t := range tensors {
		b.WriteString("  {\n")
		fmt.Fprintf(b, "    name: %q\n", t.Name)
		fmt.Fprintf(b, "    data_type: %s\n", DataType(t.DataType))
		fmt.Fprintf(b, "    dims: [ %s ]\n", joinDims(t.Shape))
		if i == 0 && labelFile != "" {
			fmt.Fprintf(b, "    label_filename: %q\n", labelFile)
		}
		if i < len(tensors)-1 {
			b.WriteString("  },\n")
		} else {
			b.WriteString("  }\n")
		}
	}
	b.WriteString("]\n")
}

func joinDims(shape []int64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		if d <= 0 {
			d = -1
		}
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, ", ")
}

var dataTypes = map[string]string{
	"FLOAT":    "TYPE_FP32",
	"FLOAT16":  "TYPE_FP16",
	"DOUBLE":   "TYPE_FP64",
	"BFLOAT16": "TYPE_BF16",
	"UINT8":    "TYPE_UINT8",
	"UINT16":   "TYPE_UINT16",
	"UINT32":   "TYPE_UINT32",
	"UINT64":   "TYPE_UINT64",
	"INT8":     "TYPE_INT8",
	"INT16":    "TYPE_INT16",
	"INT32":    "TYPE_INT32",
	"INT64":    "TYPE_INT64",
	"BOOL":     "TYPE_BOOL",
	"STRING":   "TYPE_STRING",
}

// DataType maps an ONNX Runtime element type name to its model config name.
func DataType(ortType string) string {
	name := strings.TrimPrefix(strings.ToUpper(ortType), "ONNX_TENSOR_ELEMENT_DATA_TYPE_")
	if t, ok := dataTypes[name]; ok {
		return t
	}
	return "TYPE_INVALID"
}
