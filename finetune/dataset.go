package finetune

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultClasses are the retail detection classes.
var DefaultClasses = []string{"person", "shopping_cart", "product", "shelf", "checkout"}

// Dataset is the YOLO dataset configuration file.
type Dataset struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

func NewDataset(dataDir string, classes []string) Dataset {
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	names := make(map[int]string, len(classes))
	for i, c := range classes {
		names[i] = c
	}
	return Dataset{
		Path:  dataDir,
		Train: "images",
		Val:   "images",
		NC:    len(classes),
		Names: names,
	}
}

func (d Dataset) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("dataset path is required")
	}
	if d.NC <= 0 || d.NC != len(d.Names) {
		return fmt.Errorf("dataset declares %d classes but names %d", d.NC, len(d.Names))
	}
	for i := 0; i < d.NC; i++ {
		if d.Names[i] == "" {
			return fmt.Errorf("dataset class %d has no name", i)
		}
	}
	return nil
}

// Classes returns the class names in id order.
func (d Dataset) Classes() []string {
	out := make([]string, d.NC)
	for i := range out {
		out[i] = d.Names[i]
	}
	return out
}

func WriteDataset(path string, d Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("# YOLOv8 dataset configuration for retail detection\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func ReadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, err
	}
	var d Dataset
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Dataset{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, d.Validate()
}
