package repository

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/Tutortoise/vision-service/onnx"
	"github.com/boltdb/bolt"
)

var modelsBucket = []byte("models")

// ErrNotFound is returned when a model has no recorded versions.
var ErrNotFound = errors.New("model not found")

// ModelVersion is one exported version of a model.
type ModelVersion struct {
	Name       string
	Version    int
	Platform   string
	Path       string
	Source     string
	SHA256     string
	Size       int64
	Inputs     []onnx.TensorInfo
	Outputs    []onnx.TensorInfo
	ExportedAt time.Time
}

// Registry records exported versions in a bolt database: one nested bucket per
// model, keyed by big-endian version so cursors walk versions in order.
type Registry struct {
	db *bolt.DB
}

func OpenRegistry(path string) (*Registry, error) {
	db, err := bolt.Open(path, 0666, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func versionKey(v int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(v))
	return k
}

func (r *Registry) Record(mv ModelVersion) error {
	if mv.Name == "" || mv.Version <= 0 {
		return fmt.Errorf("invalid model version %q/%d", mv.Name, mv.Version)
	}

	var enc bytes.Buffer
	if err := gob.NewEncoder(&enc).Encode(mv); err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(modelsBucket).CreateBucketIfNotExists([]byte(mv.Name))
		if err != nil {
			return err
		}
		return b.Put(versionKey(mv.Version), enc.Bytes())
	})
}

func decode(v []byte) (ModelVersion, error) {
	var mv ModelVersion
	err := gob.NewDecoder(bytes.NewReader(v)).Decode(&mv)
	return mv, err
}

// Latest returns the highest recorded version of name.
func (r *Registry) Latest(name string) (ModelVersion, error) {
	var mv ModelVersion
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(modelsBucket).Bucket([]byte(name))
		if b == nil {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		k, v := b.Cursor().Last()
		if k == nil {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		var err error
		mv, err = decode(v)
		return err
	})
	return mv, err
}

// NextVersion is one past the latest recorded version, or 1.
func (r *Registry) NextVersion(name string) (int, error) {
	mv, err := r.Latest(name)
	if errors.Is(err, ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return mv.Version + 1, nil
}

// List returns every version of name, or of all models when name is empty,
// ordered by model name then version.
func (r *Registry) List(name string) ([]ModelVersion, error) {
	var out []ModelVersion
	err := r.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(modelsBucket)
		collect := func(b *bolt.Bucket) error {
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				mv, err := decode(v)
				if err != nil {
					return err
				}
				out = append(out, mv)
			}
			return nil
		}

		if name != "" {
			b := root.Bucket([]byte(name))
			if b == nil {
				return nil
			}
			return collect(b)
		}
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			return collect(root.Bucket(k))
		})
	})
	return out, err
}
