package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// WithTempImage writes img to a uniquely named JPEG under dir (os.TempDir when empty),
// calls fn with its path and removes the file on every return path. A failed removal
// is logged and otherwise ignored.
func WithTempImage(ctx context.Context, dir string, img image.Image, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, "vision-"+uuid.NewString()+"-*.jpg")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			slog.WarnContext(ctx, "temp image cleanup failed", "path", path, "error", rmErr)
		}
	}()

	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		f.Close()
		return fmt.Errorf("encode temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp image: %w", err)
	}

	return fn(path)
}
