package imageload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"

	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/objstore"
	"github.com/disintegration/imaging"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxRemoteObjectSize caps reads from gs:// and s3:// objects.
const MaxRemoteObjectSize = 64 << 20

// DefaultMaxPixels rejects images whose header declares more pixels than this
// (about 89.5 megapixels) before any pixel memory is allocated.
const DefaultMaxPixels = 1024 * 1024 * 1024 / 4 / 3

type Loader struct {
	http      *fetch.Client
	store     remoteio.InputReader
	maxPixels int64
}

// NewLoader returns a Loader. store may be nil, in which case gs:// and s3://
// URLs are rejected.
func NewLoader(http *fetch.Client, store remoteio.InputReader) *Loader {
	return &Loader{http: http, store: store, maxPixels: DefaultMaxPixels}
}

// WithMaxPixels sets the decoded size limit; n <= 0 restores the default.
func (l *Loader) WithMaxPixels(n int64) *Loader {
	if n <= 0 {
		n = DefaultMaxPixels
	}
	l.maxPixels = n
	return l
}

func (l *Loader) Load(ctx context.Context, in Input) (image.Image, error) {
	if in.Empty() {
		return nil, inference.ErrMissingInput
	}

	data := in.Data
	if data == nil {
		var err error
		if data, err = l.fetch(ctx, in.URL); err != nil {
			return nil, err
		}
	}
	return DecodeLimit(data, l.maxPixels)
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if remoteio.IsRemoteURI(rawURL) {
		return l.fetchObject(ctx, rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, inference.NewError(inference.KindBadRequest, "unsupported image URL", err)
	}

	data, err := l.http.Get(ctx, rawURL)
	if err != nil {
		return nil, inference.NewError(inference.KindFetchFailure, "failed to fetch image from URL", err)
	}
	return data, nil
}

func (l *Loader) fetchObject(ctx context.Context, uri string) ([]byte, error) {
	if l.store == nil {
		return nil, inference.NewError(inference.KindBadRequest, "unsupported image URL", fmt.Errorf("remote storage disabled for %s", uri))
	}

	rc, err := l.store.Open(ctx, uri)
	if errors.Is(err, objstore.ErrSchemeDisabled) {
		return nil, inference.NewError(inference.KindBadRequest, "unsupported image URL", err)
	}
	if err != nil {
		return nil, inference.NewError(inference.KindFetchFailure, "failed to fetch image from URL", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxRemoteObjectSize+1))
	if err != nil {
		return nil, inference.NewError(inference.KindFetchFailure, "failed to fetch image from URL", err)
	}
	if len(data) > MaxRemoteObjectSize {
		return nil, inference.NewError(inference.KindFetchFailure, "image object too large", fmt.Errorf("%s exceeds %d bytes", uri, MaxRemoteObjectSize))
	}
	return data, nil
}

var errEmptyImage = errors.New("image has no pixels")

// Decode reads JPEG, PNG, GIF, WebP, BMP or TIFF bytes and applies EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with the header-declared size bounded by maxPixels.
func DecodeLimit(data []byte, maxPixels int64) (image.Image, error) {
	if len(data) == 0 {
		return nil, inference.NewError(inference.KindUnreadableImage, "Unable to decode image", errEmptyImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, inference.NewError(inference.KindUnreadableImage, "Unable to decode image", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, inference.NewError(inference.KindUnreadableImage, "Image too large",
			fmt.Errorf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, inference.NewError(inference.KindUnreadableImage, "Unable to decode image", err)
	}
	if img.Bounds().Empty() {
		return nil, inference.NewError(inference.KindUnreadableImage, "Unable to decode image", errEmptyImage)
	}
	return img, nil
}
