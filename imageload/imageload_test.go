package imageload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/objstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// oversizedPNG re-labels a 1x1 PNG header as w x h without adding pixel data.
func oversizedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := pngBytes(t, 1, 1)
	// signature (8) + length (4) + "IHDR" (4), then width and height.
	binary.BigEndian.PutUint32(data[16:], w)
	binary.BigEndian.PutUint32(data[20:], h)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func multipartRequest(t *testing.T, file []byte, url string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if file != nil {
		fw, err := mw.CreateFormFile(FileField, "shelf.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	if url != "" {
		require.NoError(t, mw.WriteField(URLField, url))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestParseRequest(t *testing.T) {
	img := pngBytes(t, 4, 4)

	tests := []struct {
		name     string
		req      func() *http.Request
		wantData bool
		wantURL  string
		wantKind inference.Kind
	}{
		{
			name:     "multipart file",
			req:      func() *http.Request { return multipartRequest(t, img, "") },
			wantData: true,
		},
		{
			name:    "multipart url",
			req:     func() *http.Request { return multipartRequest(t, nil, "https://example.com/a.jpg") },
			wantURL: "https://example.com/a.jpg",
		},
		{
			name:     "file wins over url",
			req:      func() *http.Request { return multipartRequest(t, img, "https://example.com/a.jpg") },
			wantData: true,
		},
		{
			name:     "multipart without fields",
			req:      func() *http.Request { return multipartRequest(t, nil, "") },
			wantKind: inference.KindMissingInput,
		},
		{
			name:    "json url",
			req:     func() *http.Request { return jsonRequest(`{"url":" https://example.com/b.png "}`) },
			wantURL: "https://example.com/b.png",
		},
		{
			name:     "json without url",
			req:      func() *http.Request { return jsonRequest(`{"image":"abc"}`) },
			wantKind: inference.KindMissingInput,
		},
		{
			name:     "empty json body",
			req:      func() *http.Request { return jsonRequest("") },
			wantKind: inference.KindMissingInput,
		},
		{
			name:     "malformed json",
			req:      func() *http.Request { return jsonRequest(`{"url":`) },
			wantKind: inference.KindBadRequest,
		},
		{
			name: "form url",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("url=https%3A%2F%2Fexample.com%2Fc.jpg"))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			wantURL: "https://example.com/c.jpg",
		},
		{
			name: "no body",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/analyze", nil)
			},
			wantKind: inference.KindMissingInput,
		},
		{
			name: "body too large",
			req: func() *http.Request {
				req := multipartRequest(t, img, "")
				req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 16)
				return req
			},
			wantKind: inference.KindBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseRequest(tt.req(), 0)
			if tt.wantKind != inference.KindInternal {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, inference.KindOf(err))
				return
			}
			require.NoError(t, err)
			if tt.wantData {
				assert.Equal(t, img, in.Data)
				assert.Equal(t, "shelf.png", in.Filename)
			}
			assert.Equal(t, tt.wantURL, in.URL)
		})
	}
}

type fakeReader map[string][]byte

func (f fakeReader) Open(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := f[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f fakeReader) List(context.Context, string, func(string) error) error { return nil }

func TestLoader(t *testing.T) {
	img := pngBytes(t, 6, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shelf.png":
			w.Write(img)
		case "/notes.txt":
			w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := fetch.New(fetch.Options{AllowPrivate: true})
	loader := NewLoader(client, fakeReader{"gs://bucket/shelf.png": img})
	ctx := context.Background()

	t.Run("bytes", func(t *testing.T) {
		got, err := loader.Load(ctx, Input{Data: img})
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 6, 3), got.Bounds())
	})

	t.Run("http url", func(t *testing.T) {
		got, err := loader.Load(ctx, Input{URL: srv.URL + "/shelf.png"})
		require.NoError(t, err)
		assert.Equal(t, 6, got.Bounds().Dx())
	})

	t.Run("bucket url", func(t *testing.T) {
		got, err := loader.Load(ctx, Input{URL: "gs://bucket/shelf.png"})
		require.NoError(t, err)
		assert.Equal(t, 3, got.Bounds().Dy())

		_, err = loader.Load(ctx, Input{URL: "gs://bucket/missing.png"})
		assert.Equal(t, inference.KindFetchFailure, inference.KindOf(err))
	})

	errorCases := []struct {
		name string
		in   Input
		kind inference.Kind
	}{
		{"empty input", Input{}, inference.KindMissingInput},
		{"not found", Input{URL: srv.URL + "/missing.png"}, inference.KindFetchFailure},
		{"not an image", Input{URL: srv.URL + "/notes.txt"}, inference.KindUnreadableImage},
		{"unreachable", Input{URL: "http://127.0.0.1:1/a.png"}, inference.KindFetchFailure},
		{"unsupported scheme", Input{URL: "ftp://example.com/a.png"}, inference.KindBadRequest},
		{"relative url", Input{URL: "shelf.png"}, inference.KindBadRequest},
		{"empty upload", Input{Data: []byte{}}, inference.KindUnreadableImage},
		{"garbage upload", Input{Data: []byte("GIF89a garbage")}, inference.KindUnreadableImage},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loader.Load(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.kind, inference.KindOf(err))
		})
	}

	t.Run("bucket scheme not enabled", func(t *testing.T) {
		_, err := NewLoader(client, objstore.Local()).Load(ctx, Input{URL: "gs://bucket/a.png"})
		assert.Equal(t, inference.KindBadRequest, inference.KindOf(err))
		assert.ErrorIs(t, err, objstore.ErrSchemeDisabled)
	})

	t.Run("bucket url without store", func(t *testing.T) {
		_, err := NewLoader(client, nil).Load(ctx, Input{URL: "s3://bucket/a.png"})
		assert.Equal(t, inference.KindBadRequest, inference.KindOf(err))
	})
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	bomb := oversizedPNG(t, 40000, 40000)

	_, err := Decode(bomb)
	require.Error(t, err)
	assert.Equal(t, inference.KindUnreadableImage, inference.KindOf(err))
	assert.Equal(t, "Image too large", inference.MessageOf(err))

	loader := NewLoader(fetch.New(fetch.Options{}), nil).WithMaxPixels(20)
	_, err = loader.Load(context.Background(), Input{Data: pngBytes(t, 5, 5)})
	assert.Equal(t, inference.KindUnreadableImage, inference.KindOf(err))

	got, err := loader.Load(context.Background(), Input{Data: pngBytes(t, 5, 4)})
	require.NoError(t, err)
	assert.Equal(t, 5, got.Bounds().Dx())
}
