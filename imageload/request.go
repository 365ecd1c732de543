// Package imageload turns an HTTP request into a decoded image, from an uploaded
// file or from a URL.
package imageload

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/Tutortoise/vision-service/inference"
)

const (
	FileField = "image"
	URLField  = "url"

	DefaultMaxMemory = 32 << 20
)

// Input is the image source carried by a request. When both are set Data wins.
type Input struct {
	Data     []byte
	Filename string
	URL      string
}

func (in Input) Empty() bool {
	return in.Data == nil && in.URL == ""
}

// ParseRequest extracts the image source from a multipart upload (field "image"),
// a multipart or form value "url", or a JSON body {"url": ...}.
func ParseRequest(r *http.Request, maxMemory int64) (Input, error) {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return handleMultipartRequest(r, maxMemory)
	case mediaType == "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return Input{}, bodyError("invalid form body", err)
		}
		return urlInput(r.PostForm.Get(URLField))
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return handleJSONRequest(r)
	default:
		return Input{}, inference.ErrMissingInput
	}
}

func handleMultipartRequest(r *http.Request, maxMemory int64) (Input, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return Input{}, bodyError("invalid multipart body", err)
	}

	file, header, err := r.FormFile(FileField)
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return Input{}, bodyError("failed to read uploaded image", err)
		}
		if data == nil {
			data = []byte{}
		}
		return Input{Data: data, Filename: header.Filename}, nil
	case errors.Is(err, http.ErrMissingFile):
		return urlInput(r.FormValue(URLField))
	default:
		return Input{}, bodyError("invalid multipart body", err)
	}
}

func handleJSONRequest(r *http.Request) (Input, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return Input{}, inference.ErrMissingInput
		}
		return Input{}, bodyError("invalid JSON body", err)
	}
	return urlInput(req.URL)
}

func urlInput(raw string) (Input, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Input{}, inference.ErrMissingInput
	}
	return Input{URL: raw}, nil
}

func bodyError(msg string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return inference.NewError(inference.KindBadRequest, "request body too large", err)
	}
	return inference.NewError(inference.KindBadRequest, msg, err)
}
