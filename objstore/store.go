// Package objstore opens and writes files by path, routing gs:// and s3:// URIs to
// the matching cloud client and everything else to the local filesystem.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/shouni/go-remote-io/pkg/s3factory"
)

type Options struct {
	GCS bool
	S3  bool
}

type backend struct {
	reader remoteio.InputReader
	writer remoteio.OutputWriter
}

// Store implements remoteio.InputReader and remoteio.OutputWriter.
type Store struct {
	local   backend
	gcs     *backend
	s3      *backend
	closers []io.Closer
}

// Open builds a Store. Cloud clients are created only for the enabled schemes and
// pick up credentials from the environment.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := &Store{
		local: backend{
			reader: remoteio.NewUniversalInputReader(nil, nil),
			writer: remoteio.NewUniversalIOWriter(nil, nil),
		},
	}

	if opts.GCS {
		b, err := s.attach(gcsfactory.New(ctx))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("gcs: %w", err)
		}
		s.gcs = b
	}
	if opts.S3 {
		b, err := s.attach(s3factory.New(ctx))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("s3: %w", err)
		}
		s.s3 = b
	}

	return s, nil
}

// Local returns a Store that only serves local paths.
func Local() *Store {
	s, _ := Open(context.Background(), Options{})
	return s
}

func (s *Store) attach(factory remoteio.IOFactory, err error) (*backend, error) {
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, factory)

	reader, err := factory.InputReader()
	if err != nil {
		return nil, err
	}
	writer, err := factory.OutputWriter()
	if err != nil {
		return nil, err
	}
	return &backend{reader: reader, writer: writer}, nil
}

// ErrSchemeDisabled is returned for a cloud URI whose client was not enabled.
var ErrSchemeDisabled = errors.New("storage scheme not enabled")

func (s *Store) route(path string) (*backend, error) {
	switch {
	case remoteio.IsGCSURI(path):
		if s.gcs == nil {
			return nil, fmt.Errorf("%s: %w", path, ErrSchemeDisabled)
		}
		return s.gcs, nil
	case remoteio.IsS3URI(path):
		if s.s3 == nil {
			return nil, fmt.Errorf("%s: %w", path, ErrSchemeDisabled)
		}
		return s.s3, nil
	default:
		return &s.local, nil
	}
}

func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	b, err := s.route(path)
	if err != nil {
		return nil, err
	}
	return b.reader.Open(ctx, path)
}

func (s *Store) List(ctx context.Context, path string, callback func(string) error) error {
	b, err := s.route(path)
	if err != nil {
		return err
	}
	return b.reader.List(ctx, path, callback)
}

func (s *Store) Write(ctx context.Context, uri string, r io.Reader, contentType string) error {
	b, err := s.route(uri)
	if err != nil {
		return err
	}
	return b.writer.Write(ctx, uri, r, contentType)
}

// Enabled reports whether path can be served by this Store.
func (s *Store) Enabled(path string) bool {
	_, err := s.route(path)
	return err == nil
}

func (s *Store) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
