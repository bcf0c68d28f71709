package storage

import (
	"context"
	"io"
	"time"

	"github.com/uploadnest/uploadnest/internal/metrics"
)

type instrumented struct {
	next BlobStore
	m    *metrics.Metrics
}

// Instrument wraps bs so every call is counted and timed.
func Instrument(bs BlobStore, m *metrics.Metrics) BlobStore {
	if m == nil {
		return bs
	}
	return &instrumented{next: bs, m: m}
}

func (s *instrumented) Put(ctx context.Context, key string, r io.Reader, sizeHint int64) (ObjectRef, error) {
	start := time.Now()
	ref, err := s.next.Put(ctx, key, r, sizeHint)
	s.m.RecordBlobOp("put", err, time.Since(start).Seconds())
	if err == nil {
		s.m.RecordWrite(ref.Size)
	}
	return ref, err
}

func (s *instrumented) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.next.Get(ctx, key)
	s.m.RecordBlobOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &meteredReadCloser{rc: rc, m: s.m}, nil
}

func (s *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.m.RecordBlobOp("delete", err, time.Since(start).Seconds())
	return err
}

type meteredReadCloser struct {
	rc io.ReadCloser
	m  *metrics.Metrics
	n  int64
}

func (r *meteredReadCloser) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *meteredReadCloser) Close() error {
	r.m.RecordRead(r.n)
	r.n = 0
	return r.rc.Close()
}
