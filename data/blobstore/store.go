// Package blobstore is the media storage contract: upload bytes under a path,
// then hand out a stable URL that messages carry.
package blobstore

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("blobstore: object not found")

// ProgressFunc 上传进度旁路通道；后端可以不调用
type ProgressFunc func(written, total int64)

type Store interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, progress ProgressFunc) error
	RetrievalURL(ctx context.Context, path string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// ProgressReader 统计已读字节并回调进度
type ProgressReader struct {
	R        io.Reader
	Total    int64
	Progress ProgressFunc
	n        int64
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.R.Read(b)
	if n > 0 {
		p.n += int64(n)
		if p.Progress != nil {
			p.Progress(p.n, p.Total)
		}
	}
	return n, err
}

func (p *ProgressReader) N() int64 { return p.n }

// URLFor baseURL + 逐段转义后的 path
func URLFor(baseURL, path string) string {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.Join(segs, "/")
}

// Memory 进程内实现，测试与单机演示用
type Memory struct {
	BaseURL string

	mu   sync.RWMutex
	objs map[string][]byte
}

func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: baseURL, objs: make(map[string][]byte)}
}

func (m *Memory) Upload(ctx context.Context, path string, r io.Reader, size int64, progress ProgressFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, &ProgressReader{R: r, Total: size, Progress: progress}); err != nil {
		return errors.Wrapf(err, "blobstore: upload %s", path)
	}
	m.mu.Lock()
	m.objs[path] = buf.Bytes()
	m.mu.Unlock()
	return nil
}

func (m *Memory) RetrievalURL(_ context.Context, path string) (string, error) {
	m.mu.RLock()
	_, ok := m.objs[path]
	m.mu.RUnlock()
	if !ok {
		return "", errors.Wrap(ErrNotFound, path)
	}
	return URLFor(m.BaseURL, path), nil
}

func (m *Memory) Open(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.objs[path]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objs)
}
