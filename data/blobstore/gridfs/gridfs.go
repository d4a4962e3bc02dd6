// Package gridfs stores chat media in MongoDB GridFS, next to the documents.
package gridfs

import (
	"context"
	"io"
	"time"

	"PPChatSync/data/blobstore"
	"PPChatSync/logger"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	mgridfs "go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const DefaultBucket = "media"

type Store struct {
	bucket  *mgridfs.Bucket
	baseURL string
}

var _ blobstore.Store = (*Store)(nil)

// New baseURL 是对外下载地址前缀（由 HTTP 层的 /media 路由提供）
func New(db *mongo.Database, bucketName, baseURL string) (*Store, error) {
	if bucketName == "" {
		bucketName = DefaultBucket
	}
	b, err := mgridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, errors.Wrap(err, "gridfs: new bucket")
	}
	return &Store{bucket: b, baseURL: baseURL}, nil
}

func (s *Store) Upload(ctx context.Context, path string, r io.Reader, size int64, progress blobstore.ProgressFunc) error {
	us, err := s.bucket.OpenUploadStream(path)
	if err != nil {
		return errors.Wrapf(err, "gridfs: open upload %s", path)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = us.SetWriteDeadline(dl)
	}
	pr := &blobstore.ProgressReader{R: r, Total: size, Progress: progress}
	if _, err := io.Copy(us, ctxReader{ctx: ctx, r: pr}); err != nil {
		_ = us.Abort()
		return errors.Wrapf(err, "gridfs: upload %s", path)
	}
	if err := us.Close(); err != nil {
		return errors.Wrapf(err, "gridfs: close upload %s", path)
	}
	logger.Debug("[gridfs] uploaded", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(pr.N()))))
	return nil
}

func (s *Store) RetrievalURL(ctx context.Context, path string) (string, error) {
	ds, err := s.open(ctx, path)
	if err != nil {
		return "", err
	}
	_ = ds.Close()
	return blobstore.URLFor(s.baseURL, path), nil
}

func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.open(ctx, path)
}

func (s *Store) open(ctx context.Context, path string) (*mgridfs.DownloadStream, error) {
	ds, err := s.bucket.OpenDownloadStreamByName(path)
	if errors.Is(err, mgridfs.ErrFileNotFound) {
		return nil, errors.Wrap(blobstore.ErrNotFound, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "gridfs: open %s", path)
	}
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(time.Minute)
	}
	_ = ds.SetReadDeadline(dl)
	return ds, nil
}

// ctxReader 每次读之前检查 ctx，取消后中断上传
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
