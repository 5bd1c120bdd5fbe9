package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"rankoj/internal/common/storage"
	appErr "rankoj/pkg/errors"
)

// SourceArchive keeps compressed copies of submitted source code in object
// storage. Source never lives in the status cache or the event stream.
type SourceArchive struct {
	store  storage.ObjectStorage
	bucket string
}

// NewSourceArchive creates an archive on top of object storage.
func NewSourceArchive(store storage.ObjectStorage, bucket string) *SourceArchive {
	return &SourceArchive{store: store, bucket: bucket}
}

func archiveKey(submissionID string) string {
	return fmt.Sprintf("sources/%s.zst", submissionID)
}

// Put compresses and stores the source for one submission.
func (a *SourceArchive) Put(ctx context.Context, submissionID, source string) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return appErr.Wrap(err, appErr.StorageError)
	}
	if _, err := enc.Write([]byte(source)); err != nil {
		_ = enc.Close()
		return appErr.Wrap(err, appErr.StorageError)
	}
	if err := enc.Close(); err != nil {
		return appErr.Wrap(err, appErr.StorageError)
	}
	key := archiveKey(submissionID)
	if err := a.store.PutObject(ctx, a.bucket, key, &buf, int64(buf.Len()), "application/zstd"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "archive source failed")
	}
	return nil
}

// Get fetches and decompresses the source for one submission.
func (a *SourceArchive) Get(ctx context.Context, submissionID string) (string, error) {
	obj, err := a.store.GetObject(ctx, a.bucket, archiveKey(submissionID))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "fetch archived source failed")
	}
	defer obj.Close()
	dec, err := zstd.NewReader(obj)
	if err != nil {
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	return string(data), nil
}
