package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/TFMV/fraudpipe/errs"
	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/api/option"
)

// GCSStore keeps artifacts as objects under a bucket prefix.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
	codec  Codec

	// newWriter starts an upload that is aborted when ctx is cancelled
	// before Close.
	newWriter func(ctx context.Context, object string) io.WriteCloser
}

// ParseGCSURI splits gs://bucket/prefix into its parts.
func ParseGCSURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewGCSStore connects to Cloud Storage. An empty credentialsFile falls
// back to application default credentials.
func NewGCSStore(ctx context.Context, uri, credentialsFile string, codec Codec) (*GCSStore, error) {
	bucket, prefix, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w: %w", errs.ErrConnection, err)
	}
	s := &GCSStore{client: client, bucket: bucket, prefix: prefix, codec: codec}
	s.newWriter = func(ctx context.Context, object string) io.WriteCloser {
		return client.Bucket(bucket).Object(object).NewWriter(ctx)
	}
	return s, nil
}

func (s *GCSStore) object(name string) string {
	return path.Join(s.prefix, name+s.codec.Ext())
}

// Location is the gs:// URI of the named artifact.
func (s *GCSStore) Location(name string) string {
	return "gs://" + s.bucket + "/" + s.object(name)
}

// Save uploads the named artifact. The object only becomes visible once
// the whole record is encoded; a failed encode aborts the upload.
func (s *GCSStore) Save(ctx context.Context, name string, rec arrow.Record) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.newWriter(ctx, s.object(name))
	if err := s.codec.Encode(w, rec); err != nil {
		// Close on a live writer would finalize the partial object.
		cancel()
		w.Close()
		return fmt.Errorf("failed to write %s: %w: %w", s.Location(name), errs.ErrWrite, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w: %w", s.Location(name), errs.ErrWrite, err)
	}
	return nil
}

// Load downloads the named artifact.
func (s *GCSStore) Load(ctx context.Context, name string) (arrow.Record, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object(name)).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", s.Location(name), errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w: %w", s.Location(name), errs.ErrRead, err)
	}
	defer r.Close()

	rec, err := s.codec.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w: %w", s.Location(name), errs.ErrRead, err)
	}
	return rec, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
