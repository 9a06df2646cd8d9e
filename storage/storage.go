// Package storage persists the per-stage artifacts of a pipeline run.
// Artifacts are whole records addressed by name and live in a local
// directory, a Cloud Storage prefix, or a remote Flight artifact server.
package storage

import (
	"context"
	"io"
	"strings"

	"github.com/TFMV/fraudpipe/flight"
	"github.com/apache/arrow-go/v18/arrow"
)

// DefaultURI is used when no artifact location is configured.
const DefaultURI = "/tmp/fraudpipe"

// Store saves and loads named artifacts. Save replaces any previous
// artifact of the same name.
type Store interface {
	Save(ctx context.Context, name string, rec arrow.Record) error
	Load(ctx context.Context, name string) (arrow.Record, error)
	Location(name string) string
}

// Options tune Open.
type Options struct {
	Format          string // csv or arrow
	CredentialsFile string // Cloud Storage only
}

// Open picks the backend for uri: gs://bucket/prefix, flight://host:port,
// or a local directory. The returned closer releases backend resources.
func Open(ctx context.Context, uri string, opts Options) (Store, io.Closer, error) {
	if uri == "" {
		uri = DefaultURI
	}
	codec, err := CodecFor(opts.Format)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case strings.HasPrefix(uri, "gs://"):
		s, err := NewGCSStore(ctx, uri, opts.CredentialsFile, codec)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case strings.HasPrefix(uri, "flight://"):
		c, err := flight.Dial(strings.TrimSuffix(strings.TrimPrefix(uri, "flight://"), "/"))
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	s := NewLocalStore(uri, codec)
	return s, s, nil
}
