package flight

import (
	"context"
	"fmt"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ---------------------------------------------------------------------
// Flight Client
// ---------------------------------------------------------------------

// Client stores and fetches artifacts on a remote ArtifactService.
type Client struct {
	addr   string
	client flight.Client
}

// Dial creates a Flight client for addr.
func Dial(addr string) (*Client, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create flight client: %w: %w", errs.ErrConnection, err)
	}
	return &Client{addr: addr, client: client}, nil
}

// Location renders the URI of the named artifact.
func (c *Client) Location(name string) string {
	return "flight://" + c.addr + "/" + name
}

// Save uploads rec under name with DoPut.
func (c *Client) Save(ctx context.Context, name string, rec arrow.Record) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("DoPut %s: %w: %w", name, errs.ErrWrite, err)
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(frame.Pool))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{name},
	})
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to send %s: %w: %w", name, errs.ErrWrite, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w: %w", name, errs.ErrWrite, err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close %s: %w: %w", name, errs.ErrWrite, err)
	}
	if _, err := stream.Recv(); err != nil {
		return fmt.Errorf("DoPut %s: %w: %w", name, errs.ErrWrite, err)
	}
	return nil
}

// Load downloads the named artifact with DoGet.
func (c *Client) Load(ctx context.Context, name string) (arrow.Record, error) {
	stream, err := c.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(name)})
	if err != nil {
		return nil, c.readErr(name, err)
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(frame.Pool))
	if err != nil {
		return nil, c.readErr(name, err)
	}
	defer reader.Release()

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, c.readErr(name, err)
	}
	return frame.Concat(reader.Schema(), recs)
}

func (c *Client) readErr(name string, err error) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
		return fmt.Errorf("%s: %w", c.Location(name), errs.ErrNotFound)
	}
	return fmt.Errorf("DoGet %s: %w: %w", name, errs.ErrRead, err)
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}
