// Package flight serves and fetches pipeline artifacts over Arrow Flight.
// An artifact is addressed by name: DoGet takes the name as its ticket and
// DoPut carries it as the single element of a PATH descriptor.
package flight

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RecordStore persists named records behind the service.
type RecordStore interface {
	Save(ctx context.Context, name string, rec arrow.Record) error
	Load(ctx context.Context, name string) (arrow.Record, error)
}

// ArtifactService exposes a RecordStore as a Flight service.
type ArtifactService struct {
	flight.BaseFlightServer
	store  RecordStore
	logger *zap.Logger
}

// NewArtifactService wraps store.
func NewArtifactService(store RecordStore, logger *zap.Logger) *ArtifactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactService{store: store, logger: logger.Named("flight")}
}

func (s *ArtifactService) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	name := string(ticket.GetTicket())
	if name == "" {
		return status.Error(codes.InvalidArgument, "empty ticket")
	}

	rec, err := s.store.Load(stream.Context(), name)
	if errors.Is(err, errs.ErrNotFound) {
		return status.Errorf(codes.NotFound, "artifact %q not found", name)
	}
	if err != nil {
		return status.Errorf(codes.Internal, "load %q: %v", name, err)
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(frame.Pool))
	defer writer.Close()

	if err := writer.Write(rec); err != nil {
		return status.Errorf(codes.Internal, "failed to write record: %v", err)
	}
	s.logger.Debug("Served artifact", zap.String("artifact", name), zap.Int64("rows", rec.NumRows()))
	return nil
}

func (s *ArtifactService) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(frame.Pool))
	if err != nil {
		return status.Errorf(codes.Internal, "failed to create reader: %v", err)
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	if desc == nil || desc.GetType() != flight.DescriptorPATH || len(desc.GetPath()) != 1 {
		return status.Error(codes.InvalidArgument, "descriptor must be a single-element path")
	}
	name := desc.GetPath()[0]

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
		return status.Errorf(codes.Internal, "stream error: %v", err)
	}

	rec, err := frame.Concat(reader.Schema(), recs)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "%v", err)
	}
	defer rec.Release()

	if err := s.store.Save(stream.Context(), name, rec); err != nil {
		return status.Errorf(codes.Internal, "save %q: %v", name, err)
	}
	s.logger.Info("Stored artifact", zap.String("artifact", name), zap.Int64("rows", rec.NumRows()))
	return stream.Send(&flight.PutResult{})
}

// ---------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------

// Server hosts an ArtifactService over gRPC.
type Server struct {
	srv flight.Server
}

// NewServer binds addr and registers an ArtifactService for store.
func NewServer(addr string, store RecordStore, logger *zap.Logger) (*Server, error) {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv.RegisterFlightService(NewArtifactService(store, logger))
	return &Server{srv: srv}, nil
}

// Addr is the bound listener address.
func (s *Server) Addr() net.Addr { return s.srv.Addr() }

// Serve blocks until Shutdown.
func (s *Server) Serve() error { return s.srv.Serve() }

// Shutdown stops the server.
func (s *Server) Shutdown() { s.srv.Shutdown() }
