package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/TFMV/fraudpipe/frame"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// Artifact formats.
const (
	FormatCSV   = "csv"
	FormatArrow = "arrow"
)

// Codec serializes a record to and from a byte stream.
type Codec interface {
	Ext() string
	Encode(w io.Writer, rec arrow.Record) error
	Decode(r io.Reader) (arrow.Record, error)
}

// CodecFor returns the codec for format. An empty format selects CSV.
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", FormatCSV:
		return CSVCodec{}, nil
	case FormatArrow, "ipc":
		return ArrowCodec{}, nil
	}
	return nil, fmt.Errorf("unknown artifact format %q", format)
}

// CSVCodec writes delimited text with a header row.
type CSVCodec struct{}

func (CSVCodec) Ext() string { return ".csv" }

func (CSVCodec) Encode(w io.Writer, rec arrow.Record) error { return frame.WriteCSV(w, rec) }

func (CSVCodec) Decode(r io.Reader) (arrow.Record, error) { return frame.ReadCSV(r) }

// ArrowCodec writes the Arrow IPC file format, which preserves column
// types exactly.
type ArrowCodec struct{}

func (ArrowCodec) Ext() string { return ".arrow" }

func (ArrowCodec) Encode(w io.Writer, rec arrow.Record) error {
	writer, err := ipc.NewFileWriter(w,
		ipc.WithSchema(rec.Schema()),
		ipc.WithAllocator(frame.Pool),
	)
	if err != nil {
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record to Arrow file: %w", err)
	}
	return writer.Close()
}

func (ArrowCodec) Decode(r io.Reader) (arrow.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	reader, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(frame.Pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow file reader: %w", err)
	}
	defer reader.Close()

	recs := make([]arrow.Record, 0, reader.NumRecords())
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for i := 0; i < reader.NumRecords(); i++ {
		rec, err := reader.RecordAt(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d from file: %w", i, err)
		}
		recs = append(recs, rec)
	}
	return frame.Concat(reader.Schema(), recs)
}
