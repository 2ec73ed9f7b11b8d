package grpcapi

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compressor applies symmetric compression to payload byte slices. The
// large-reply paths in service.go pick a codec by name so the wire
// contract stays JSON-readable for small replies and compressed for the
// assignment ledger, which can grow without bound over the service's
// lifetime.
type Compressor interface {
	//1.- Name returns the codec identifier advertised in RPC payloads.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

// gzipCompressor wraps the standard library gzip implementation.
type gzipCompressor struct{}

// NewGZIPCompressor constructs a Compressor backed by gzip.
func NewGZIPCompressor() Compressor {
	return gzipCompressor{}
}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("gzip copy: %w", err)
	}
	return buf.Bytes(), nil
}

// snappyCompressor wraps golang/snappy's block format: fast, low
// compression ratio, the right tradeoff for replies the Engine's goroutine
// never blocks on.
type snappyCompressor struct{}

// NewSnappyCompressor constructs a Compressor backed by snappy block
// encoding.
func NewSnappyCompressor() Compressor {
	return snappyCompressor{}
}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// zstdCompressor wraps klauspost/compress/zstd: slower than snappy but a
// materially better ratio, used for the assignment ledger once it grows
// past the point where per-request marshaling cost dominates.
type zstdCompressor struct{}

// NewZstdCompressor constructs a Compressor backed by zstd.
func NewZstdCompressor() Compressor {
	return zstdCompressor{}
}

func (zstdCompressor) Name() string { return "zstd" }

func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd new writer: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func (zstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd new reader: %w", err)
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// CompressorByName resolves a wire codec name to its Compressor, used when
// decoding a ListAssignmentsReply whose Codec field names the compressor
// the server chose.
func CompressorByName(name string) (Compressor, bool) {
	switch name {
	case "gzip":
		return NewGZIPCompressor(), true
	case "snappy":
		return NewSnappyCompressor(), true
	case "zstd":
		return NewZstdCompressor(), true
	default:
		return nil, false
	}
}
