package store

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Codec names accepted in store options and recorded per column.
const (
	CodecZlib   = "zlib"
	CodecSnappy = "snappy"
)

// Codec compresses and decompresses column payloads.
type Codec interface {
	Name() string
	Encode(raw []byte) ([]byte, error)
	Decode(encoded []byte) ([]byte, error)
}

// CodecByName returns the codec for a configured name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecZlib, "":
		return zlibCodec{}, nil
	case CodecSnappy:
		return snappyCodec{}, nil
	default:
		return nil, fmt.Errorf("store: unknown codec %q", name)
	}
}

// zlibCodec is the default: maximal lossless compression for archived
// catalogs where ratio matters more than write speed.
type zlibCodec struct{}

func (zlibCodec) Name() string { return CodecZlib }

func (zlibCodec) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("store: zlib writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("store: zlib encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("store: zlib flush: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibCodec) Decode(encoded []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("store: zlib reader: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("store: zlib decode: %w", err)
	}
	return raw, nil
}

// snappyCodec trades ratio for speed.
type snappyCodec struct{}

func (snappyCodec) Name() string { return CodecSnappy }

func (snappyCodec) Encode(raw []byte) ([]byte, error) {
	return snappy.Encode(nil, raw), nil
}

func (snappyCodec) Decode(encoded []byte) ([]byte, error) {
	raw, err := snappy.Decode(nil, encoded)
	if err != nil {
		return nil, fmt.Errorf("store: snappy decode: %w", err)
	}
	return raw, nil
}
