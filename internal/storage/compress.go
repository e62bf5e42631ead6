package storage

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Codec identifies the compression applied to a journal record payload.
type Codec uint8

const (
	// CodecNone stores payloads uncompressed.
	CodecNone Codec = iota
	// CodecFlate compresses payloads with raw DEFLATE.
	CodecFlate
	// CodecGzip compresses payloads with gzip framing.
	CodecGzip
	// CodecZlib compresses payloads with zlib framing.
	CodecZlib
)

// ErrUnknownCodec is returned for a codec byte or name that is not recognised.
var ErrUnknownCodec = errors.New("unknown compression codec")

// String returns the configuration name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecFlate:
		return "flate"
	case CodecGzip:
		return "gzip"
	case CodecZlib:
		return "zlib"
	default:
		return "unknown"
	}
}

// ParseCodec parses a codec name as used in configuration files.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "flate":
		return CodecFlate, nil
	case "gzip":
		return CodecGzip, nil
	case "zlib":
		return CodecZlib, nil
	default:
		return CodecNone, errors.Wrapf(ErrUnknownCodec, "%q", name)
	}
}

// Compress returns data compressed with the codec.
func (c Codec) Compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	var w io.WriteCloser
	var err error

	switch c {
	case CodecNone:
		return data, nil
	case CodecFlate:
		w, err = flate.NewWriter(&b, flate.BestSpeed)
	case CodecGzip:
		w, err = gzip.NewWriterLevel(&b, gzip.BestSpeed)
	case CodecZlib:
		w, err = zlib.NewWriterLevel(&b, zlib.BestSpeed)
	default:
		return nil, ErrUnknownCodec
	}
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress reverses Compress. Output larger than MaxJournalRecordSize is
// rejected with ErrRecordTooLarge.
func (c Codec) Decompress(data []byte) ([]byte, error) {
	return c.decompress(data, MaxJournalRecordSize)
}

func (c Codec) decompress(data []byte, limit int64) ([]byte, error) {
	var r io.ReadCloser
	var err error

	switch c {
	case CodecNone:
		return data, nil
	case CodecFlate:
		r = flate.NewReader(bytes.NewReader(data))
	case CodecGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case CodecZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	default:
		return nil, ErrUnknownCodec
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, errors.Wrapf(ErrRecordTooLarge, "decompressed payload exceeds %d bytes", limit)
	}
	return out, nil
}
