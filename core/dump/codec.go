package dump

import (
	"bufio"
	"compress/bzip2"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// Codec identifies the compression applied to an archive file.
type Codec string

const (
	CodecNone  Codec = "none"
	CodecBzip2 Codec = "bzip2"
	CodecGzip  Codec = "gzip"
	CodecZstd  Codec = "zstd"
)

const readBufferSize = 1 << 20

// codecExtensions maps file extensions to codecs.
var codecExtensions = map[string]Codec{
	".bz2": CodecBzip2,
	".gz":  CodecGzip,
	".zst": CodecZstd,
}

// DetectCodec picks a codec from the file extension.
func DetectCodec(path string) Codec {
	if c, ok := codecExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return c
	}
	return CodecNone
}

// CompressionExtensions returns the extensions recognised by DetectCodec.
func CompressionExtensions() []string {
	exts := make([]string, 0, len(codecExtensions))
	for ext := range codecExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// Open opens an archive file and returns its decompressed XML stream.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindIO, "open archive", path, err)
	}

	rc, err := Decompress(f, DetectCodec(path))
	if err != nil {
		f.Close()
		return nil, rcerrors.Wrap(rcerrors.KindParse, "open archive", path, err)
	}

	return &archive{ReadCloser: rc, file: f}, nil
}

// Decompress wraps r with the decoder for codec.
func Decompress(r io.Reader, codec Codec) (io.ReadCloser, error) {
	buffered := bufio.NewReaderSize(r, readBufferSize)

	switch codec {
	case CodecBzip2:
		return io.NopCloser(bzip2.NewReader(buffered)), nil
	case CodecGzip:
		zr, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case CodecZstd:
		dec, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(buffered), nil
	}
}

// archive closes both the decoder and the file underneath it.
type archive struct {
	io.ReadCloser
	file *os.File
}

func (a *archive) Close() error {
	err := a.ReadCloser.Close()
	if ferr := a.file.Close(); err == nil {
		err = ferr
	}
	return err
}

// classify maps decoder and stream errors onto the error taxonomy. Corrupt
// compressed data and malformed XML are parse errors; everything else the
// stream returns is an IO error.
func classify(op string, err error) error {
	var syntaxErr *xml.SyntaxError
	var bzErr bzip2.StructuralError

	switch {
	case errors.As(err, &syntaxErr),
		errors.As(err, &bzErr),
		errors.Is(err, gzip.ErrHeader),
		errors.Is(err, gzip.ErrChecksum),
		errors.Is(err, zstd.ErrMagicMismatch),
		errors.Is(err, io.ErrUnexpectedEOF):
		return rcerrors.Wrap(rcerrors.KindParse, op, "", err)
	default:
		return rcerrors.Wrap(rcerrors.KindIO, op, "", err)
	}
}
