package embedding

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/edsrzf/mmap-go"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// BinaryStore serves vectors straight out of a read-only memory mapping of a
// word2vec binary file. Only the token index lives on the heap; vectors are
// decoded on each lookup.
type BinaryStore struct {
	file    *os.File
	data    mmap.MMap
	dim     int
	offsets map[string]int
}

// OpenBinary maps a word2vec binary file: a "<count> <dim>\n" header, then
// per token "<token> " followed by dim little-endian float32 values and an
// optional newline.
func OpenBinary(path string) (*BinaryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindIO, "open embedding", path, err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, rcerrors.Wrap(rcerrors.KindIO, "map embedding", path, err)
	}

	store := &BinaryStore{file: f, data: data}
	if err := store.index(); err != nil {
		store.Close()
		return nil, rcerrors.Wrap(rcerrors.KindParse, "index embedding", path, err)
	}
	return store, nil
}

func (b *BinaryStore) index() error {
	nl := bytes.IndexByte(b.data, '\n')
	if nl < 0 {
		return fmt.Errorf("missing header")
	}

	fields := bytes.Fields(b.data[:nl])
	if len(fields) != 2 {
		return fmt.Errorf("malformed header %q", b.data[:nl])
	}
	count, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return fmt.Errorf("header count: %w", err)
	}
	dim, err := strconv.Atoi(string(fields[1]))
	if err != nil || dim <= 0 {
		return fmt.Errorf("header dim %q", fields[1])
	}

	b.dim = dim
	b.offsets = make(map[string]int, count)

	vecBytes := 4 * dim
	pos := nl + 1
	for i := 0; i < count; i++ {
		for pos < len(b.data) && b.data[pos] == '\n' {
			pos++
		}
		sp := bytes.IndexByte(b.data[pos:], ' ')
		if sp < 0 {
			return fmt.Errorf("entry %d: missing token separator", i)
		}
		token := string(b.data[pos : pos+sp])
		start := pos + sp + 1
		if start+vecBytes > len(b.data) {
			return fmt.Errorf("entry %d (%q): truncated vector", i, token)
		}
		if _, exists := b.offsets[token]; !exists {
			b.offsets[token] = start
		}
		pos = start + vecBytes
	}

	return nil
}

// Lookup implements Store.
func (b *BinaryStore) Lookup(token string) ([]float32, error) {
	off, ok := b.offsets[token]
	if !ok {
		return nil, ErrNotFound
	}

	vec := make([]float32, b.dim)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(b.data[off+4*i:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// Dim implements Store.
func (b *BinaryStore) Dim() int {
	return b.dim
}

// Len returns the vocabulary size.
func (b *BinaryStore) Len() int {
	return len(b.offsets)
}

// Close unmaps the file.
func (b *BinaryStore) Close() error {
	var err error
	if b.data != nil {
		err = b.data.Unmap()
		b.data = nil
	}
	if b.file != nil {
		if cerr := b.file.Close(); err == nil {
			err = cerr
		}
		b.file = nil
	}
	return err
}

// WriteBinary encodes vectors in word2vec binary format, tokens sorted.
func WriteBinary(w io.Writer, dim int, vectors map[string][]float32) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "%d %d\n", len(vectors), dim); err != nil {
		return err
	}

	tokens := make([]string, 0, len(vectors))
	for tok := range vectors {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	buf := make([]byte, 4)
	for _, tok := range tokens {
		vec := vectors[tok]
		if len(vec) != dim {
			return fmt.Errorf("vector for %q has %d dimensions, want %d", tok, len(vec), dim)
		}
		if _, err := bw.WriteString(tok + " "); err != nil {
			return err
		}
		for _, v := range vec {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}

	return bw.Flush()
}
