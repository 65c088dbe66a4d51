package embedding

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

const maxLineBytes = 64 << 20

// LoadTextFile loads a word2vec text-format file into memory.
func LoadTextFile(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindIO, "open embedding", path, err)
	}
	defer f.Close()

	store, err := LoadText(f)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindParse, "load embedding", path, err)
	}
	return store, nil
}

// LoadText reads word2vec text format: an optional "<count> <dim>" header
// followed by one "<token> <v1> ... <vD>" row per line. Without a header the
// dimension is taken from the first row.
func LoadText(r io.Reader) (*MemoryStore, error) {
	var store *MemoryStore
	err := scanText(r, func(dim int) {
		store = NewMemoryStore(dim)
	}, func(token string, vec []float32) error {
		return store.Add(token, vec)
	})
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("embedding file is empty")
	}
	return store, nil
}

// scanText drives a text-format parse. onDim is called once, before the
// first row; onRow is called for every row in file order.
func scanText(r io.Reader, onDim func(int), onRow func(string, []float32) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), maxLineBytes)

	dim := 0
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		if dim == 0 {
			if d, ok := parseHeader(fields); ok {
				dim = d
				onDim(dim)
				continue
			}
			dim = len(fields) - 1
			if dim <= 0 {
				return fmt.Errorf("line %d: row has no values", line)
			}
			onDim(dim)
		}

		if len(fields) != dim+1 {
			return fmt.Errorf("line %d: got %d values, want %d", line, len(fields)-1, dim)
		}

		vec := make([]float32, dim)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			vec[i] = float32(v)
		}
		if err := onRow(fields[0], vec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}

	return sc.Err()
}

func parseHeader(fields []string) (int, bool) {
	if len(fields) != 2 {
		return 0, false
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return 0, false
	}
	dim, err := strconv.Atoi(fields[1])
	if err != nil || dim <= 0 {
		return 0, false
	}
	return dim, true
}
