package vectorize

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/adalundhe/revcluster/core/dump"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// ErrInvalidPattern indicates a glob pattern could not be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// Selection chooses archive files by base name. A file is selected when it
// matches any include pattern and no exclude pattern.
type Selection struct {
	Include []string
	Exclude []string
}

// DefaultSelection picks the split article dumps and skips the multistream,
// RSS and monolithic variants.
func DefaultSelection() Selection {
	return Selection{
		Include: []string{"*enwiki-latest-pages-articles*"},
		Exclude: []string{"*multistream*", "*rss*", "enwiki-latest-pages-articles.xml.bz2"},
	}
}

// Discover lists the selected regular files directly under dir, sorted.
func Discover(dir string, sel Selection) ([]string, error) {
	include, err := compileGlobs(sel.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compileGlobs(sel.Exclude)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindIO, "discover", dir, err)
	}

	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if matchAny(include, name) && !matchAny(exclude, name) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// OutputName maps an archive path to its output file name: the base name with
// one compression extension removed, plus ".json".
func OutputName(input string) string {
	base := filepath.Base(input)
	lower := strings.ToLower(base)
	for _, ext := range dump.CompressionExtensions() {
		if strings.HasSuffix(lower, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	return base + ".json"
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "compile pattern", pattern, errors.Join(ErrInvalidPattern, err))
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

func matchAny(matchers []glob.Glob, name string) bool {
	for _, m := range matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}
