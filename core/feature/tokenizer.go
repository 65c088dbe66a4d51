package feature

import (
	"bytes"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/registry"
)

// WikitextTokenizerName is the bleve registry name of the word tokenizer.
const WikitextTokenizerName = "wikitext_words"

// maxTagBytes bounds how far a '<' looks for its closing '>'.
const maxTagBytes = 512

func init() {
	registry.RegisterTokenizer(WikitextTokenizerName, newWikitextTokenizerConstructor)
}

func newWikitextTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return NewWikitextTokenizer(), nil
}

// =============================================================================
// Analyzer
// =============================================================================

// Analyzer adapts a bleve analyzer to the Tokenizer interface.
type Analyzer struct {
	analyzer analysis.Analyzer
}

// NewAnalyzer wraps any bleve analyzer.
func NewAnalyzer(a analysis.Analyzer) *Analyzer {
	return &Analyzer{analyzer: a}
}

// NewWikitextAnalyzer returns the default revision tokenizer: wikitext words
// followed by bleve's lowercase filter.
func NewWikitextAnalyzer() *Analyzer {
	return NewAnalyzer(&analysis.DefaultAnalyzer{
		Tokenizer:    NewWikitextTokenizer(),
		TokenFilters: []analysis.TokenFilter{lowercase.NewLowerCaseFilter()},
	})
}

// Tokenize implements Tokenizer.
func (a *Analyzer) Tokenize(text string) []string {
	stream := a.analyzer.Analyze([]byte(text))
	tokens := make([]string, 0, len(stream))
	for _, tok := range stream {
		tokens = append(tokens, string(tok.Term))
	}
	return tokens
}

// =============================================================================
// Wikitext tokenizer
// =============================================================================

// WikitextTokenizer emits the words of wikitext. A word starts with a letter
// and continues with letters, digits or inner apostrophes. HTML tags,
// character entities and URLs produce no tokens; everything else that is not
// a word is a separator.
type WikitextTokenizer struct{}

// NewWikitextTokenizer creates a WikitextTokenizer.
func NewWikitextTokenizer() *WikitextTokenizer {
	return &WikitextTokenizer{}
}

// Tokenize implements analysis.Tokenizer.
func (t *WikitextTokenizer) Tokenize(input []byte) analysis.TokenStream {
	s := &wikiScanner{input: input, tokens: make(analysis.TokenStream, 0, len(input)/6), position: 1}
	for s.pos < len(s.input) {
		s.scanNext()
	}
	return s.tokens
}

type wikiScanner struct {
	input    []byte
	pos      int
	tokens   analysis.TokenStream
	position int
}

func (s *wikiScanner) scanNext() {
	r, size := utf8.DecodeRune(s.input[s.pos:])

	switch {
	case r == '<' && s.skipTag():
	case r == '&' && s.skipEntity():
	case unicode.IsLetter(r):
		if !s.skipURL() {
			s.scanWord()
		}
	default:
		s.pos += size
	}
}

// skipTag consumes "<...>" when the closing bracket is near.
func (s *wikiScanner) skipTag() bool {
	rest := s.input[s.pos+1:]
	if len(rest) == 0 || !(rest[0] == '/' || rest[0] == '!' || isASCIILetter(rest[0])) {
		return false
	}
	if len(rest) > maxTagBytes {
		rest = rest[:maxTagBytes]
	}
	end := bytes.IndexByte(rest, '>')
	if end < 0 {
		return false
	}
	if next := bytes.IndexByte(rest[:end], '<'); next >= 0 {
		return false
	}
	s.pos += end + 2
	return true
}

// skipEntity consumes "&name;" and "&#123;".
func (s *wikiScanner) skipEntity() bool {
	i := s.pos + 1
	if i < len(s.input) && s.input[i] == '#' {
		i++
	}
	start := i
	for i < len(s.input) && i-start < 32 && isASCIIAlnum(s.input[i]) {
		i++
	}
	if i == start || i >= len(s.input) || s.input[i] != ';' {
		return false
	}
	s.pos = i + 1
	return true
}

// skipURL consumes "scheme://..." up to whitespace or a link delimiter.
func (s *wikiScanner) skipURL() bool {
	i := s.pos
	for i < len(s.input) && i-s.pos < 16 && isASCIIAlnum(s.input[i]) {
		i++
	}
	if !bytes.HasPrefix(s.input[i:], []byte("://")) {
		return false
	}
	for i < len(s.input) && !isURLEnd(s.input[i]) {
		i++
	}
	s.pos = i
	return true
}

func (s *wikiScanner) scanWord() {
	start := s.pos
	for s.pos < len(s.input) {
		r, size := utf8.DecodeRune(s.input[s.pos:])
		switch {
		case isWordRune(r):
			s.pos += size
		case isApostrophe(r):
			next, _ := utf8.DecodeRune(s.input[s.pos+size:])
			if !unicode.IsLetter(next) {
				s.emit(start, s.pos)
				return
			}
			s.pos += size
		default:
			s.emit(start, s.pos)
			return
		}
	}
	s.emit(start, s.pos)
}

func (s *wikiScanner) emit(start, end int) {
	s.tokens = append(s.tokens, &analysis.Token{
		Term:     append([]byte(nil), s.input[start:end]...),
		Start:    start,
		End:      end,
		Position: s.position,
		Type:     analysis.AlphaNumeric,
	})
	s.position++
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

func isASCIIAlnum(b byte) bool {
	return isASCIILetter(b) || b >= '0' && b <= '9'
}

func isURLEnd(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', ']', '|', '<', '"':
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func isASCIILetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
