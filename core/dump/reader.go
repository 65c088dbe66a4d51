// Package dump streams pages and revisions out of MediaWiki XML exports.
// The reader walks the XML token stream and decodes one revision at a time,
// so memory use is bounded by the largest single revision, not the archive.
package dump

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// =============================================================================
// Types
// =============================================================================

// Page holds the metadata shared by every revision of a page.
type Page struct {
	Title         string
	ID            int64
	Namespace     int
	Redirect      bool
	RedirectTitle string
}

// Revision is one historical version of a page.
type Revision struct {
	ID        int64
	ParentID  int64
	Timestamp time.Time
	Text      string
}

// Record pairs a revision with the page it belongs to.
type Record struct {
	Page     Page
	Revision Revision
}

type rawRevision struct {
	ID        string  `xml:"id"`
	ParentID  string  `xml:"parentid"`
	Timestamp string  `xml:"timestamp"`
	Text      rawText `xml:"text"`
}

type rawText struct {
	Value   string `xml:",chardata"`
	Deleted string `xml:"deleted,attr"`
}

type rawRedirect struct {
	Title string `xml:"title,attr"`
}

// =============================================================================
// Options
// =============================================================================

// Option configures a Reader.
type Option func(*Reader)

// WithMaxPages stops the reader once n pages have been fully emitted.
// n <= 0 means no limit.
func WithMaxPages(n int) Option {
	return func(r *Reader) {
		r.maxPages = n
	}
}

// =============================================================================
// Reader
// =============================================================================

// Reader yields (page, revision) records in archive order.
//
//	rd := dump.NewReader(stream)
//	for rd.Next() {
//	    rec := rd.Record()
//	}
//	if err := rd.Err(); err != nil { ... }
type Reader struct {
	dec      *xml.Decoder
	maxPages int

	pages     int
	inPage    bool
	pageHasID bool
	page      Page

	record Record
	err    error
	done   bool
}

// NewReader wraps an uncompressed XML stream.
func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{dec: xml.NewDecoder(r)}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Next advances to the next revision. It returns false at the end of the
// archive, after the page cutoff, or on error.
func (r *Reader) Next() bool {
	if r.done || r.err != nil {
		return false
	}

	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			if r.inPage {
				r.fail(rcerrors.Errorf(rcerrors.KindParse, "read page", r.page.Title, "archive ended inside page"))
				return false
			}
			r.done = true
			return false
		}
		if err != nil {
			r.fail(classify("read archive", err))
			return false
		}

		switch t := tok.(type) {
		case xml.StartElement:
			emitted, err := r.handleStart(t)
			if err != nil {
				r.fail(err)
				return false
			}
			if emitted {
				return true
			}
		case xml.EndElement:
			if t.Name.Local != "page" || !r.inPage {
				continue
			}
			if !r.pageHasID {
				r.fail(rcerrors.Errorf(rcerrors.KindParse, "read page", r.page.Title, "page has no id"))
				return false
			}
			r.inPage = false
			r.pages++
			if r.maxPages > 0 && r.pages >= r.maxPages {
				r.done = true
				return false
			}
		}
	}
}

// Record returns the record produced by the last successful Next.
func (r *Reader) Record() Record {
	return r.record
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// Pages returns the number of pages fully consumed so far.
func (r *Reader) Pages() int {
	return r.pages
}

func (r *Reader) fail(err error) {
	r.err = err
	r.done = true
}

// handleStart processes a start element and reports whether a record is
// ready to be emitted.
func (r *Reader) handleStart(t xml.StartElement) (bool, error) {
	name := t.Name.Local

	if !r.inPage {
		switch name {
		case "mediawiki":
			return false, nil
		case "page":
			r.inPage = true
			r.pageHasID = false
			r.page = Page{}
			return false, nil
		default:
			return false, r.skip(name)
		}
	}

	switch name {
	case "page":
		return false, rcerrors.Errorf(rcerrors.KindParse, "read page", r.page.Title, "nested <page> element")
	case "title":
		return false, r.decodeString(&t, &r.page.Title)
	case "ns":
		var ns string
		if err := r.decodeString(&t, &ns); err != nil {
			return false, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(ns))
		if err != nil {
			return false, rcerrors.Wrap(rcerrors.KindParse, "parse namespace", r.page.Title, err)
		}
		r.page.Namespace = n
		return false, nil
	case "id":
		var id string
		if err := r.decodeString(&t, &id); err != nil {
			return false, err
		}
		n, err := parseID(id)
		if err != nil {
			return false, rcerrors.Wrap(rcerrors.KindParse, "parse page id", r.page.Title, err)
		}
		r.page.ID = n
		r.pageHasID = true
		return false, nil
	case "redirect":
		var red rawRedirect
		if err := r.dec.DecodeElement(&red, &t); err != nil {
			return false, classify("decode redirect", err)
		}
		r.page.Redirect = true
		r.page.RedirectTitle = red.Title
		return false, nil
	case "revision":
		rev, err := r.decodeRevision(&t)
		if err != nil {
			return false, err
		}
		r.record = Record{Page: r.page, Revision: rev}
		return true, nil
	default:
		return false, r.skip(name)
	}
}

func (r *Reader) decodeRevision(t *xml.StartElement) (Revision, error) {
	var raw rawRevision
	if err := r.dec.DecodeElement(&raw, t); err != nil {
		return Revision{}, classify("decode revision", err)
	}

	id, err := parseID(raw.ID)
	if err != nil {
		return Revision{}, rcerrors.Wrap(rcerrors.KindParse, "parse revision id", r.page.Title, err)
	}

	rev := Revision{ID: id}

	if strings.TrimSpace(raw.ParentID) != "" {
		parent, err := parseID(raw.ParentID)
		if err != nil {
			return Revision{}, rcerrors.Wrap(rcerrors.KindParse, "parse parent id", r.page.Title, err)
		}
		rev.ParentID = parent
	}

	if ts := strings.TrimSpace(raw.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return Revision{}, rcerrors.Wrap(rcerrors.KindParse, "parse timestamp", r.page.Title, err)
		}
		rev.Timestamp = parsed
	}

	if raw.Text.Deleted == "" {
		rev.Text = raw.Text.Value
	}

	return rev, nil
}

func (r *Reader) decodeString(t *xml.StartElement, dst *string) error {
	if err := r.dec.DecodeElement(dst, t); err != nil {
		return classify("decode "+t.Name.Local, err)
	}
	return nil
}

func (r *Reader) skip(name string) error {
	if err := r.dec.Skip(); err != nil {
		return classify("skip "+name, err)
	}
	return nil
}

func parseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}
