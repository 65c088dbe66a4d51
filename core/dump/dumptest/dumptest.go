// Package dumptest builds small MediaWiki export documents for tests.
package dumptest

import (
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Page describes a page for BuildXML.
type Page struct {
	Title     string
	ID        int64
	Redirect  string
	Revisions []Revision
}

// Revision describes a revision for BuildXML.
type Revision struct {
	ID   int64
	Text string
}

// BuildXML renders pages as a minimal MediaWiki export document.
func BuildXML(pages ...Page) string {
	var b strings.Builder
	b.WriteString(`<mediawiki xmlns="http://www.mediawiki.org/xml/export-0.10/" version="0.10">`)
	b.WriteString("\n  <siteinfo><sitename>Wikipedia</sitename><namespaces><namespace key=\"0\" /></namespaces></siteinfo>\n")

	for _, p := range pages {
		b.WriteString("  <page>\n")
		fmt.Fprintf(&b, "    <title>%s</title>\n    <ns>0</ns>\n    <id>%d</id>\n", html.EscapeString(p.Title), p.ID)
		if p.Redirect != "" {
			fmt.Fprintf(&b, "    <redirect title=\"%s\" />\n", html.EscapeString(p.Redirect))
		}
		for _, r := range p.Revisions {
			b.WriteString("    <revision>\n")
			fmt.Fprintf(&b, "      <id>%d</id>\n", r.ID)
			b.WriteString("      <timestamp>2018-01-02T03:04:05Z</timestamp>\n")
			b.WriteString("      <contributor><username>Editor</username><id>99999</id></contributor>\n")
			fmt.Fprintf(&b, "      <text xml:space=\"preserve\">%s</text>\n", html.EscapeString(r.Text))
			b.WriteString("    </revision>\n")
		}
		b.WriteString("  </page>\n")
	}

	b.WriteString("</mediawiki>\n")
	return b.String()
}

// WriteGzip writes BuildXML(pages...) to path as a gzip archive.
func WriteGzip(path string, pages ...Page) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(BuildXML(pages...))); err != nil {
		return err
	}
	return zw.Close()
}

// Pages returns n single-revision pages with ids starting at 1. Page i has
// text "alpha beta" for even i and "gamma delta" for odd i.
func Pages(n int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		text := "alpha beta"
		if i%2 == 1 {
			text = "gamma delta"
		}
		pages[i] = Page{
			Title:     fmt.Sprintf("Page %d", i+1),
			ID:        int64(i + 1),
			Revisions: []Revision{{ID: int64(1000 + i), Text: text}},
		}
	}
	return pages
}
