package scraper_pkg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cfetarifa/tariff"
)

const snippetLimit = 1500

// Scope is a document that may hold the tariff table: the main page or an
// embedded frame. playwright Frame satisfies it.
type Scope interface {
	Name() string
	URL() string
	Content() (string, error)
}

// Document is a parsed snapshot of one scope.
type Document struct {
	Scope Scope
	Index int
	Doc   *goquery.Document
	HTML  string
}

// Tables returns every table in the document.
func (d *Document) Tables() *goquery.Selection {
	return d.Doc.Find("table")
}

// Diagnostics describes what each scope contained when no table was found.
type Diagnostics struct {
	Frames []FrameDiagnostic `json:"frames" yaml:"frames"`
}

// FrameDiagnostic summarises one scope for debug responses.
type FrameDiagnostic struct {
	Index       int    `json:"index" yaml:"index"`
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	Tables      int    `json:"tables" yaml:"tables"`
	Selects     int    `json:"selects" yaml:"selects"`
	HTMLSnippet string `json:"htmlSnippet,omitempty" yaml:"htmlSnippet,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// LoadDocument snapshots a scope's HTML. Line breaks inside cells become
// spaces so cell text reads like the rendered text.
func LoadDocument(s Scope, index int) (*Document, error) {
	content, err := s.Content()
	if err != nil {
		return nil, fmt.Errorf("read scope %d content: %w", index, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse scope %d: %w", index, err)
	}
	doc.Find("br").ReplaceWithHtml(" ")
	return &Document{Scope: s, Index: index, Doc: doc, HTML: content}, nil
}

// FindScopeWithTables returns the first scope holding at least one table,
// checking scopes in order. Diagnostics for every inspected scope are
// returned either way.
func FindScopeWithTables(scopes []Scope) (*Document, *Diagnostics, error) {
	diag := &Diagnostics{Frames: make([]FrameDiagnostic, 0, len(scopes))}
	var found *Document
	for i, s := range scopes {
		fd := FrameDiagnostic{Index: i, Name: s.Name(), URL: s.URL()}
		doc, err := LoadDocument(s, i)
		if err != nil {
			fd.Error = err.Error()
			diag.Frames = append(diag.Frames, fd)
			continue
		}
		fd.Tables = doc.Tables().Length()
		fd.Selects = doc.Doc.Find("select").Length()
		fd.HTMLSnippet = truncate(doc.HTML, snippetLimit)
		diag.Frames = append(diag.Frames, fd)
		if found == nil && fd.Tables > 0 {
			found = doc
		}
	}
	if found == nil {
		return nil, diag, tariff.ErrScopeNotFound
	}
	return found, diag, nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// IsScopeMiss reports whether err means no usable table was located, which
// debug mode answers with diagnostics.
func IsScopeMiss(err error) bool {
	return errors.Is(err, tariff.ErrScopeNotFound) || errors.Is(err, tariff.ErrTableNotFound)
}
