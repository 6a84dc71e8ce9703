// Package ingest turns uploaded files into text chunks: it validates
// extensions, stores the raw bytes in the session, extracts plain text and
// splits it.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"document-portal/internal/pkg/pdfextract"
)

// SupportedExtensions is the closed set of accepted upload types.
var SupportedExtensions = []string{"docx", "md", "pdf", "txt"}

// ErrEncrypted marks documents that cannot be read without a password.
var ErrEncrypted = pdfextract.ErrEncrypted

// Extractor turns file bytes into plain text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

type ExtractorFunc func(data []byte) (string, error)

func (f ExtractorFunc) Extract(data []byte) (string, error) { return f(data) }

// Extractors maps a lowercase extension (no dot) to its extractor.
type Extractors map[string]Extractor

// NewExtractors checks that table covers exactly the supported extensions.
func NewExtractors(table map[string]Extractor) (Extractors, error) {
	var errs []error
	for _, ext := range SupportedExtensions {
		if table[ext] == nil {
			errs = append(errs, fmt.Errorf("no extractor for %q", ext))
		}
	}
	for ext := range table {
		if !IsSupported(ext) {
			errs = append(errs, fmt.Errorf("extractor registered for unsupported extension %q", ext))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	out := make(Extractors, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out, nil
}

// DefaultExtractors is the built-in extension table.
func DefaultExtractors() Extractors {
	e, err := NewExtractors(map[string]Extractor{
		"pdf":  ExtractorFunc(pdfextract.ExtractText),
		"docx": ExtractorFunc(extractDOCX),
		"txt":  ExtractorFunc(extractPlain),
		"md":   ExtractorFunc(extractMarkdown),
	})
	if err != nil {
		panic(err)
	}
	return e
}

// Extract runs the extractor registered for ext.
func (e Extractors) Extract(ext string, data []byte) (string, error) {
	x, ok := e[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("unsupported extension %q", ext)
	}
	return x.Extract(data)
}

func IsSupported(ext string) bool {
	i := sort.SearchStrings(SupportedExtensions, ext)
	return i < len(SupportedExtensions) && SupportedExtensions[i] == ext
}

func extractPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text file is not valid utf-8")
	}
	return strings.TrimPrefix(string(data), "\uFEFF"), nil
}

var (
	mdCodeFence  = regexp.MustCompile("(?m)^```.*$")
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBlockquote = regexp.MustCompile(`(?m)^>\s?`)
	mdEmphasis   = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	mdBlankRuns  = regexp.MustCompile(`\n{3,}`)
)

// extractMarkdown keeps the prose and code contents while dropping markup.
func extractMarkdown(data []byte) (string, error) {
	text, err := extractPlain(data)
	if err != nil {
		return "", err
	}
	text = mdCodeFence.ReplaceAllString(text, "")
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdBlockquote.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "$2")
	text = mdBlankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

type docxBody struct {
	Paragraphs []struct {
		Runs []struct {
			Text []struct {
				Content string `xml:",chardata"`
			} `xml:"t"`
		} `xml:"r"`
	} `xml:"body>p"`
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		var body docxBody
		if err := xml.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		var sb strings.Builder
		for i, p := range body.Paragraphs {
			if i > 0 {
				sb.WriteByte('\n')
			}
			for _, r := range p.Runs {
				for _, t := range r.Text {
					sb.WriteString(t.Content)
				}
			}
		}
		return strings.TrimSpace(sb.String()), nil
	}
	return "", errors.New("docx has no word/document.xml")
}
