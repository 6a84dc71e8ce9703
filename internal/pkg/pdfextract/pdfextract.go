package pdfextract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrEncrypted is returned for password-protected PDFs.
var ErrEncrypted = errors.New("pdf is encrypted")

// ExtractPages returns the plain text of every page, in page order.
// Pages without extractable text yield an empty string.
func ExtractPages(b []byte) (pages []string, err error) {
	if len(b) == 0 {
		return nil, errors.New("empty pdf")
	}
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return nil, ErrEncrypted
		}
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := pdfReader.NumPage()
	pages = make([]string, 0, n)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= n; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// ExtractText joins the pages of a PDF, each prefixed with a
// "--- Page N ---" marker.
func ExtractText(b []byte) (string, error) {
	pages, err := ExtractPages(b)
	if err != nil {
		return "", err
	}
	return LabelPages(pages), nil
}

// LabelPages renders pages the way ExtractText does. Blank pages are omitted.
func LabelPages(pages []string) string {
	var sb strings.Builder
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n--- Page %d ---\n%s", i+1, text)
	}
	return sb.String()
}
