package ingest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Document types accepted for learning.
const (
	TypeText = "text"
	TypeHTML = "html"
	TypePDF  = "pdf"
)

// ValidType reports whether t is a supported document type.
func ValidType(t string) bool {
	switch t {
	case TypeText, TypeHTML, TypePDF:
		return true
	}
	return false
}

// ToText converts document content to plain text. PDF content is expected
// base64-encoded.
func ToText(docType, content string) (string, error) {
	switch docType {
	case TypeText, "":
		return content, nil
	case TypeHTML:
		return htmlToText(content)
	case TypePDF:
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", fmt.Errorf("decoding pdf content: %w", err)
		}
		return pdfToText(raw)
	}
	return "", fmt.Errorf("unsupported document type %q", docType)
}

func htmlToText(src string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return collapseSpace(b.String()), nil
			}
			return "", fmt.Errorf("parsing html: %w", z.Err())
		case html.StartTagToken:
			if name, _ := z.TagName(); isSkippedTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isSkippedTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func isSkippedTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript":
		return true
	}
	return false
}

func pdfToText(raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return collapseSpace(buf.String()), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitSentences breaks text on ., ! and ? followed by whitespace, and on
// line breaks. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return out
}
