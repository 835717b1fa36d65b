// Package ingest turns study material (PDF pages, web articles, plain
// text files) into clean text ready for summarization.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// maxFetchSize caps how much of a URL response is read.
const maxFetchSize = 5 << 20 // 5MB

// ErrNoText is returned when a source parses cleanly but yields no text,
// e.g. a scanned PDF with no text layer or an HTML page of pure markup.
var ErrNoText = errors.New("no extractable text")

// Kind identifies the source format of a piece of study material.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindHTML Kind = "html"
	KindText Kind = "text"
)

// Material is extracted study content.
type Material struct {
	Title string
	Kind  Kind
	Text  string
}

// Load reads a local file and extracts its text. The format is detected
// from the extension, falling back to content sniffing.
func Load(path string) (Material, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Material{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return build(filepath.Base(path), DetectKind(path, data), data)
}

// Fetch downloads a URL and extracts its text. Responses are read up to
// maxFetchSize. HTML pages keep their <title> as the material title;
// everything else is titled by the URL.
func Fetch(ctx context.Context, client *http.Client, rawURL string) (Material, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Material{}, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Material{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Material{}, fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return Material{}, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	kind := kindFromContentType(resp.Header.Get("Content-Type"))
	if kind == "" {
		kind = DetectKind(urlPath(rawURL), data)
	}
	return build(rawURL, kind, data)
}

// FromBytes extracts material from content already in hand. The name is
// used for format detection and as the default title.
func FromBytes(name string, data []byte) (Material, error) {
	return build(name, DetectKind(name, data), data)
}

// Extract returns the plain text of material in the given format.
func Extract(kind Kind, data []byte) (string, error) {
	switch kind {
	case KindPDF:
		return extractPDF(data)
	case KindHTML:
		_, text, err := extractHTML(data)
		return text, err
	default:
		return strings.TrimSpace(string(data)), nil
	}
}

// DetectKind guesses the format from a file name or URL path, falling
// back to content sniffing. Unknown input is treated as plain text.
func DetectKind(name string, data []byte) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".html", ".htm":
		return KindHTML
	case ".txt", ".md":
		return KindText
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return KindPDF
	}
	head := strings.ToLower(string(bytes.TrimLeft(data, " \t\r\n")))
	if strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") {
		return KindHTML
	}
	return KindText
}

func build(title string, kind Kind, data []byte) (Material, error) {
	m := Material{Title: title, Kind: kind}
	switch kind {
	case KindPDF:
		text, err := extractPDF(data)
		if err != nil {
			return Material{}, err
		}
		m.Text = text
	case KindHTML:
		pageTitle, text, err := extractHTML(data)
		if err != nil {
			return Material{}, err
		}
		if pageTitle != "" {
			m.Title = pageTitle
		}
		m.Text = text
	default:
		m.Text = strings.TrimSpace(string(data))
	}
	if m.Text == "" {
		return Material{}, fmt.Errorf("%s: %w", title, ErrNoText)
	}
	return m, nil
}

// The pdf package panics on some malformed inputs, so the parse is
// fenced with a recover.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func extractHTML(data []byte) (title, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}
	var b strings.Builder
	collectText(doc, &b)
	return htmlTitle(doc), collapseWhitespace(b.String()), nil
}

// collectText walks the DOM accumulating text nodes. Non-content
// subtrees are skipped wholesale.
func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "head", "nav", "footer":
			return
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func htmlTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := htmlTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// collapseWhitespace squeezes whitespace runs to single spaces. HTML
// source indentation would otherwise dominate the extracted text.
func collapseWhitespace(s string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func kindFromContentType(ct string) Kind {
	switch {
	case strings.Contains(ct, "application/pdf"):
		return KindPDF
	case strings.Contains(ct, "text/html"):
		return KindHTML
	case strings.Contains(ct, "text/plain"):
		return KindText
	}
	return ""
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
