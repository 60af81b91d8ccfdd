// Package pdfutil inspects local files before they are offered for upload.
package pdfutil

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	pdf "github.com/ledongthuc/pdf"
)

// ContentType is the only media type the upload endpoint accepts.
const ContentType = "application/pdf"

// sniffLen matches the window http.DetectContentType looks at.
const sniffLen = 512

// Info describes a local file.
type Info struct {
	Path        string
	ContentType string
	Size        int64
	// Pages is zero when the file is not a PDF or its page tree is unreadable.
	Pages int
}

// IsPDF reports whether contentType names a PDF, ignoring parameters.
func IsPDF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == ContentType
}

// Sniff reads up to 512 bytes from r and returns the detected media type.
func Sniff(r io.Reader) (string, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("sniff content type: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}

// Inspect stats, sniffs and, for PDFs, counts the pages of the file at path.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return Info{}, fmt.Errorf("%s is a directory", path)
	}
	contentType, err := Sniff(f)
	if err != nil {
		return Info{}, err
	}
	info := Info{Path: path, ContentType: contentType, Size: st.Size()}
	if IsPDF(contentType) {
		if pages, err := PageCount(f, st.Size()); err == nil {
			info.Pages = pages
		}
	}
	return info, nil
}

// PageCount returns the number of pages declared by the document's page tree.
func PageCount(r io.ReaderAt, size int64) (pages int, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", rec)
		}
	}()
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc.NumPage(), nil
}
