package upload

import (
	"io"
	"os"
	"path/filepath"

	pdfutil "github.com/dharsanguruparan/ragctl/internal/pdf"
)

// OpenLocal describes the file at path, sniffing its content type from the
// first bytes rather than trusting the extension.
func OpenLocal(path string) (File, error) {
	info, err := pdfutil.Inspect(path)
	if err != nil {
		return File{}, err
	}
	return File{
		Name:        filepath.Base(path),
		ContentType: info.ContentType,
		Size:        info.Size,
		Pages:       info.Pages,
		Open:        func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}
