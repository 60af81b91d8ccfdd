package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// UploadRequest describes one file to send as the multipart "file" field.
type UploadRequest struct {
	Filename    string
	ContentType string
	// Size is the exact length of Body. When positive the request carries a
	// Content-Length; otherwise it is sent chunked.
	Size int64
	Body io.Reader
	// Progress, when set, is called with bytes written and the total body
	// size as the transport consumes the request. It is only called when
	// Size is known.
	Progress func(sent, total int64)
}

// UploadResponse is the decoded body of a successful upload.
type UploadResponse struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Message    string `json:"message"`
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload streams a PDF to the knowledge-base endpoint. The file is never
// held in memory as a whole.
func (c *Client) Upload(ctx context.Context, token string, up UploadRequest) (*UploadResponse, error) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(up.Filename)))
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	total := int64(-1)
	if up.Size > 0 {
		overhead, err := multipartOverhead(mw.Boundary(), header)
		if err != nil {
			return nil, err
		}
		total = overhead + up.Size
	}

	var body io.Reader = pr
	if up.Progress != nil && total > 0 {
		body = &progressReader{r: pr, total: total, report: up.Progress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathUpload, body)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// The writer blocks until the transport reads; the transport closes pr
	// when the request ends, which unblocks it on early failure.
	go func() {
		pw.CloseWithError(writeMultipart(mw, header, up.Body))
	}()

	var raw struct {
		DocumentID *int64 `json:"document_id"`
		Filename   string `json:"filename"`
		Message    string `json:"message"`
	}
	if err := c.do(req, token, &raw, FallbackUpload); err != nil {
		return nil, err
	}
	if raw.DocumentID == nil {
		return nil, ErrMissingDocumentID
	}
	return &UploadResponse{DocumentID: *raw.DocumentID, Filename: raw.Filename, Message: raw.Message}, nil
}

func writeMultipart(mw *multipart.Writer, header textproto.MIMEHeader, src io.Reader) error {
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}
	return nil
}

// multipartOverhead is the number of bytes the multipart framing adds around
// a single part with the given boundary and header.
func multipartOverhead(boundary string, header textproto.MIMEHeader) (int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, fmt.Errorf("set boundary: %w", err)
	}
	if _, err := mw.CreatePart(header); err != nil {
		return 0, fmt.Errorf("create form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("close multipart writer: %w", err)
	}
	return int64(buf.Len()), nil
}

type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent, p.total)
	}
	return n, err
}
