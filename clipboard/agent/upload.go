package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

// ProgressFunc receives the number of file bytes sent so far and the total.
type ProgressFunc func(sent, total int64)

// UploadError is a non-200 answer from the upload endpoint.
type UploadError struct {
	Status  int
	Message string
}

func (e *UploadError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upload failed: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("upload failed (%d): %s", e.Status, e.Message)
}

// Upload posts the file at path to the hub's upload endpoint and returns the
// stored descriptor.
func (c *Client) Upload(ctx context.Context, path string, progress ProgressFunc) (clip.FileDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return clip.FileDescriptor{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return clip.FileDescriptor{}, fmt.Errorf("stat %s: %w", path, err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return clip.FileDescriptor{}, fmt.Errorf("detect type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return clip.FileDescriptor{}, fmt.Errorf("rewind %s: %w", path, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFilePart(mw, filepath.Base(path), mt.String(), &progressReader{
			r:     f,
			total: info.Size(),
			fn:    progress,
		}))
	}()

	u := *c.base
	u.Path += "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), pr)
	if err != nil {
		_ = pr.Close()
		return clip.FileDescriptor{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return clip.FileDescriptor{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
		return clip.FileDescriptor{}, &UploadError{Status: resp.StatusCode, Message: body.Error}
	}
	var fd clip.FileDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&fd); err != nil {
		return clip.FileDescriptor{}, fmt.Errorf("decode upload response: %w", err)
	}
	return fd, nil
}

func writeFilePart(mw *multipart.Writer, name, contentType string, r io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
