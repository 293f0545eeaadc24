package main

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

const (
	noFileMessage    = "No file uploaded"
	defaultMaxUpload = 50 << 20
	uploadsPrefix    = "/uploads/"
	sniffLen         = 3072
)

var (
	errFileTooLarge = errors.New("file too large")

	namePolicy = bluemonday.StrictPolicy()
)

// uploadStore writes uploaded files into dir and returns their descriptors.
// It is the only thing that touches file bytes; the hub only ever sees the
// descriptor.
type uploadStore struct {
	dir      string
	maxBytes int64
	index    *uploadIndex
	metrics  *metrics
	now      func() time.Time
}

func newUploadStore(dir string, maxBytes int64, m *metrics) (*uploadStore, error) {
	if dir == "" {
		return nil, errors.New("empty upload directory")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	idx, err := openUploadIndex(dir)
	if err != nil {
		return nil, err
	}
	return &uploadStore{dir: dir, maxBytes: maxBytes, index: idx, metrics: m, now: time.Now}, nil
}

func (u *uploadStore) Close() error {
	return u.index.Close()
}

// Save streams src to disk under a unique stored name. It fails with
// errFileTooLarge, leaving nothing behind, once more than maxBytes arrive.
func (u *uploadStore) Save(name, declaredType string, src io.Reader) (clip.FileDescriptor, error) {
	original := sanitizeOriginalName(name)
	stored := fmt.Sprintf("%d-%s-%s", u.now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:10], sanitizeFilename(original))
	tmpPath := filepath.Join(u.dir, "."+stored+".tmp")
	dstPath := filepath.Join(u.dir, stored)

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return clip.FileDescriptor{}, err
	}
	head = head[:n]

	f, err := os.Create(tmpPath)
	if err != nil {
		return clip.FileDescriptor{}, err
	}
	defer func() { _ = f.Close() }()
	body := io.MultiReader(bytes.NewReader(head), src)
	size, err := io.Copy(f, io.LimitReader(body, u.maxBytes+1))
	if err == nil && size > u.maxBytes {
		err = errFileTooLarge
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return clip.FileDescriptor{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return clip.FileDescriptor{}, err
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return clip.FileDescriptor{}, err
	}

	fd := clip.FileDescriptor{
		Filename:     stored,
		OriginalName: original,
		Size:         size,
		MimeType:     detectMimeType(head, declaredType),
		Path:         uploadsPrefix + stored,
	}
	if err := u.index.Put(fd); err != nil {
		log.Warn().Err(err).Str("file", stored).Msg("[upload] index descriptor")
	}
	u.metrics.uploads.Inc()
	u.metrics.uploadBytes.Add(float64(size))
	return fd, nil
}

func (u *uploadStore) handleUpload(w http.ResponseWriter, r *http.Request) {
	// leave room for multipart framing around the file part
	r.Body = http.MaxBytesReader(w, r.Body, u.maxBytes+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": noFileMessage})
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": noFileMessage})
			return
		}
		if err != nil {
			respondError(w, uploadStatus(err), err)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		fd, err := u.Save(part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		if err != nil {
			log.Warn().Err(err).Str("name", part.FileName()).Msg("[upload] save failed")
			respondError(w, uploadStatus(err), err)
			return
		}
		log.Info().Str("file", fd.Filename).Int64("size", fd.Size).Str("mimetype", fd.MimeType).Msg("[upload] stored")
		respondJSON(w, http.StatusOK, fd)
		return
	}
}

func (u *uploadStore) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		http.NotFound(w, r)
		return
	}
	file, err := os.Open(filepath.Join(u.dir, name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	// Orphans (stored before the index existed) are still served; the
	// content type is then guessed by ServeContent.
	if fd, err := u.index.Get(name); err == nil {
		w.Header().Set("Content-Type", fd.MimeType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": fd.OriginalName}))
	} else if !errors.Is(err, errFileNotFound) {
		log.Debug().Err(err).Str("file", name).Msg("[upload] index lookup")
	}
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func uploadStatus(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errFileTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func detectMimeType(head []byte, declared string) string {
	detected := mimetype.Detect(head)
	if detected.Is("application/octet-stream") && declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	return detected.String()
}

// sanitizeOriginalName strips markup and path components from a client
// supplied file name while keeping non-ASCII characters.
func sanitizeOriginalName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(name)))
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

// sanitizeFilename reduces name to a conservative on-disk form.
func sanitizeFilename(name string) string {
	const maxLen = 60
	var (
		b     strings.Builder
		count int
	)
	for _, r := range name {
		if count >= maxLen {
			break
		}
		switch {
		case r == '.' || r == '-' || r == '_',
			r >= '0' && r <= '9',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
			b.WriteRune(r)
			count++
		case r == ' ':
			b.WriteRune('-')
			count++
		}
	}
	out := strings.Trim(b.String(), "-._")
	if out == "" {
		return "file"
	}
	return out
}
