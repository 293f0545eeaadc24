// Package clip defines the clipboard message model shared by the hub and its clients.
package clip

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind distinguishes text snippets from file posts.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// FileDescriptor is the metadata returned by the upload endpoint.
// The hub never looks at file bytes, only at this record.
type FileDescriptor struct {
	Filename     string `json:"filename" validate:"required"`
	OriginalName string `json:"originalName" validate:"required"`
	Size         int64  `json:"size" validate:"gte=0"`
	MimeType     string `json:"mimetype" validate:"required"`
	Path         string `json:"path" validate:"required"`
}

// IsImage reports whether the file should render with an image preview.
func (f FileDescriptor) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// Message is one clipboard entry. Timestamp is assigned by the client that
// created it and is carried verbatim.
type Message struct {
	Type      Kind            `json:"type" validate:"required,oneof=text file"`
	Text      string          `json:"text,omitempty"`
	File      *FileDescriptor `json:"file,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewText builds a text message stamped with now.
func NewText(text string, now time.Time) Message {
	return Message{Type: KindText, Text: text, Timestamp: FormatTimestamp(now)}
}

// NewFile builds a file message stamped with now.
func NewFile(fd FileDescriptor, now time.Time) Message {
	return Message{Type: KindFile, File: &fd, Timestamp: FormatTimestamp(now)}
}

// FormatTimestamp renders t the way browsers render Date.toISOString().
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ErrMalformed wraps every validation failure returned by Validate.
var ErrMalformed = errors.New("malformed message")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func messageValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(messageStructLevel, Message{})
	})
	return validate
}

func messageStructLevel(sl validator.StructLevel) {
	m := sl.Current().Interface().(Message)
	switch m.Type {
	case KindText:
		if strings.TrimSpace(m.Text) == "" {
			sl.ReportError(m.Text, "Text", "text", "notblank", "")
		}
	case KindFile:
		if m.File == nil {
			sl.ReportError(m.File, "File", "file", "required", "")
		}
	}
}

// Validate checks the message shape: the kind is known, text messages carry
// non-blank text and file messages carry a complete descriptor.
func (m Message) Validate() error {
	if err := messageValidator().Struct(m); err != nil {
		return errors.Join(ErrMalformed, err)
	}
	return nil
}
