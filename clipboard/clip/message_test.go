package clip

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleFile() FileDescriptor {
	return FileDescriptor{
		Filename:     "1700000000000-xyz-a.png",
		OriginalName: "a.png",
		Size:         1024,
		MimeType:     "image/png",
		Path:         "/uploads/xyz-a.png",
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fd := sampleFile()
	missingPath := sampleFile()
	missingPath.Path = ""

	cases := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"text", NewText("hello", now), true},
		{"file", NewFile(fd, now), true},
		{"empty file is fine", NewFile(FileDescriptor{Filename: "f", OriginalName: "f", MimeType: "text/plain", Path: "/uploads/f"}, now), true},
		{"whitespace text", NewText("   \n\t", now), false},
		{"empty text", Message{Type: KindText}, false},
		{"unknown kind", Message{Type: "audio", Text: "x"}, false},
		{"missing kind", Message{Text: "x"}, false},
		{"file without descriptor", Message{Type: KindFile}, false},
		{"file missing path", NewFile(missingPath, now), false},
		{"negative size", NewFile(FileDescriptor{Filename: "f", OriginalName: "f", Size: -1, MimeType: "a/b", Path: "/p"}, now), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestMessageWireShape(t *testing.T) {
	req := require.New(t)
	now := time.Date(2024, 5, 1, 12, 30, 15, 123_000_000, time.UTC)

	raw, err := json.Marshal(NewText("hello", now))
	req.NoError(err)
	req.JSONEq(`{"type":"text","text":"hello","timestamp":"2024-05-01T12:30:15.123Z"}`, string(raw))

	raw, err = json.Marshal(NewFile(sampleFile(), now))
	req.NoError(err)
	req.JSONEq(`{"type":"file","timestamp":"2024-05-01T12:30:15.123Z","file":{
		"filename":"1700000000000-xyz-a.png","originalName":"a.png","size":1024,
		"mimetype":"image/png","path":"/uploads/xyz-a.png"}}`, string(raw))
}

func TestIsImage(t *testing.T) {
	require.True(t, sampleFile().IsImage())
	require.False(t, FileDescriptor{MimeType: "application/pdf"}.IsImage())
}
