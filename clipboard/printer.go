package main

import (
	"fmt"
	"io"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

func printMessage(w io.Writer, m clip.Message) {
	switch m.Type {
	case clip.KindText:
		fmt.Fprintf(w, "[%s] %s\n", m.Timestamp, m.Text)
	case clip.KindFile:
		if m.File == nil {
			return
		}
		fmt.Fprintf(w, "[%s] file %s (%s, %d bytes) %s\n", m.Timestamp, m.File.OriginalName, m.File.MimeType, m.File.Size, m.File.Path)
	}
}
