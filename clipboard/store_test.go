package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func textMsg(s string) clip.Message {
	return clip.NewText(s, testNow)
}

func TestMemoryLog_SnapshotIsPrefix(t *testing.T) {
	req := require.New(t)
	l := newMemoryLog(0)

	// Given an empty log
	empty := l.Snapshot()
	req.NotNil(empty)
	req.Empty(empty)

	// When messages are appended
	req.Equal(0, l.Append(textMsg("a")))
	before := l.Snapshot()
	req.Equal(1, l.Append(textMsg("b")))
	req.Equal(2, l.Append(textMsg("c")))
	after := l.Snapshot()

	// Then the earlier snapshot is a prefix of the later one
	req.Len(before, 1)
	req.Len(after, 3)
	req.Equal(before, after[:len(before)])
	req.Equal(3, l.Len())
}

func TestMemoryLog_SnapshotIsACopy(t *testing.T) {
	req := require.New(t)
	l := newMemoryLog(0)
	l.Append(textMsg("a"))

	snap := l.Snapshot()
	snap[0].Text = "mutated"
	l.Append(textMsg("b"))

	req.Len(snap, 1)
	req.Equal("a", l.Snapshot()[0].Text)
}

func TestMemoryLog_Limit(t *testing.T) {
	req := require.New(t)
	l := newMemoryLog(3)

	for i := range 5 {
		req.Equal(i, l.Append(textMsg(fmt.Sprint(i))))
	}

	snap := l.Snapshot()
	req.Len(snap, 3)
	req.Equal([]string{"2", "3", "4"}, []string{snap[0].Text, snap[1].Text, snap[2].Text})
	req.Equal(3, l.Len())
}
