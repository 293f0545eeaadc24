package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

var errFileNotFound = errors.New("file not found")

// uploadIndex records descriptors of stored uploads in a PebbleDB living next
// to the files, keyed by stored name. Files on disk outlive a restart; the
// index lets them keep their original name and content type.
type uploadIndex struct {
	db *pebble.DB
}

func openUploadIndex(dir string) (*uploadIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Join(filepath.Clean(dir), ".index"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open upload index: %w", err)
	}
	return &uploadIndex{db: db}, nil
}

func (x *uploadIndex) Put(fd clip.FileDescriptor) error {
	val, err := json.Marshal(fd)
	if err != nil {
		return err
	}
	return x.db.Set([]byte(fd.Filename), val, pebble.Sync)
}

func (x *uploadIndex) Get(name string) (clip.FileDescriptor, error) {
	val, closer, err := x.db.Get([]byte(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return clip.FileDescriptor{}, errFileNotFound
		}
		return clip.FileDescriptor{}, err
	}
	defer func() { _ = closer.Close() }()
	var fd clip.FileDescriptor
	if err := json.Unmarshal(val, &fd); err != nil {
		return clip.FileDescriptor{}, fmt.Errorf("decode descriptor %q: %w", name, err)
	}
	return fd, nil
}

// Count walks the index and returns the number of recorded uploads.
func (x *uploadIndex) Count() (int, error) {
	it, err := x.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}

func (x *uploadIndex) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}
