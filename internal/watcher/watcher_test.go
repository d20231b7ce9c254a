package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch chan string) func(string) {
	return func(path string) {
		select {
		case ch <- path:
		default:
		}
	}
}

func TestWatchDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.cpp")
	require.NoError(t, os.WriteFile(file, []byte("int x;\n"), 0644))

	w, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	changed := make(chan string, 8)
	removed := make(chan string, 8)
	w.SetCallbacks(collect(changed), collect(removed))
	w.Start()
	w.Watch(file)

	require.NoError(t, os.WriteFile(file, []byte("int x = 1;\n"), 0644))

	select {
	case path := <-changed:
		assert.Equal(t, file, path)
	case <-time.After(5 * time.Second):
		t.Fatal("write event never delivered")
	}
}

func TestWatchDetectsRemove(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "b.cpp")
	require.NoError(t, os.WriteFile(file, []byte("int y;\n"), 0644))

	w, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	changed := make(chan string, 8)
	removed := make(chan string, 8)
	w.SetCallbacks(collect(changed), collect(removed))
	w.Start()
	w.Watch(file)

	require.NoError(t, os.Remove(file))

	select {
	case path := <-removed:
		assert.Equal(t, file, path)
	case <-time.After(5 * time.Second):
		t.Fatal("remove event never delivered")
	}
}

func TestUntrackedFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "tracked.cpp")
	other := filepath.Join(dir, "other.cpp")
	require.NoError(t, os.WriteFile(tracked, []byte("int a;\n"), 0644))

	w, err := New(10 * time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	changed := make(chan string, 8)
	w.SetCallbacks(collect(changed), nil)
	w.Start()
	w.Watch(tracked)

	// A sibling file in the watched directory must not surface.
	require.NoError(t, os.WriteFile(other, []byte("int b;\n"), 0644))

	select {
	case path := <-changed:
		t.Fatalf("unexpected event for %s", path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchedFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "c.cpp")
	require.NoError(t, os.WriteFile(file, []byte("int z;\n"), 0644))

	w, err := New(10 * time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	w.Watch(file)
	w.Watch(file) // idempotent
	assert.Equal(t, []string{file}, w.WatchedFiles())
}
