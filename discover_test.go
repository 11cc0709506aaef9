package detscore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.png", "a.JPG", "c.txt", "e.gif", "sub/d.webp", "sub/f.jpeg"} {
		writeFile(t, filepath.Join(root, name), "x")
	}
	single := writeFile(t, filepath.Join(t.TempDir(), "one.jpg"), "x")

	got, err := Discover(root, single)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.JPG"),
		filepath.Join(root, "b.png"),
		filepath.Join(root, "sub", "d.webp"),
		filepath.Join(root, "sub", "f.jpeg"),
		single,
	}, got)

	_, err = Discover(filepath.Join(root, "absent"))
	assert.Error(t, err)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("x/y/IMG_01.JPEG"))
	assert.True(t, IsImage("frame.webp"))
	assert.False(t, IsImage("frame.txt"))
	assert.False(t, IsImage("jpg"))
}
