package detscore

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Discover walks dirs and returns the image files beneath them in lexical
// order per directory. A dir that is itself an image file is returned as is.
func Discover(dirs ...string) ([]string, error) {
	var images []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsImage(path) {
				images = append(images, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", dir, err)
		}
	}
	return images, nil
}
