package cli

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI2HU/fbads/internal/config"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"spring/a.jpg":         "aaaa",
		"spring/video/b.mp4":   "bb",
		"summer/c.png":         "c",
		"spring/empty/.gitkey": "",
	})

	files, err := collectFiles(
		[]string{filepath.Join(root, "spring"), filepath.Join(root, "summer")},
		config.UploadConfig{MaxBytes: 1 << 20, MaxFiles: 10},
	)
	require.NoError(t, err)

	var names []string
	var total int64
	for _, f := range files {
		names = append(names, f.Name)
		total += f.Size
		assert.FileExists(t, f.Path)
	}
	sort.Strings(names)

	assert.Equal(t, []string{"spring/a.jpg", "spring/empty/.gitkey", "spring/video/b.mp4", "summer/c.png"}, names)
	assert.Equal(t, int64(7), total)
}

func TestCollectFilesLimits(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"ads/a.jpg": "aaaa",
		"ads/b.jpg": "bbbb",
	})
	folder := filepath.Join(root, "ads")

	_, err := collectFiles([]string{folder}, config.UploadConfig{MaxBytes: 1 << 20, MaxFiles: 1})
	assert.ErrorContains(t, err, "more than 1 files")

	_, err = collectFiles([]string{folder}, config.UploadConfig{MaxBytes: 6, MaxFiles: 10})
	assert.ErrorContains(t, err, "exceed")
}

func TestCollectFilesRejectsBadInput(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"file.jpg": "x"})
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	limits := config.DefaultConfig().Uploads

	_, err := collectFiles([]string{filepath.Join(root, "file.jpg")}, limits)
	assert.ErrorContains(t, err, "not a folder")

	_, err = collectFiles([]string{filepath.Join(root, "missing")}, limits)
	assert.Error(t, err)

	_, err = collectFiles([]string{filepath.Join(root, "empty")}, limits)
	assert.ErrorContains(t, err, "no files found")
}
