package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// gbkName encodes a UTF-8 entry name the way legacy archivers store it.
func gbkName(t *testing.T, name string) string {
	t.Helper()
	raw, err := simplifiedchinese.GBK.NewEncoder().String(name)
	require.NoError(t, err)
	return raw
}

func writeZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestNormalizeTranscodesLegacyNames(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeZip(t, filepath.Join(src, "cert.zip"), map[string][]byte{
		gbkName(t, "证件/营业执照.pdf"): []byte("pdf-bytes"),
		"plain.txt":               []byte("ascii"),
	})

	n := New("gbk", nil)
	results, err := n.Normalize(src, dst)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	body, err := os.ReadFile(filepath.Join(dst, "cert", "证件", "营业执照.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), body)

	body, err = os.ReadFile(filepath.Join(dst, "cert", "plain.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ascii"), body)
}

func TestNormalizeResolvesCollisionsWithSuffix(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeZip(t, filepath.Join(src, "cert.zip"), map[string][]byte{"a.pdf": []byte("first")})
	writeZip(t, filepath.Join(src, "sub", "cert.zip"), map[string][]byte{"a.pdf": []byte("second")})

	n := New("gbk", nil)
	results, err := n.Normalize(src, dst)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first, err := os.ReadFile(filepath.Join(dst, "cert", "a.pdf"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dst, "cert_1", "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(first))
	assert.Equal(t, "second", string(second))
}

func TestNormalizePurgesSourceOnSuccess(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeZip(t, filepath.Join(src, "cert.zip"), map[string][]byte{"a.pdf": []byte("x")})
	require.NoError(t, os.WriteFile(filepath.Join(src, "leftover.tmp"), []byte("junk"), 0o644))

	n := New("gbk", nil)
	_, err := n.Normalize(src, dst)
	require.NoError(t, err)

	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	assert.Empty(t, entries, "source directory is a scratch buffer and must be cleared")
}

func TestNormalizeContinuesPastBrokenArchive(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "broken.zip"), []byte("not a zip"), 0o644))
	writeZip(t, filepath.Join(src, "good.zip"), map[string][]byte{"a.pdf": []byte("ok")})

	n := New("gbk", nil)
	results, err := n.Normalize(src, dst)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var failed, succeeded int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)

	_, err = os.Stat(filepath.Join(dst, "good", "a.pdf"))
	assert.NoError(t, err)
}
