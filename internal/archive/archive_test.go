// internal/archive/archive_test.go
package archive

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildZip assembles an in-memory zip with the given entries.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractManifest(t *testing.T) {
	t.Run("nested package.json with repository object", func(t *testing.T) {
		data := buildZip(t, map[string]string{
			"pkg-main/README.md":    "# pkg",
			"pkg-main/package.json": `{"name": "pkg", "version": "1.2.3", "repository": {"url": "git+https://github.com/o/pkg.git"}}`,
		})

		m, err := ExtractManifest(data)
		require.NoError(t, err)
		assert.Equal(t, "pkg", m.Name)
		assert.Equal(t, "1.2.3", m.Version)
		assert.Equal(t, "git+https://github.com/o/pkg.git", m.RepositoryURL)
	})

	t.Run("repository as bare string", func(t *testing.T) {
		data := buildZip(t, map[string]string{
			"package.json": `{"name": "pkg", "version": "0.1.0", "repository": "https://github.com/o/pkg"}`,
		})

		m, err := ExtractManifest(data)
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/o/pkg", m.RepositoryURL)
	})

	t.Run("missing manifest", func(t *testing.T) {
		data := buildZip(t, map[string]string{"pkg/main.js": "console.log(1)"})
		_, err := ExtractManifest(data)
		assert.ErrorIs(t, err, ErrNoManifest)
	})

	t.Run("not a zip", func(t *testing.T) {
		_, err := ExtractManifest([]byte("definitely not a zip"))
		assert.Error(t, err)
	})
}

func TestExtractReadme(t *testing.T) {
	data := buildZip(t, map[string]string{
		"pkg-main/readme.MD":    "hello from the readme",
		"pkg-main/package.json": `{}`,
	})

	content, ok := ExtractReadme(data)
	require.True(t, ok)
	assert.Equal(t, "hello from the readme", content)

	_, ok = ExtractReadme(buildZip(t, map[string]string{"pkg/main.js": "x"}))
	assert.False(t, ok)
}

func TestContentRoundTrip(t *testing.T) {
	raw := []byte("some archive bytes")
	decoded, err := DecodeContent(EncodeContent(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = DecodeContent("!!! not base64 !!!")
	assert.Error(t, err)
}

func TestCostMB(t *testing.T) {
	assert.Equal(t, 0.0, CostMB(nil))
	assert.Equal(t, 1.0, CostMB(make([]byte, 1024*1024)))
	assert.Equal(t, 2.5, CostMB(make([]byte, 1024*1024*5/2)))
}

func TestDownloadBranchArchive(t *testing.T) {
	payload := buildZip(t, map[string]string{"repo-main/package.json": `{"name": "x"}`})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/o/repo/archive/refs/heads/main.zip":
			w.Write(payload)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := NewFetcher()
	f.baseURL = server.URL

	data, err := f.DownloadBranchArchive(t.Context(), "o", "repo", "main")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = f.DownloadBranchArchive(t.Context(), "o", "missing", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
