// internal/archive/archive.go
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cenk/backoff"

	"package-registry/internal/model"
)

var (
	ErrNoManifest = errors.New("package.json not found in archive")

	readmeEntryPattern = regexp.MustCompile(`(?i)^README(\..*)?$`)
)

// DecodeContent decodes a base64 package content blob.
func DecodeContent(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// EncodeContent encodes raw archive bytes into the stored base64 form.
func EncodeContent(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// CostMB is the artifact cost attribute: decoded size in megabytes, rounded
// to two decimals.
func CostMB(data []byte) float64 {
	mb := float64(len(data)) / (1024 * 1024)
	return math.Round(mb*100) / 100
}

// ExtractManifest finds the package manifest (package.json) inside a zip
// archive and returns its name, version and declared repository URL.
func ExtractManifest(zipData []byte) (model.PackageManifest, error) {
	reader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("reading archive: %w", err)
	}

	for _, entry := range reader.File {
		if !strings.HasSuffix(entry.Name, "/package.json") && entry.Name != "package.json" {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return model.PackageManifest{}, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return model.PackageManifest{}, err
		}
		return parseManifest(data)
	}

	return model.PackageManifest{}, ErrNoManifest
}

// ExtractReadme returns the content of the first README entry in the
// archive, if any.
func ExtractReadme(zipData []byte) (string, bool) {
	reader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", false
	}

	for _, entry := range reader.File {
		if !readmeEntryPattern.MatchString(path.Base(entry.Name)) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return "", false
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", false
		}
		return string(data), true
	}
	return "", false
}

// repositoryField tolerates both forms package.json uses for the repository
// entry: a bare URL string or an object with a url field.
type repositoryField struct {
	URL string
}

func (r *repositoryField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.URL = s
		return nil
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.URL = obj.URL
	return nil
}

func parseManifest(data []byte) (model.PackageManifest, error) {
	var pj struct {
		Name       string          `json:"name"`
		Version    string          `json:"version"`
		Repository repositoryField `json:"repository"`
	}
	if err := json.Unmarshal(data, &pj); err != nil {
		return model.PackageManifest{}, fmt.Errorf("parsing package.json: %w", err)
	}
	return model.PackageManifest{
		Name:          pj.Name,
		Version:       pj.Version,
		RepositoryURL: pj.Repository.URL,
	}, nil
}

// Fetcher downloads repository archives over HTTP.
type Fetcher struct {
	client  *http.Client
	baseURL string
}

// NewFetcher creates a Fetcher with a default HTTP client.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: "https://github.com",
	}
}

// DownloadBranchArchive fetches the zip archive of a repository branch.
func (f *Fetcher) DownloadBranchArchive(ctx context.Context, owner, name, branch string) ([]byte, error) {
	zipURL := fmt.Sprintf("%s/%s/%s/archive/refs/heads/%s.zip", f.baseURL, owner, name, branch)

	var data []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("archive download returned status %d", resp.StatusCode)
			if resp.StatusCode == http.StatusNotFound {
				return backoff.Permanent(err)
			}
			return err
		}

		data, err = io.ReadAll(resp.Body)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return data, nil
}
