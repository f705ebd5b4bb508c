package modelgraph

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Fetcher retrieves the raw bytes of a description, patch, shape or test pair source.
type Fetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// SourceFetcher reads http(s) URLs, file:// URLs and plain paths. Relative paths are resolved
// against BaseDir.
type SourceFetcher struct {
	Client  *http.Client
	BaseDir string
	// MaxBytes caps the size of a fetched source. Zero means 64MiB.
	MaxBytes int64
}

const defaultMaxSourceBytes = 64 << 20

// Fetch implements Fetcher.
func (f *SourceFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = defaultMaxSourceBytes
	}

	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return f.fetchHTTP(ctx, source, limit)
	case strings.HasPrefix(source, "file://"):
		parsed, err := url.Parse(source)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid source %q", source)
		}
		return f.readFile(parsed.Path, limit)
	default:
		return f.readFile(source, limit)
	}
}

func (f *SourceFetcher) fetchHTTP(ctx context.Context, source string, limit int64) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid source %q", source)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %q", source)
	}
	defer goutils.UncheckedErrorFunc(resp.Body.Close)
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching %q: unexpected status %s", source, resp.Status)
	}
	return readLimited(resp.Body, limit, source)
}

func (f *SourceFetcher) readFile(path string, limit int64) ([]byte, error) {
	if !filepath.IsAbs(path) && f.BaseDir != "" {
		path = filepath.Join(f.BaseDir, path)
	}
	//nolint:gosec
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer goutils.UncheckedErrorFunc(file.Close)
	return readLimited(file, limit, path)
}

func readLimited(r io.Reader, limit int64, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", name)
	}
	if int64(len(data)) > limit {
		return nil, errors.Errorf("%q is larger than %d bytes", name, limit)
	}
	return data, nil
}
