package stage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Source supplies the bytes or files of one artifact.
type Source interface {
	// Location is the artifact as configured, for reports.
	Location() string
	// Name is the file name the artifact gets inside the version directory when not extracted.
	Name() string
	IsDir() bool
	// Open returns the artifact content. Directories cannot be opened.
	Open(ctx context.Context) (io.ReadCloser, error)
	// Check verifies the artifact is reachable without fetching it.
	Check(ctx context.Context) error
}

// NewSource picks a source implementation for the artifact location.
func NewSource(location string, client *http.Client) (Source, error) {
	if location == "" {
		return nil, fmt.Errorf("empty artifact location")
	}
	u, err := url.Parse(location)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			if client == nil {
				client = &http.Client{Timeout: 10 * time.Minute}
			}
			return &httpSource{url: u, client: client}, nil
		case "file":
			return newLocalSource(u.Path)
		}
	}
	if strings.Contains(location, "://") {
		return nil, fmt.Errorf("unsupported artifact scheme in %q", location)
	}
	return newLocalSource(location)
}

type localSource struct {
	path string
	dir  bool
}

func newLocalSource(p string) (*localSource, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", abs, err)
	}
	return &localSource{path: abs, dir: info.IsDir()}, nil
}

func (s *localSource) Location() string { return s.path }
func (s *localSource) Name() string     { return filepath.Base(s.path) }
func (s *localSource) IsDir() bool      { return s.dir }

func (s *localSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.dir {
		return nil, fmt.Errorf("artifact %s is a directory", s.path)
	}
	return os.Open(s.path)
}

func (s *localSource) Check(ctx context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

type httpSource struct {
	url    *url.URL
	client *http.Client
}

func (s *httpSource) Location() string { return s.url.String() }
func (s *httpSource) IsDir() bool      { return false }

func (s *httpSource) Name() string {
	name := path.Base(s.url.Path)
	if name == "." || name == "/" || name == "" {
		return "artifact"
	}
	return name
}

func (s *httpSource) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *httpSource) Check(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodHead)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *httpSource) do(ctx context.Context, method string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", s.url.Redacted(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch artifact %s: %s", s.url.Redacted(), resp.Status)
	}
	return resp, nil
}
