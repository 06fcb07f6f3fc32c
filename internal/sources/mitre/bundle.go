// Package mitre locates the ATT&CK STIX bundle, downloading it from the MITRE
// CTI repository when it is not on disk.
package mitre

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"attack-graph/internal/config"
	"attack-graph/internal/domain/models"
	"attack-graph/pkg/logger"
)

// BundleSource resolves the local path of the bundle
type BundleSource struct {
	client   *http.Client
	logger   *logger.Logger
	url      string
	download bool
	progress io.Writer
}

// SourceOption configures a BundleSource
type SourceOption func(*BundleSource)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *BundleSource) { s.client = c }
}

// WithDownloadProgress renders a byte progress bar to w while downloading
func WithDownloadProgress(w io.Writer) SourceOption {
	return func(s *BundleSource) { s.progress = w }
}

// NewBundleSource creates a new bundle source
func NewBundleSource(cfg config.STIXConfig, log *logger.Logger, opts ...SourceOption) *BundleSource {
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	s := &BundleSource{
		client:   &http.Client{Timeout: timeout},
		logger:   log.WithComponent("mitre_cti"),
		url:      cfg.DownloadURL,
		download: cfg.Download,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns path when the file exists. Otherwise, with downloading
// enabled, it fetches the bundle to path first.
func (s *BundleSource) Resolve(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return "", models.NewParseError(path, -1, errors.New("bundle path is a directory"))
	case err == nil:
		return path, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", models.NewParseError(path, -1, err)
	}

	if !s.download || s.url == "" {
		return "", models.NewParseError(path, -1, fmt.Errorf("bundle not found and download disabled: %w", err))
	}

	if err := s.fetch(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *BundleSource) fetch(ctx context.Context, path string) error {
	start := time.Now()
	s.logger.Info().Str("url", s.url).Str("path", path).Msg("bundle not found locally, downloading")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build bundle request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bundle download returned status %d: %s", resp.StatusCode, string(body))
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create bundle directory: %w", err)
		}
	}

	// Write next to the target and rename, so an interrupted download never
	// leaves a truncated bundle behind.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var dst io.Writer = tmp
	if s.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(s.progress),
			progressbar.OptionSetDescription("downloading bundle"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		dst = io.MultiWriter(tmp, bar)
	}

	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move bundle into place: %w", err)
	}

	s.logger.Info().
		Str("path", path).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("bundle downloaded")
	return nil
}
