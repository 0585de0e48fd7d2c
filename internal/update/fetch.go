package update

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/retry"
)

// maxVersionBody caps the version source response.
const maxVersionBody = 1 << 10

// Fetcher performs HTTP GETs with retries. 4xx responses are not retried.
type Fetcher struct {
	client *http.Client
	policy retry.Policy
	logger *slog.Logger
}

// NewFetcher creates a fetcher. A nil client gets one with timeout.
func NewFetcher(client *http.Client, policy retry.Policy, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, policy: policy, logger: logger}
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.url, e.status)
}

func (f *Fetcher) get(ctx context.Context, url string, consume func(io.Reader) error) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			serr := &statusError{url: url, status: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Permanent(serr)
			}
			return serr
		}
		return consume(resp.Body)
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("Fetch failed, retrying", logfields.URL(url), logfields.Duration(wait), logfields.Error(err))
	}
	if err := f.policy.Do(ctx, op, notify); err != nil {
		if ferrors.IsClassified(err) {
			return err
		}
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "fetch failed").
			Retryable().WithContext("url", url).Build()
	}
	return nil
}

// FetchString returns the trimmed body of url.
func (f *Fetcher) FetchString(ctx context.Context, url string) (string, error) {
	var body string
	err := f.get(ctx, url, func(r io.Reader) error {
		data, err := io.ReadAll(io.LimitReader(r, maxVersionBody))
		if err != nil {
			return err
		}
		body = strings.TrimSpace(string(data))
		return nil
	})
	return body, err
}

// Download writes url to dst. The body goes to a temporary file in dst's
// directory first so dst only ever appears complete.
func (f *Fetcher) Download(ctx context.Context, url, dst string) error {
	f.logger.Info("Downloading", logfields.URL(url), logfields.Path(filepath.Base(dst)))
	return f.get(ctx, url, func(r io.Reader) error {
		tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
		if err != nil {
			return retry.Permanent(fileError(err, "create temporary file", dst))
		}
		tmpName := tmp.Name()
		_, copyErr := io.Copy(tmp, r)
		closeErr := tmp.Close()
		if copyErr != nil {
			_ = os.Remove(tmpName)
			return copyErr
		}
		if closeErr != nil {
			_ = os.Remove(tmpName)
			return retry.Permanent(fileError(closeErr, "write temporary file", dst))
		}
		if err := os.Chmod(tmpName, 0o755); err != nil {
			_ = os.Remove(tmpName)
			return retry.Permanent(fileError(err, "mark executable", dst))
		}
		if err := os.Rename(tmpName, dst); err != nil {
			_ = os.Remove(tmpName)
			return retry.Permanent(fileError(err, "rename download into place", dst))
		}
		return nil
	})
}

func fileError(err error, action, path string) error {
	return ferrors.WrapError(err, ferrors.CategoryFileSystem, action).WithContext("path", path).Build()
}
