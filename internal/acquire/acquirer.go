// Package acquire implements the item-acquirer collaborator: it
// materializes one item into a local artifact and, when an asset host is
// configured, uploads the artifact and records the hosted reference.
package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

// AssetUploader pushes a local artifact to a remote file host and
// returns the file code the host assigned.
type AssetUploader interface {
	Upload(ctx context.Context, path string, title string) (string, error)
}

// HTTPAcquirer downloads item artifacts over HTTP into a local directory
type HTTPAcquirer struct {
	logger   *zap.Logger
	client   *http.Client
	dir      string
	uploader AssetUploader
}

// NewHTTPAcquirer creates an acquirer writing into dir. uploader may be
// nil to skip the asset-host side channel.
func NewHTTPAcquirer(dir string, uploader AssetUploader, logger *zap.Logger) (*HTTPAcquirer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return &HTTPAcquirer{
		logger:   logger.Named("acquirer"),
		client:   &http.Client{Timeout: 10 * time.Minute},
		dir:      dir,
		uploader: uploader,
	}, nil
}

// Acquire implements pipeline.Acquirer
func (a *HTTPAcquirer) Acquire(ctx context.Context, item model.Item) (model.Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.Ref, nil)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Artifact{}, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	path := filepath.Join(a.dir, fileName(item))
	out, err := os.Create(path)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(path)
		return model.Artifact{}, fmt.Errorf("failed to write artifact: %w", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return model.Artifact{}, fmt.Errorf("failed to close artifact: %w", closeErr)
	}

	a.logger.Info("Item acquired",
		zap.String("ref", item.Ref),
		zap.String("path", path),
		zap.Int64("bytes", written))

	artifact := model.Artifact{LocalPath: path}

	if a.uploader != nil {
		code, err := a.uploader.Upload(ctx, path, item.Title)
		if err != nil {
			// The local artifact is intact; the missing hosted reference
			// only limits what the publisher can attach later.
			a.logger.Error("Asset upload failed",
				zap.String("ref", item.Ref),
				zap.Error(err))
		} else {
			artifact.HostedRef = code
			a.logger.Info("Artifact uploaded to asset host",
				zap.String("file_code", code))
		}
	}

	return artifact, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// fileName derives a filesystem-safe name for an item's artifact.
func fileName(item model.Item) string {
	name := item.Title
	if name == "" {
		name = filepath.Base(item.Ref)
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "artifact"
	}
	if len(name) > 120 {
		name = name[:120]
	}
	if filepath.Ext(name) == "" {
		name += ".mp4"
	}
	return name
}
