package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// HTTPUploader implements AssetUploader against an HTTP file-host upload
// endpoint that accepts a multipart POST with an API key and replies
// with an assigned file code.
type HTTPUploader struct {
	logger   *zap.Logger
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTPUploader creates an uploader for the given endpoint.
func NewHTTPUploader(endpoint, apiKey string, logger *zap.Logger) *HTTPUploader {
	return &HTTPUploader{
		logger:   logger.Named("uploader"),
		client:   &http.Client{Timeout: 30 * time.Minute},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

type uploadResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Result struct {
		FileCode string `json:"filecode"`
	} `json:"result"`
}

// Upload implements AssetUploader
func (u *HTTPUploader) Upload(ctx context.Context, path string, title string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeUploadBody(writer, file, filepath.Base(path), u.apiKey, title)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pr)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload returned status %d", resp.StatusCode)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if parsed.Status != http.StatusOK || parsed.Result.FileCode == "" {
		return "", fmt.Errorf("upload rejected: status=%d msg=%q", parsed.Status, parsed.Msg)
	}

	u.logger.Info("Upload accepted", zap.String("file_code", parsed.Result.FileCode))
	return parsed.Result.FileCode, nil
}

func writeUploadBody(writer *multipart.Writer, file io.Reader, name, apiKey, title string) error {
	if err := writer.WriteField("key", apiKey); err != nil {
		return err
	}
	if title != "" {
		if err := writer.WriteField("file_title", title); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return writer.Close()
}
