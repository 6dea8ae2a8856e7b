package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/beyproweb/beypro-pos-sub005/internal/dto"
)

// UploadFile is one terminal slip image/PDF handed to the OCR service.
type UploadFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// IsImage reports whether the file can get a local preview artifact.
func (f UploadFile) IsImage() bool {
	return len(f.ContentType) >= 6 && f.ContentType[:6] == "image/"
}

// OCRClient delegates terminal-slip parsing to the OCR sidecar. Calls run
// through a circuit breaker so a stuck OCR service fast-fails instead of
// tying up close-out uploads.
type OCRClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *CircuitBreaker
}

func NewOCRClient(baseURL string, cb *CircuitBreaker) *OCRClient {
	return &OCRClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		cb:         cb,
	}
}

// Parse submits an upload batch as multipart form data, optionally tagged
// with the session's open time for server-side correlation.
func (c *OCRClient) Parse(ctx context.Context, files []UploadFile, openTime string) (*dto.ParseResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.FileName)
		if err != nil {
			return nil, fmt.Errorf("ocr: build form: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("ocr: write form file: %w", err)
		}
	}
	if openTime != "" {
		if err := w.WriteField("openTime", openTime); err != nil {
			return nil, fmt.Errorf("ocr: write field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ocr: close form: %w", err)
	}

	var result dto.ParseResponse
	err := c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/terminal-zreport/parse", &buf)
		if err != nil {
			return fmt.Errorf("ocr: create request: %w", err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("ocr: service unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ocr: service returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("ocr: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
