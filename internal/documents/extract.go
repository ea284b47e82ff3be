package documents

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/tidwall/gjson"
)

const maxExtractedSize = 20 << 20

// ErrUnsupportedFile is returned for binary uploads with no parser configured.
var ErrUnsupportedFile = errors.New("unsupported file type: only PDF and UTF-8 text can be read")

func (s *Service) extractText(ctx context.Context, name string, data []byte) (string, error) {
	switch {
	case isPDF(name, data):
		return pdfText(data)
	case utf8.Valid(data):
		return string(data), nil
	case s.parserURL != "":
		return s.parseRemote(ctx, name, data)
	default:
		return "", ErrUnsupportedFile
	}
}

func isPDF(name string, data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-")) || strings.EqualFold(filepath.Ext(name), ".pdf")
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	b, err := io.ReadAll(io.LimitReader(plain, maxExtractedSize))
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// parseRemote posts the file to the document parser service and reads the
// "text" field of its JSON reply, or the raw body.
func (s *Service) parseRemote(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.parserURL, &buf)
	if err != nil {
		return "", fmt.Errorf("creating parser request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	s.countIntegration("parser", err)
	if err != nil {
		return "", fmt.Errorf("calling parser: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExtractedSize))
	if err != nil {
		return "", fmt.Errorf("reading parser response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("parser returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if v := gjson.GetBytes(body, "text"); v.Type == gjson.String {
		return v.Str, nil
	}
	return string(body), nil
}

// contentSHA is the change-detection key for sources without a native one.
func contentSHA(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
