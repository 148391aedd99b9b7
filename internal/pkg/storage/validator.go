package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxEvidenceSize caps recycling photo uploads.
const MaxEvidenceSize = 10 << 20

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidMimeType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("file is empty")
)

var evidenceMimeTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// ReadEvidence reads at most maxSize bytes and sniffs the content type from
// the magic bytes. Only still images are accepted.
func ReadEvidence(reader io.Reader, maxSize int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	if int64(len(data)) > maxSize {
		return nil, "", ErrFileTooLarge
	}

	mimeType := http.DetectContentType(data)
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if _, ok := evidenceMimeTypes[mimeType]; !ok {
		return nil, "", ErrInvalidMimeType
	}
	return data, mimeType, nil
}

// ExtensionForMime returns the file extension for an accepted MIME type.
func ExtensionForMime(mimeType string) string {
	return evidenceMimeTypes[mimeType]
}
