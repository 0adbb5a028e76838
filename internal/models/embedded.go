package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Embedded is binary content carried inline as a data URL
// ("data:<mime>;base64,<payload>") because it could not be uploaded yet.
type Embedded string

// ErrNotDataURL is returned when an embedded payload is not a base64 data URL.
var ErrNotDataURL = errors.New("not a base64 data URL")

// Embed encodes data as a data URL.
func Embed(contentType string, data []byte) Embedded {
	return Embedded("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// Empty reports whether there is no payload.
func (e Embedded) Empty() bool {
	return strings.TrimSpace(string(e)) == ""
}

// Decode returns the content type and raw bytes of the payload.
func (e Embedded) Decode() (string, []byte, error) {
	s := strings.TrimSpace(string(e))
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, ErrNotDataURL
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode payload: %w", err)
	}
	return contentType, data, nil
}

// Extension returns a file extension for the payload's content type.
func (e Embedded) Extension() string {
	meta, _, _ := strings.Cut(strings.TrimPrefix(string(e), "data:"), ";")
	switch meta {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}
