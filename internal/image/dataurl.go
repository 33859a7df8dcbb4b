package image

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/manash/timebooth/pkg/models"
)

var ErrInvalidDataURI = errors.New("invalid data URI")

var mimeExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

func IsDataURI(handle string) bool {
	return strings.HasPrefix(handle, "data:")
}

// EncodeDataURI renders data as a base64 data URI.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI parses a base64 data URI carrying one of the supported image
// types.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload", ErrInvalidDataURI)
	}

	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}
	mimeType = strings.ToLower(mimeType)
	if _, ok := mimeExtensions[mimeType]; !ok {
		return "", nil, fmt.Errorf("%w: %q", models.ErrUnsupportedMimeType, mimeType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	return mimeType, data, nil
}

// ExtensionFor returns the file extension for a supported mime type, falling
// back to png.
func ExtensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return "png"
}
