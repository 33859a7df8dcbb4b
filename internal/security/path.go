package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrPathTraversal       = errors.New("path traversal detected")
	ErrAbsolutePath        = errors.New("absolute paths are not allowed")
	ErrReservedName        = errors.New("reserved filename not allowed")
	ErrLeadingHyphen       = errors.New("filename cannot start with hyphen")
	ErrNotRegularFile      = errors.New("not a regular file")
	ErrPhotoTooLarge       = errors.New("photo file is too large")
	ErrPhotoTooManyPixels  = errors.New("photo dimensions are too large")
	ErrUnsupportedPhotoExt = errors.New("unsupported photo file extension")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}

	photoExtensions = []string{".jpg", ".jpeg", ".png", ".gif"}
)

// MaxPhotoBytes bounds the size of a photo read from disk or an upload.
const MaxPhotoBytes = 20 << 20

// MaxPhotoPixels bounds the decoded canvas of a photo. A small file can
// declare a huge canvas, so it is checked before any pixel is decoded.
const MaxPhotoPixels = 50_000_000

// ValidateSavePath checks a user supplied destination for a saved scene. Only
// relative paths inside the working directory are accepted.
func ValidateSavePath(path string) error {
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}

	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return ErrPathTraversal
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return ErrPathTraversal
		}
	}

	base := filepath.Base(cleaned)
	if windowsReservedNames[stem(base)] {
		return ErrReservedName
	}
	if strings.HasPrefix(base, "-") {
		return ErrLeadingHyphen
	}
	return nil
}

// ValidatePhotoPath checks that path names a readable photo of a supported
// type and size. Unlike save paths, photos may live anywhere on disk.
func ValidatePhotoPath(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(photoExtensions, ext) {
		return fmt.Errorf("%w: %q", ErrUnsupportedPhotoExt, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	if info.Size() > MaxPhotoBytes {
		return fmt.Errorf("%w: %d bytes", ErrPhotoTooLarge, info.Size())
	}
	return nil
}

// SanitizeFilename turns an arbitrary label (an era name, a prompt) into
// something safe to use as a file name.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", " ", "-",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
	)
	sanitized := strings.ToLower(replacer.Replace(name))
	sanitized = strings.TrimLeft(sanitized, ".-")
	sanitized = strings.TrimRight(sanitized, ". -")

	if windowsReservedNames[stem(sanitized)] {
		sanitized += "_"
	}
	if sanitized == "" {
		sanitized = "scene"
	}
	return sanitized
}

func stem(base string) string {
	return strings.TrimSuffix(strings.ToLower(base), filepath.Ext(base))
}
