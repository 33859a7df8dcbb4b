package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateSavePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"simple filename", "viking.png", nil},
		{"subdirectory", "scenes/viking.png", nil},
		{"dot prefix", "./viking.png", nil},
		{"parent traversal", "../viking.png", ErrPathTraversal},
		{"nested traversal", "scenes/../../viking.png", ErrPathTraversal},
		{"bare parent", "..", ErrPathTraversal},
		{"absolute", "/etc/passwd", ErrAbsolutePath},
		{"reserved name", "CON.png", ErrReservedName},
		{"reserved lower case", "scenes/lpt1.png", ErrReservedName},
		{"leading hyphen", "-rf.png", ErrLeadingHyphen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSavePath(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSavePath(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePhotoPath(t *testing.T) {
	dir := t.TempDir()

	photo := filepath.Join(dir, "me.JPG")
	if err := os.WriteFile(photo, []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	dirWithExt := filepath.Join(dir, "album.png")
	if err := os.Mkdir(dirWithExt, 0o700); err != nil {
		t.Fatal(err)
	}

	if err := ValidatePhotoPath(photo); err != nil {
		t.Errorf("ValidatePhotoPath(%q) error = %v", photo, err)
	}
	if err := ValidatePhotoPath(filepath.Join(dir, "notes.txt")); !errors.Is(err, ErrUnsupportedPhotoExt) {
		t.Errorf("ValidatePhotoPath(txt) error = %v, want ErrUnsupportedPhotoExt", err)
	}
	if err := ValidatePhotoPath(dirWithExt); !errors.Is(err, ErrNotRegularFile) {
		t.Errorf("ValidatePhotoPath(dir) error = %v, want ErrNotRegularFile", err)
	}
	if err := ValidatePhotoPath(filepath.Join(dir, "missing.png")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ValidatePhotoPath(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Viking Age", "viking-age"},
		{"Roaring 20s", "roaring-20s"},
		{"a/b\\c:d", "a-b-c-d"},
		{"what?*<>|", "what"},
		{"..hidden", "hidden"},
		{"con", "con_"},
		{"", "scene"},
		{"  ", "scene"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
