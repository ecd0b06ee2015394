package translation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/lingodoc/lingodoc-go/internal/api"
)

// MaxFileSize is the largest document the backend accepts.
const MaxFileSize = 50 << 20

var allowedExts = map[string]bool{
	".pdf":  true,
	".docx": true,
	".doc":  true,
	".txt":  true,
	".md":   true,
	".rtf":  true,
	".odt":  true,
}

// SupportedFormat reports whether the file extension is on the upload
// allow-list.
func SupportedFormat(filename string) bool {
	return allowedExts[strings.ToLower(filepath.Ext(filename))]
}

// ValidateFile rejects unsupported or oversized documents before any network
// traffic happens. All failures are Validation errors.
func ValidateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return api.NewError(api.ErrValidation, fmt.Sprintf("file does not exist: %s", path))
		}
		return api.WrapError(err, api.ErrValidation, fmt.Sprintf("cannot read file: %s", path))
	}
	if info.IsDir() {
		return api.NewError(api.ErrValidation, fmt.Sprintf("not a file: %s", path))
	}
	if !SupportedFormat(path) {
		return api.NewError(api.ErrValidation, fmt.Sprintf("unsupported file type %q", filepath.Ext(path)))
	}
	if info.Size() == 0 {
		return api.NewError(api.ErrValidation, "file is empty")
	}
	if info.Size() > MaxFileSize {
		return api.NewError(api.ErrValidation, fmt.Sprintf("file is %s, the limit is %s",
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(MaxFileSize))))
	}
	return nil
}
