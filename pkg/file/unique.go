package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UniquePath returns path unchanged when nothing exists there, otherwise
// the first "name.N.ext" variant that is free. Keeps downloads from
// silently overwriting earlier results.
func UniquePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	ext := ""
	if lastDot := strings.LastIndex(filename, "."); lastDot > 0 {
		ext = filename[lastDot:]
		filename = filename[:lastDot]
	}

	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s.%d%s", filename, i, ext))
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
