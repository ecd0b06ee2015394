package langdetect

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// Only plain-text formats are sniffed locally. Binary document formats go to
// the server as-is; it detects the language from the extracted text.
var textExts = map[string]bool{
	".txt": true,
	".md":  true,
}

// sampleLimit bounds how much of a file is read for detection.
const sampleLimit = 64 * 1024

// Supported reports whether the file format can be sniffed client-side.
func Supported(filename string) bool {
	return textExts[strings.ToLower(filepath.Ext(filename))]
}

// Detect runs per-line detection over the sample and majority-votes the
// result. Mixed-language documents resolve to the dominant language. Only
// the first sampleLimit bytes are considered.
func Detect(sample string) language.Tag {
	if len(sample) > sampleLimit {
		sample = sample[:sampleLimit]
	}
	counts := make(map[string]int)
	for _, line := range strings.Split(sample, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		counts[whatlanggo.DetectLang(line).Iso6391()]++
	}

	var topLang string
	var topCount int
	for lang, count := range counts {
		if count > topCount {
			topLang = lang
			topCount = count
		}
	}

	if topLang == "" {
		return language.Und
	}
	return language.All.Make(topLang)
}

// DetectFile samples the head of a file. Unsupported formats come back as
// language.Und without touching the file.
func DetectFile(path string) (language.Tag, error) {
	if !Supported(path) {
		return language.Und, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return language.Und, fmt.Errorf("failed to open file for language detection: %w", err)
	}
	defer file.Close()

	buf, err := io.ReadAll(io.LimitReader(file, sampleLimit))
	if err != nil {
		return language.Und, fmt.Errorf("failed to read file for language detection: %w", err)
	}
	return Detect(string(buf)), nil
}

// Code converts a tag to the language code the backend expects, falling back
// to "auto" when the language is unknown.
func Code(tag language.Tag) string {
	if tag == language.Und {
		return "auto"
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "auto"
	}
	return base.String()
}
