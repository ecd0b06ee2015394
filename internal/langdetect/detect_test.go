package langdetect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported("notes.txt"))
	assert.True(t, Supported("README.MD"))
	assert.False(t, Supported("report.pdf"))
	assert.False(t, Supported("contract.docx"))
}

func TestDetectEnglish(t *testing.T) {
	tag := Detect("The quick brown fox jumps over the lazy dog.\nThis is a second English sentence for good measure.")
	assert.Equal(t, "en", Code(tag))
}

func TestDetectMajorityWins(t *testing.T) {
	sample := "Der schnelle braune Fuchs springt über den faulen Hund.\n" +
		"Heute ist ein wunderschöner Tag im deutschen Wald.\n" +
		"Die Katze schläft gemütlich auf dem warmen Sofa.\n" +
		"One stray English line should not flip the result here.\n"
	tag := Detect(sample)
	assert.Equal(t, "de", Code(tag))
}

func TestDetectEmptySample(t *testing.T) {
	assert.Equal(t, language.Und, Detect(""))
	assert.Equal(t, "auto", Code(Detect("  \n\n  ")))
}

func TestDetectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("This document is written in plain English text.\nIt has several complete sentences."), 0o644))

	tag, err := DetectFile(path)
	require.NoError(t, err)
	assert.Equal(t, "en", Code(tag))
}

func TestDetectFileUnsupportedFormat(t *testing.T) {
	tag, err := DetectFile("whatever.pdf")
	require.NoError(t, err)
	assert.Equal(t, language.Und, tag)
}

func TestDetectFileMissing(t *testing.T) {
	_, err := DetectFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
