package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	e := NewExtractor()
	text, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtractBytes_UnknownExtensionTreatedAsPlain(t *testing.T) {
	e := NewExtractor()
	text, err := e.ExtractBytes([]byte("csv,data"), ".csv")
	require.NoError(t, err)
	assert.Equal(t, "csv,data", text)
}

func TestExtractBytes_InvalidUTF8Replaced(t *testing.T) {
	e := NewExtractor()
	text, err := e.ExtractBytes([]byte{0x68, 0x69, 0xff}, ".txt")
	require.NoError(t, err)
	assert.Equal(t, "hi�", text)
}

func TestExtractBytes_MalformedPDFErrors(t *testing.T) {
	e := NewExtractor()
	_, err := e.ExtractBytes([]byte("not a pdf"), ".pdf")
	require.Error(t, err)
}

func TestExtract_MissingFile(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
