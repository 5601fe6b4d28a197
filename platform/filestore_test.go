package platform

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleDoc struct {
	Name  string  `json:"name"`
	Watts float64 `json:"watts"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Save("sample.json", sampleDoc{Name: "heater", Watts: 1200}))

	var restored sampleDoc
	require.NoError(t, store.Load("sample.json", &restored))
	require.Equal(t, "heater", restored.Name)
	require.InDelta(t, 1200.0, restored.Watts, 1e-9)
}

func TestFileStoreMissingDocumentIsZeroValue(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	doc := sampleDoc{Name: "untouched"}
	require.NoError(t, store.Load("nope.json", &doc))
	require.Equal(t, "untouched", doc.Name)
}

func TestFileStoreMalformedDocumentDiscarded(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	var doc sampleDoc
	require.NoError(t, store.Load("bad.json", &doc))
	require.Empty(t, doc.Name)
}

func TestFileStoreSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Save("sample.json", sampleDoc{Name: "first"}))
	require.NoError(t, store.Save("sample.json", sampleDoc{Name: "second"}))

	var doc sampleDoc
	require.NoError(t, store.Load("sample.json", &doc))
	require.Equal(t, "second", doc.Name)

	_, err = os.Stat(filepath.Join(dir, "sample.json.tmp"))
	require.True(t, os.IsNotExist(err))
}
