package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	sources []entity.IngestionSource
}

func (r *recordingSubmitter) SubmitSource(_ context.Context, src *entity.IngestionSource) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, *src)
	return uuid.New(), nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestAccepts(t *testing.T) {
	for path, want := range map[string]bool{
		"a.jpg": true, "b.JPEG": true, "c.heic": true, "d.txt": true, "e.md": true,
		"f.pdf": false, "g": false, "h.docx": false,
	} {
		assert.Equal(t, want, Accepts(path), path)
	}
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "pancakes.jpg"), "jpeg-bytes")
	write(t, filepath.Join(root, "copy", "pancakes-again.jpg"), "jpeg-bytes")
	write(t, filepath.Join(root, "soup.txt"), "Soup\n1 cup broth")
	write(t, filepath.Join(root, "notes.pdf"), "%PDF")
	write(t, filepath.Join(root, ".hidden", "secret.jpg"), "other")

	sub := &recordingSubmitter{}
	f := NewFolder(sub, uuid.New(), quiet())

	results, stats, err := f.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Matched)
	assert.EqualValues(t, 3, stats.Succeeded)
	assert.EqualValues(t, 1, stats.Deduplicated)
	assert.Len(t, results, 3)
	require.Len(t, sub.sources, 2)

	kinds := map[constants.SourceKind]entity.IngestionSource{}
	for _, s := range sub.sources {
		assert.Equal(t, constants.OriginFolder, s.Origin)
		kinds[s.Kind] = s
	}
	assert.Equal(t, "Soup\n1 cup broth", kinds[constants.SourceText].RawText)
	assert.Equal(t, "soup", kinds[constants.SourceText].Name)
	require.Len(t, kinds[constants.SourceImage].ImagePaths, 1)
	assert.True(t, filepath.IsAbs(kinds[constants.SourceImage].ImagePaths[0]))
}

func TestIngestPath_Errors(t *testing.T) {
	dir := t.TempDir()
	f := NewFolder(&recordingSubmitter{}, uuid.New(), quiet())

	_, err := f.IngestPath(context.Background(), filepath.Join(dir, "menu.pdf"))
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	_, err = f.IngestPath(context.Background(), filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)

	nobody := NewFolder(&recordingSubmitter{}, uuid.Nil, quiet())
	write(t, filepath.Join(dir, "a.txt"), "x")
	_, err = nobody.IngestPath(context.Background(), filepath.Join(dir, "a.txt"))
	assert.Error(t, err)

	_, _, err = f.IngestDirectory(context.Background(), " ", false)
	assert.Error(t, err)
}

func TestRun_SubmitsDroppedFiles(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "existing.txt"), "already here")

	sub := &recordingSubmitter{}
	f := NewFolder(sub, uuid.New(), quiet())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond})
	}()

	require.Eventually(t, func() bool { return sub.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	write(t, filepath.Join(root, "dropped.jpg"), "jpeg")
	require.Eventually(t, func() bool { return sub.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestStartWatcher_NoRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, quiet())
	assert.Error(t, err)
}
