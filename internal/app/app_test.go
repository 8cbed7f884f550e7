package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/email"
	ingestsvc "github.com/joseph-ayodele/recipe-ingest/internal/services/ingest"
)

const pancakes = `Classic Pancakes

Ingredients:
2 cups flour
2 tbsp sugar
1 1/2 cups milk
2 large eggs

Instructions:
1. Whisk the flour and sugar together.
2. Add milk and eggs and stir until smooth.
3. Cook on a hot griddle until golden.
`

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	return &common.Config{
		Database: common.DatabaseConfig{Driver: "memory"},
		Pipeline: common.PipelineConfig{
			Workers:          2,
			QueueSize:        16,
			JobTimeout:       time.Minute,
			DiscardThreshold: 0.35,
			UploadDir:        t.TempDir(),
		},
		Cache: common.CacheConfig{Backend: "memory", MaxEntries: 100},
	}
}

func waitStage(t *testing.T, a *App, jobID uuid.UUID, want constants.JobStage) ingestsvc.JobStatus {
	t.Helper()
	var st ingestsvc.JobStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = a.Ingest.Status(context.Background(), jobID.String())
		return err == nil && st.Stage == want
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestNew_TextSubmissionCompletes(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), quiet())
	require.NoError(t, err)
	defer a.Close(ctx)
	assert.Nil(t, a.Poller)
	assert.Nil(t, a.Folder)

	user := uuid.New()
	id, err := a.Ingest.Submit(ctx, ingestsvc.SubmitRequest{Kind: "text", Payload: pancakes, UserID: user.String()})
	require.NoError(t, err)

	st := waitStage(t, a, id, constants.StageCompleted)
	assert.Equal(t, 1, st.RecipesSaved)

	saved, err := a.Store.ListRecipes(ctx, user)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Classic Pancakes", saved[0].Name)

	xlsx, err := a.Export.ExportRecipesXLSX(ctx, user, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, xlsx)
}

type stubMailbox struct {
	mu   sync.Mutex
	msgs []email.Message
	seen map[uint32]bool
}

func (m *stubMailbox) FetchUnseen(context.Context) ([]email.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []email.Message
	for _, msg := range m.msgs {
		if !m.seen[msg.UID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *stubMailbox) MarkSeen(_ context.Context, uids ...uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range uids {
		m.seen[u] = true
	}
	return nil
}

func (m *stubMailbox) Close() error { return nil }

func (m *stubMailbox) allSeen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen) == len(m.msgs)
}

func TestRun_PollsMailbox(t *testing.T) {
	raw := strings.Join([]string{
		"From: Cook <cook@example.com>",
		"To: recipes@example.com",
		"Subject: Pancakes",
		"Message-ID: <p1@example.com>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		strings.ReplaceAll(pancakes, "\n", "\r\n"),
	}, "\r\n")
	box := &stubMailbox{msgs: []email.Message{{UID: 1, Raw: []byte(raw)}}, seen: map[uint32]bool{}}

	user := uuid.New()
	cfg := testConfig(t)
	cfg.Email = common.EmailConfig{
		DefaultUserID:   user.String(),
		ApprovedSenders: []string{"Cook@Example.com"},
		PollInterval:    time.Hour,
		AttachmentDir:   t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, quiet(), WithDialer(func(context.Context) (email.Mailbox, error) { return box, nil }))
	require.NoError(t, err)
	defer a.Close(context.Background())
	require.NotNil(t, a.Poller)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, box.allSeen, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		saved, err := a.Store.ListRecipes(context.Background(), user)
		return err == nil && len(saved) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_WatchesDropFolder(t *testing.T) {
	dir := t.TempDir()
	user := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pancakes.txt"), []byte(pancakes), 0o644))

	cfg := testConfig(t)
	cfg.Watch = common.WatchConfig{Dirs: []string{dir}, UserID: user.String(), Debounce: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, quiet())
	require.NoError(t, err)
	defer a.Close(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		saved, err := a.Store.ListRecipes(context.Background(), user)
		return err == nil && len(saved) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestNew_InvalidWatchUser(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch = common.WatchConfig{Dirs: []string{t.TempDir()}, UserID: "nobody"}
	_, err := New(context.Background(), cfg, quiet())
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestRun_NothingConfigured(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), quiet())
	require.NoError(t, err)
	defer a.Close(context.Background())
	assert.NoError(t, a.Run(context.Background()))
}
