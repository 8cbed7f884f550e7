package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/async"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/email"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/pairing"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Shutdown(context.Context) {}

type fakeJobs struct {
	store     *repository.Memory
	cancelled []uuid.UUID
	cancelErr error
}

func (f *fakeJobs) Cancel(_ context.Context, id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeJobs) Resubmit(ctx context.Context, id uuid.UUID) (*entity.IngestionJob, error) {
	old, err := f.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job := &entity.IngestionJob{SourceID: old.SourceID}
	return job, f.store.CreateJob(ctx, job)
}

type fakePoller struct{ stats email.PollStats }

func (f fakePoller) RunOnce(context.Context) (email.PollStats, error) { return f.stats, nil }

type fixture struct {
	svc   *Service
	store *repository.Memory
	queue *recordingQueue
	jobs  *fakeJobs
	pairs *pairing.Correlator
	dir   string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{store: repository.NewMemory(10), queue: &recordingQueue{}, dir: t.TempDir()}
	f.jobs = &fakeJobs{store: f.store}
	f.pairs = pairing.New(f.store, nil, logger)
	opts = append([]Option{WithUploadDir(f.dir)}, opts...)
	f.svc = NewService(f.store, f.queue, f.jobs, f.pairs, logger, opts...)
	return f
}

func code(err error) codes.Code { return status.Code(err) }

func TestSubmit_Kinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()

	img := filepath.Join(t.TempDir(), "soup.jpg")
	require.NoError(t, os.WriteFile(img, []byte("\xff\xd8\xff"), 0o644))

	cases := []struct {
		name string
		req  SubmitRequest
		kind constants.SourceKind
	}{
		{"text", SubmitRequest{Kind: "text", Payload: "Soup\n1 cup broth", UserID: user}, constants.SourceText},
		{"url alias", SubmitRequest{Kind: "link", Payload: "https://example.com/soup", UserID: user, Origin: "upload"}, constants.SourceURL},
		{"image", SubmitRequest{Kind: "image", Payload: img, UserID: user}, constants.SourceImage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := f.svc.Submit(ctx, tc.req)
			require.NoError(t, err)

			job, err := f.store.GetJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, constants.StageCreated, job.Stage)
			src, err := f.store.GetSource(ctx, job.SourceID)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, src.Kind)
			assert.Equal(t, constants.SourcePending, src.Status)
		})
	}
	require.Len(t, f.queue.jobs, 3)

	src, err := f.store.GetSource(ctx, mustJob(t, f, f.queue.jobs[2].JobID).SourceID)
	require.NoError(t, err)
	assert.Equal(t, "soup", src.Name)
	assert.Equal(t, constants.OriginAPI, src.Origin)
}

func mustJob(t *testing.T, f *fixture, id uuid.UUID) *entity.IngestionJob {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()

	for name, req := range map[string]SubmitRequest{
		"bad user":     {Kind: "text", Payload: "x", UserID: "nope"},
		"bad kind":     {Kind: "fax", Payload: "x", UserID: user},
		"empty":        {Kind: "text", UserID: user},
		"bad url":      {Kind: "url", Payload: "ftp://example.com", UserID: user},
		"bad origin":   {Kind: "text", Payload: "x", UserID: user, Origin: "pigeon"},
		"not an image": {Kind: "image", Payload: "/tmp/menu.pdf", UserID: user},
		"missing file": {Kind: "image", Payload: "/nonexistent/x.png", UserID: user},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, req)
			assert.Equal(t, codes.InvalidArgument, code(err))
		})
	}
	assert.Empty(t, f.queue.jobs)
}

func TestSubmit_QueueClosedFailsJob(t *testing.T) {
	f := newFixture(t)
	f.queue.err = async.ErrQueueClosed

	id, err := f.svc.Submit(context.Background(), SubmitRequest{Kind: "text", Payload: "x", UserID: uuid.NewString()})
	assert.Equal(t, codes.Unavailable, code(err))

	job := mustJob(t, f, id)
	assert.Equal(t, constants.StageFailed, job.Stage)
	assert.True(t, job.Retryable)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Submit(ctx, SubmitRequest{Kind: "text", Payload: "x", UserID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, f.store.AppendLog(ctx, &entity.ProcessingLog{JobID: id, Stage: constants.StageCreated, Outcome: constants.OutcomeOK, Message: "queued"}))

	st, err := f.svc.Status(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, constants.StageCreated, st.Stage)
	require.Len(t, st.Logs, 1)

	_, err = f.svc.Status(ctx, uuid.NewString())
	assert.Equal(t, codes.NotFound, code(err))
	_, err = f.svc.Status(ctx, "garbage")
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestPairedUpload_TriggersOneJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	token, st, err := f.svc.IssuePairingToken(ctx, user.String(), "Chili")
	require.NoError(t, err)
	assert.Equal(t, constants.PairingPending, st)

	jpeg := []byte("\xff\xd8\xff\xe0 fake")
	st, err = f.svc.UploadPairedPhoto(ctx, token, "directions", "back.jpg", jpeg)
	require.NoError(t, err)
	assert.Equal(t, constants.PairingDirectionsUploaded, st)
	assert.Empty(t, f.queue.jobs)

	st, err = f.svc.UploadPairedPhoto(ctx, token, "ingredients", "", []byte("\x89PNG\r\n\x1a\n rest"))
	require.NoError(t, err)
	assert.Equal(t, constants.PairingBothUploaded, st)
	require.Len(t, f.queue.jobs, 1)

	st, err = f.svc.UploadPairedPhoto(ctx, token, "ingredients", "again.jpg", jpeg)
	require.NoError(t, err)
	assert.Equal(t, constants.PairingBothUploaded, st)
	assert.Len(t, f.queue.jobs, 1)

	job := mustJob(t, f, f.queue.jobs[0].JobID)
	src, err := f.store.GetSource(ctx, job.SourceID)
	require.NoError(t, err)
	assert.Equal(t, constants.OriginPaired, src.Origin)
	assert.Equal(t, token, src.PairToken)
	assert.Equal(t, user, src.UserID)
	require.Len(t, src.ImagePaths, 2)
	assert.Equal(t, ".png", filepath.Ext(src.ImagePaths[0]))
	assert.Equal(t, ".jpg", filepath.Ext(src.ImagePaths[1]))
	assert.True(t, src.Paired())
}

func TestPairedUpload_LateUploadLeavesQueuedPhotos(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _, err := f.svc.IssuePairingToken(ctx, uuid.NewString(), "Stew")
	require.NoError(t, err)

	first := []byte("\xff\xd8\xff\xe0 first")
	_, err = f.svc.UploadPairedPhoto(ctx, token, "ingredients", "a.jpg", first)
	require.NoError(t, err)
	_, err = f.svc.UploadPairedPhoto(ctx, token, "ingredients", "b.jpg", []byte("\xff\xd8\xff\xe0 second"))
	require.NoError(t, err)
	_, err = f.svc.UploadPairedPhoto(ctx, token, "directions", "c.jpg", []byte("\xff\xd8\xff\xe0 steps"))
	require.NoError(t, err)
	_, err = f.svc.UploadPairedPhoto(ctx, token, "ingredients", "d.jpg", []byte("\xff\xd8\xff\xe0 late"))
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)

	job := mustJob(t, f, f.queue.jobs[0].JobID)
	src, err := f.store.GetSource(ctx, job.SourceID)
	require.NoError(t, err)
	require.Len(t, src.ImagePaths, 2)
	got, err := os.ReadFile(src.ImagePaths[0])
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8\xff\xe0 second", string(got))

	entries, err := os.ReadDir(filepath.Dir(src.ImagePaths[0]))
	require.NoError(t, err)
	// the replaced first photo and both slots
	assert.Len(t, entries, 3)
}

func TestPairedUpload_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _, err := f.svc.IssuePairingToken(ctx, uuid.NewString(), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UploadPairedPhoto(ctx, token, "ingredients", "x.jpg", []byte("\xff\xd8\xff\xe0 same"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := f.pairs.Get(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, p.Ingredients)
	got, err := os.ReadFile(p.Ingredients.Path)
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8\xff\xe0 same", string(got))
}

func TestPairedUpload_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _, err := f.svc.IssuePairingToken(ctx, uuid.NewString(), "")
	require.NoError(t, err)

	_, err = f.svc.UploadPairedPhoto(ctx, token, "garnish", "a.jpg", []byte("x"))
	assert.Equal(t, codes.InvalidArgument, code(err))
	_, err = f.svc.UploadPairedPhoto(ctx, uuid.NewString(), "ingredients", "a.jpg", []byte("x"))
	assert.Equal(t, codes.NotFound, code(err))
	_, err = f.svc.UploadPairedPhoto(ctx, token, "ingredients", "a.txt", []byte("plain text"))
	assert.Equal(t, codes.InvalidArgument, code(err))
	_, err = f.svc.UploadPairedPhoto(ctx, token, "ingredients", "a.jpg", nil)
	assert.Equal(t, codes.InvalidArgument, code(err))
	_, _, err = f.svc.IssuePairingToken(ctx, "", "x")
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestPoll(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Poll(context.Background())
	assert.Equal(t, codes.FailedPrecondition, code(err))

	f = newFixture(t, WithPoller(fakePoller{stats: email.PollStats{Fetched: 2, Jobs: 1}}))
	stats, err := f.svc.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Jobs)
}

func TestResubmitAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Submit(ctx, SubmitRequest{Kind: "text", Payload: "x", UserID: uuid.NewString()})
	require.NoError(t, err)

	next, err := f.svc.Resubmit(ctx, id.String())
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, next, f.queue.jobs[1].JobID)

	require.NoError(t, f.svc.Cancel(ctx, next.String()))
	assert.Equal(t, []uuid.UUID{next}, f.jobs.cancelled)

	f.jobs.cancelErr = common.ErrInvalidTransition
	assert.Equal(t, codes.FailedPrecondition, code(f.svc.Cancel(ctx, id.String())))
	assert.Equal(t, codes.InvalidArgument, code(f.svc.Cancel(ctx, "x")))
}
