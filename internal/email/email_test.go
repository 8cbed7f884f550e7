package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

type fakeMailbox struct {
	msgs   []Message
	seen   []uint32
	closed bool
}

func (f *fakeMailbox) FetchUnseen(context.Context) ([]Message, error) {
	var out []Message
	for _, m := range f.msgs {
		if !f.isSeen(m.UID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMailbox) isSeen(uid uint32) bool {
	for _, s := range f.seen {
		if s == uid {
			return true
		}
	}
	return false
}

func (f *fakeMailbox) MarkSeen(_ context.Context, uids ...uint32) error {
	f.seen = append(f.seen, uids...)
	return nil
}

func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

type fakeSubmitter struct {
	mu      sync.Mutex
	sources []entity.IngestionSource
	err     error
}

func (f *fakeSubmitter) SubmitSource(_ context.Context, src *entity.IngestionSource) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.sources = append(f.sources, *src)
	return uuid.New(), nil
}

type part struct {
	contentType string
	disposition string
	headers     map[string]string
	body        []byte
}

func rawMessage(from, to, subject, id string, parts ...part) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject)
	if id != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", id)
	}
	b.WriteString("Date: Mon, 12 Oct 2026 10:00:00 +0000\r\nMIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=BOUNDARY\r\n\r\n")
	for _, p := range parts {
		b.WriteString("--BOUNDARY\r\n")
		fmt.Fprintf(&b, "Content-Type: %s\r\n", p.contentType)
		if p.disposition != "" {
			fmt.Fprintf(&b, "Content-Disposition: %s\r\n", p.disposition)
		}
		for k, v := range p.headers {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
		if strings.HasPrefix(p.contentType, "text/") {
			b.WriteString("\r\n")
			b.Write(p.body)
			b.WriteString("\r\n")
			continue
		}
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString(p.body))
		b.WriteString("\r\n")
	}
	b.WriteString("--BOUNDARY--\r\n")
	return b.Bytes()
}

func image(name string) part {
	return part{
		contentType: "image/jpeg",
		disposition: fmt.Sprintf("attachment; filename=%q", name),
		body:        []byte("\xff\xd8\xff fake jpeg " + name),
	}
}

func textPart(s string) part {
	return part{contentType: "text/plain; charset=utf-8", body: []byte(s)}
}

type harness struct {
	poller *Poller
	mb     *fakeMailbox
	sub    *fakeSubmitter
	store  *repository.Memory
	logs   *bytes.Buffer
	dir    string
}

func newHarness(t *testing.T, alias string, msgs ...Message) *harness {
	t.Helper()
	h := &harness{
		mb:    &fakeMailbox{msgs: msgs},
		sub:   &fakeSubmitter{},
		store: repository.NewMemory(0),
		logs:  &bytes.Buffer{},
		dir:   t.TempDir(),
	}
	require.NoError(t, h.store.UpsertApprovedSender(context.Background(), &entity.ApprovedSender{
		Email: "Cook@Example.com", Name: "Cook", Active: true,
	}))
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	dial := func(context.Context) (Mailbox, error) { return h.mb, nil }
	h.poller = NewPoller(dial, h.store, h.sub, Config{
		RecipientAlias: alias,
		UserID:         uuid.New(),
		AttachmentDir:  h.dir,
	}, logger)
	return h
}

func TestParse_AttachmentsInlineAndText(t *testing.T) {
	raw := rawMessage("Cook <cook@example.com>", "recipes@example.com", "Pancakes", "m1@example.com",
		textPart("see attached"),
		image("ingredients.jpg"),
		part{contentType: "image/png", headers: map[string]string{"Content-Id": "<logo123>"}, body: []byte("png")},
		part{contentType: "image/png", body: []byte("png2")},
		part{contentType: "application/pdf", disposition: `attachment; filename="menu.pdf"`, body: []byte("%PDF")},
	)

	msg, err := Parse(raw, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "m1@example.com", msg.MessageID)
	assert.Equal(t, "cook@example.com", msg.From)
	assert.Equal(t, "Cook", msg.Sender())
	assert.Equal(t, "see attached", msg.Text)
	require.Len(t, msg.Images, 3)
	assert.Equal(t, "ingredients.jpg", msg.Images[0].Filename)
	assert.False(t, msg.Images[0].Embedded)
	assert.Equal(t, "logo123.jpg", msg.Images[1].Filename)
	assert.True(t, msg.Images[1].Embedded)
	assert.Equal(t, "embedded_image_3.jpg", msg.Images[2].Filename)
	assert.True(t, msg.AddressedTo("RECIPES@example.com"))
	assert.False(t, msg.AddressedTo("other@example.com"))
	assert.True(t, msg.AddressedTo(""))
}

func TestParse_LimitsAndMissingMessageID(t *testing.T) {
	big := image("big.jpg")
	big.body = bytes.Repeat([]byte{1}, 64)
	raw := rawMessage("cook@example.com", "recipes@example.com", "", "",
		image("a.jpg"), big, image("b.jpg"), image("c.jpg"))

	msg, err := Parse(raw, Limits{MaxAttachmentBytes: 40, MaxAttachments: 2})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg.MessageID, "sha256-"))
	require.Len(t, msg.Images, 2)
	require.Len(t, msg.Skipped, 2)
	assert.Contains(t, msg.Skipped[0].SkipReason, "larger than")
	assert.Contains(t, msg.Skipped[1].SkipReason, "more than 2")

	again, err := Parse(raw, Limits{})
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, again.MessageID)
}

func TestRunOnce_PairsFirstTwoImages(t *testing.T) {
	raw := rawMessage("Cook <cook@example.com>", "recipes@example.com", "Lasagna", "m2@example.com",
		image("one.jpg"), image("two.jpg"), image("three.jpg"))
	h := newHarness(t, "recipes@example.com", Message{UID: 7, Raw: raw})

	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollStats{Fetched: 1, Processed: 1, Attachments: 3, Jobs: 2}, stats)
	assert.Equal(t, []uint32{7}, h.mb.seen)
	assert.True(t, h.mb.closed)

	require.Len(t, h.sub.sources, 2)
	pair := h.sub.sources[0]
	assert.Equal(t, constants.SourceImage, pair.Kind)
	assert.Equal(t, constants.OriginEmail, pair.Origin)
	assert.Equal(t, "Lasagna", pair.Name)
	require.Len(t, pair.ImagePaths, 2)
	assert.True(t, pair.Paired())
	assert.Len(t, h.sub.sources[1].ImagePaths, 1)
	for _, p := range pair.ImagePaths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	atts, err := h.store.ListAttachments(context.Background(), "m2@example.com")
	require.NoError(t, err)
	require.Len(t, atts, 3)
	assert.ElementsMatch(t,
		[]constants.PhotoSlot{constants.SlotIngredients, constants.SlotDirections},
		[]constants.PhotoSlot{atts[0].Slot, atts[1].Slot})
	assert.Equal(t, 1, atts[2].GroupIndex)
	for _, a := range atts {
		assert.Equal(t, constants.AttachmentQueued, a.Status)
		assert.NotNil(t, a.JobID)
	}

	done, err := h.store.MessageProcessed(context.Background(), "m2@example.com")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRunOnce_TextBodyBecomesTextJob(t *testing.T) {
	raw := rawMessage("cook@example.com", "recipes@example.com", "", "m3@example.com",
		textPart("Soup\n\nIngredients\n1 cup broth\n\nDirections\nHeat it."))
	h := newHarness(t, "", Message{UID: 1, Raw: raw})

	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Jobs)
	require.Len(t, h.sub.sources, 1)
	src := h.sub.sources[0]
	assert.Equal(t, constants.SourceText, src.Kind)
	assert.Equal(t, "Email Recipe from cook@example.com", src.Name)
	assert.Contains(t, src.RawText, "1 cup broth")
}

func TestRunOnce_UnapprovedAndNotAddressed(t *testing.T) {
	h := newHarness(t, "recipes@example.com",
		Message{UID: 1, Raw: rawMessage("stranger@example.com", "recipes@example.com", "Hi", "u1@example.com", image("x.jpg"))},
		Message{UID: 2, Raw: rawMessage("cook@example.com", "someone@example.com", "Hi", "u2@example.com", image("y.jpg"))},
	)
	require.NoError(t, h.store.UpsertApprovedSender(context.Background(), &entity.ApprovedSender{
		Email: "retired@example.com", Active: false,
	}))

	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unapproved)
	assert.Equal(t, 1, stats.NotAddressed)
	assert.Zero(t, stats.Jobs)
	assert.Empty(t, h.sub.sources)
	assert.Contains(t, h.logs.String(), "UnapprovedSender")
	assert.ElementsMatch(t, []uint32{1, 2}, h.mb.seen)

	approved, err := h.poller.approved(context.Background(), "retired@example.com")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestRunOnce_SkipsAlreadyProcessed(t *testing.T) {
	raw := rawMessage("cook@example.com", "recipes@example.com", "Toast", "dup@example.com", image("t.jpg"))
	h := newHarness(t, "", Message{UID: 1, Raw: raw})

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	h.mb.msgs = append(h.mb.msgs, Message{UID: 2, Raw: raw})
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AlreadySeen)
	assert.Len(t, h.sub.sources, 1)
}

func TestRunOnce_SubmitFailureLeavesMessageUnseen(t *testing.T) {
	raw := rawMessage("cook@example.com", "recipes@example.com", "Toast", "f1@example.com", image("t.jpg"))
	h := newHarness(t, "", Message{UID: 3, Raw: raw})
	h.sub.err = errors.New("queue closed")

	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Empty(t, h.mb.seen)

	done, err := h.store.MessageProcessed(context.Background(), "f1@example.com")
	require.NoError(t, err)
	assert.False(t, done)

	atts, err := h.store.ListAttachments(context.Background(), "f1@example.com")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, constants.AttachmentFailed, atts[0].Status)
}

func TestConfigFrom(t *testing.T) {
	_, err := ConfigFrom(commonEmail("not-a-uuid"))
	assert.Error(t, err)

	id := uuid.New()
	cfg, err := ConfigFrom(commonEmail(id.String()))
	require.NoError(t, err)
	assert.Equal(t, id, cfg.UserID)
	assert.Equal(t, "recipes@example.com", cfg.RecipientAlias)
}

func commonEmail(userID string) common.EmailConfig {
	return common.EmailConfig{RecipientAlias: "recipes@example.com", DefaultUserID: userID}
}
