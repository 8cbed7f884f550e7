// Package email polls a mailbox for recipe photos and text sent by approved
// senders and turns each message into ingestion jobs.
package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
)

// Message is one unseen mailbox message in RFC 822 form.
type Message struct {
	UID uint32
	Raw []byte
}

// Mailbox is the slice of an IMAP session the poller needs.
type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]Message, error)
	MarkSeen(ctx context.Context, uids ...uint32) error
	Close() error
}

// Dialer opens a mailbox session for one poll cycle.
type Dialer func(ctx context.Context) (Mailbox, error)

// IMAPDialer returns a Dialer that logs into cfg.IMAPAddr and selects
// cfg.Folder.
func IMAPDialer(cfg common.EmailConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Mailbox, error) {
		return DialIMAP(ctx, cfg, logger)
	}
}

// IMAPMailbox is a Mailbox backed by a go-imap client.
type IMAPMailbox struct {
	c      *client.Client
	logger *slog.Logger
}

func DialIMAP(ctx context.Context, cfg common.EmailConfig, logger *slog.Logger) (*IMAPMailbox, error) {
	if cfg.IMAPAddr == "" {
		return nil, fmt.Errorf("imap address is not configured: %w", common.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		c   *client.Client
		err error
	)
	if cfg.UseTLS {
		c, err = client.DialTLS(cfg.IMAPAddr, nil)
	} else {
		c, err = client.Dial(cfg.IMAPAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.IMAPAddr, err)
	}
	c.Timeout = cfg.Timeout

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login as %s: %w", cfg.Username, err)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	logger.Debug("email.imap.connected", "addr", cfg.IMAPAddr, "folder", folder)
	return &IMAPMailbox{c: c, logger: logger}, nil
}

// watch terminates the connection if ctx ends before stop is called.
func (m *IMAPMailbox) watch(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = m.c.Terminate()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (m *IMAPMailbox) FetchUnseen(ctx context.Context) ([]Message, error) {
	defer m.watch(ctx)()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() { done <- m.c.UidFetch(seqset, items, ch) }()

	out := make([]Message, 0, len(uids))
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			m.logger.Warn("email.imap.empty_body", "uid", msg.Uid)
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			m.logger.Warn("email.imap.read_failed", "uid", msg.Uid, "error", err)
			continue
		}
		out = append(out, Message{UID: msg.Uid, Raw: raw})
	}
	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}
	return out, nil
}

func (m *IMAPMailbox) MarkSeen(ctx context.Context, uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}
	defer m.watch(ctx)()
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (m *IMAPMailbox) Close() error {
	return m.c.Logout()
}
