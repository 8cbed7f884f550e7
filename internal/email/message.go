package email

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/joseph-ayodele/recipe-ingest/constants"
)

const (
	DefaultMaxAttachmentBytes = 25 * 1024 * 1024
	DefaultMaxAttachments     = 20
)

// Limits bound what is kept from one message.
type Limits struct {
	MaxAttachmentBytes int
	MaxAttachments     int
}

func (l Limits) withDefaults() Limits {
	if l.MaxAttachmentBytes <= 0 {
		l.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if l.MaxAttachments <= 0 {
		l.MaxAttachments = DefaultMaxAttachments
	}
	return l
}

// Part is an image pulled from a message, or one that was skipped.
type Part struct {
	Filename    string
	ContentType string
	Data        []byte
	Size        int
	Embedded    bool
	// SkipReason is set when the part was dropped.
	SkipReason string
}

// Parsed is the subset of a message the poller acts on.
type Parsed struct {
	MessageID  string
	From       string
	FromName   string
	Subject    string
	Date       time.Time
	Recipients []string
	Text       string
	Images     []Part
	Skipped    []Part
}

// Sender returns the display name, or the address when there is none.
func (p *Parsed) Sender() string {
	if p.FromName != "" {
		return p.FromName
	}
	return p.From
}

// AddressedTo reports whether alias appears in To, Cc or Bcc. An empty alias
// matches every message.
func (p *Parsed) AddressedTo(alias string) bool {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return true
	}
	for _, r := range p.Recipients {
		if r == alias {
			return true
		}
	}
	return false
}

// Parse reads an RFC 822 message, keeping image attachments, inline images
// and the plain-text body.
func Parse(raw []byte, limits Limits) (*Parsed, error) {
	limits = limits.withDefaults()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	p := &Parsed{}
	if id, err := h.MessageID(); err == nil && id != "" {
		p.MessageID = id
	} else {
		sum := sha256.Sum256(raw)
		p.MessageID = "sha256-" + hex.EncodeToString(sum[:12])
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = strings.ToLower(from[0].Address)
		p.FromName = strings.TrimSpace(from[0].Name)
	}
	p.Subject, _ = h.Subject()
	p.Date, _ = h.Date()
	for _, field := range []string{"To", "Cc", "Bcc"} {
		list, err := h.AddressList(field)
		if err != nil {
			continue
		}
		for _, a := range list {
			p.Recipients = append(p.Recipients, strings.ToLower(a.Address))
		}
	}

	var text []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p, fmt.Errorf("read part: %w", err)
		}
		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			ct, params, _ := ph.ContentType()
			switch {
			case ct == "text/plain":
				b, err := io.ReadAll(part.Body)
				if err != nil {
					return p, fmt.Errorf("read text body: %w", err)
				}
				if s := strings.TrimSpace(string(b)); s != "" {
					text = append(text, s)
				}
			case constants.IsImageContentType(ct):
				name := inlineName(ph, params["name"], len(p.Images)+1)
				p.add(limits, name, ct, true, part.Body)
			}
		case *mail.AttachmentHeader:
			ct, _, _ := ph.ContentType()
			name, _ := ph.Filename()
			if name == "" {
				continue
			}
			if !constants.IsImageContentType(ct) {
				ct = mime.TypeByExtension(filepath.Ext(name))
				if i := strings.IndexByte(ct, ';'); i >= 0 {
					ct = ct[:i]
				}
				if !constants.IsImageContentType(ct) {
					continue
				}
			}
			p.add(limits, name, ct, false, part.Body)
		}
	}
	p.Text = strings.Join(text, "\n\n")
	return p, nil
}

func (p *Parsed) add(limits Limits, name, ct string, embedded bool, body io.Reader) {
	part := Part{Filename: name, ContentType: ct, Embedded: embedded}
	if len(p.Images) >= limits.MaxAttachments {
		part.SkipReason = fmt.Sprintf("more than %d attachments", limits.MaxAttachments)
		p.Skipped = append(p.Skipped, part)
		return
	}
	data, err := io.ReadAll(io.LimitReader(body, int64(limits.MaxAttachmentBytes)+1))
	part.Size = len(data)
	switch {
	case err != nil:
		part.SkipReason = "read failed: " + err.Error()
	case len(data) == 0:
		part.SkipReason = "empty attachment"
	case len(data) > limits.MaxAttachmentBytes:
		part.SkipReason = fmt.Sprintf("larger than %d bytes", limits.MaxAttachmentBytes)
	}
	if part.SkipReason != "" {
		p.Skipped = append(p.Skipped, part)
		return
	}
	part.Data = data
	p.Images = append(p.Images, part)
}

// inlineName picks a file name for an embedded image: the disposition or
// content-type name, then Content-ID, then Content-Location, then a
// numbered fallback.
func inlineName(h *mail.InlineHeader, ctName string, n int) string {
	if _, params, err := h.ContentDisposition(); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	if ctName != "" {
		return ctName
	}
	if cid := strings.Trim(strings.TrimSpace(h.Get("Content-Id")), "<>"); cid != "" {
		return cid + ".jpg"
	}
	if loc := strings.TrimSpace(h.Get("Content-Location")); loc != "" {
		return filepath.Base(loc)
	}
	return fmt.Sprintf("embedded_image_%d.jpg", n)
}
