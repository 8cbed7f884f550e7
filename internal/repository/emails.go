package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

func senderKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (d *DB) GetApprovedSender(ctx context.Context, email string) (*entity.ApprovedSender, error) {
	q := d.builder().Select("email", "name", "active", "created_at").From(d.builder().Table(tableSenders)).
		Where(entsql.EQ("email", senderKey(email)))
	var (
		s       entity.ApprovedSender
		created dbTime
	)
	if err := queryRow(ctx, d.db, q).Scan(&s.Email, &s.Name, &s.Active, &created); err != nil {
		return nil, wrapDBError(fmt.Sprintf("get approved sender %s", email), err)
	}
	s.CreatedAt = created.Time
	return &s, nil
}

func (d *DB) UpsertApprovedSender(ctx context.Context, s *entity.ApprovedSender) error {
	s.Email = senderKey(s.Email)
	s.CreatedAt = utc(s.CreatedAt)
	q := d.builder().Insert(tableSenders).
		Columns("email", "name", "active", "created_at").
		Values(s.Email, s.Name, s.Active, s.CreatedAt).
		OnConflict(
			entsql.ConflictColumns("email"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("name")
				u.SetExcluded("active")
			}),
		)
	if _, err := exec(ctx, d.db, q); err != nil {
		return wrapDBError("upsert approved sender", err)
	}
	return nil
}

func (d *DB) ListApprovedSenders(ctx context.Context) ([]entity.ApprovedSender, error) {
	q := d.builder().Select("email", "name", "active", "created_at").From(d.builder().Table(tableSenders)).OrderBy("email")
	rows, err := query(ctx, d.db, q)
	if err != nil {
		return nil, wrapDBError("list approved senders", err)
	}
	defer rows.Close()
	var out []entity.ApprovedSender
	for rows.Next() {
		var (
			s       entity.ApprovedSender
			created dbTime
		)
		if err := rows.Scan(&s.Email, &s.Name, &s.Active, &created); err != nil {
			return nil, wrapDBError("scan approved sender", err)
		}
		s.CreatedAt = created.Time
		out = append(out, s)
	}
	return out, wrapDBError("list approved senders", rows.Err())
}

func (d *DB) MessageProcessed(ctx context.Context, messageID string) (bool, error) {
	q := d.builder().Select("message_id").From(d.builder().Table(tableEmails)).Where(entsql.EQ("message_id", messageID))
	var id string
	err := queryRow(ctx, d.db, q).Scan(&id)
	if err == nil {
		return true, nil
	}
	if err = wrapDBError("message processed", err); errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (d *DB) RecordProcessedEmail(ctx context.Context, m *entity.ProcessedEmail) error {
	m.ReceivedAt = utc(m.ReceivedAt)
	m.ProcessedAt = utc(m.ProcessedAt)
	q := d.builder().Insert(tableEmails).
		Columns("message_id", "sender", "subject", "outcome", "jobs", "received_at", "processed_at").
		Values(m.MessageID, m.Sender, m.Subject, m.Outcome, m.Jobs, m.ReceivedAt, m.ProcessedAt)
	if _, err := exec(ctx, d.db, q); err != nil {
		return wrapDBError(fmt.Sprintf("record email %s", m.MessageID), err)
	}
	return nil
}

var attachmentColumns = []string{
	"id", "message_id", "sender", "filename", "content_type", "size", "path",
	"group_index", "slot", "embedded", "status", "error", "job_id", "created_at",
}

func (d *DB) SaveAttachment(ctx context.Context, a *entity.EmailAttachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = utc(a.CreatedAt)
	q := d.builder().Insert(tableAttachments).Columns(attachmentColumns...).Values(
		a.ID, a.MessageID, a.Sender, a.Filename, a.ContentType, a.Size, a.Path,
		a.GroupIndex, string(a.Slot), a.Embedded, string(a.Status), a.Error, uuidArg(a.JobID), a.CreatedAt,
	).OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := exec(ctx, d.db, q); err != nil {
		return wrapDBError("save attachment", err)
	}
	return nil
}

func (d *DB) ListAttachments(ctx context.Context, messageID string) ([]entity.EmailAttachment, error) {
	q := d.builder().Select(attachmentColumns...).From(d.builder().Table(tableAttachments)).
		Where(entsql.EQ("message_id", messageID)).
		OrderBy("group_index", "created_at")
	rows, err := query(ctx, d.db, q)
	if err != nil {
		return nil, wrapDBError("list attachments", err)
	}
	defer rows.Close()
	var out []entity.EmailAttachment
	for rows.Next() {
		var (
			a            entity.EmailAttachment
			slot, status string
			jobID        uuid.NullUUID
			created      dbTime
		)
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Sender, &a.Filename, &a.ContentType, &a.Size, &a.Path,
			&a.GroupIndex, &slot, &a.Embedded, &status, &a.Error, &jobID, &created); err != nil {
			return nil, wrapDBError("scan attachment", err)
		}
		a.Slot = constants.PhotoSlot(slot)
		a.Status = constants.AttachmentStatus(status)
		if jobID.Valid {
			id := jobID.UUID
			a.JobID = &id
		}
		a.CreatedAt = created.Time
		out = append(out, a)
	}
	return out, wrapDBError("list attachments", rows.Err())
}
