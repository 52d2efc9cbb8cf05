package chat

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"ephemeral-chat/internal/message"
)

const messageColumns = `id, sender_id, receiver_id, message_type, content, media_url, created_at, read_at, self_destruct_seconds`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertMessage(ctx context.Context, d message.Draft) (message.Message, error) {
	query := `INSERT INTO messages (sender_id, receiver_id, message_type, content, media_url, self_destruct_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	var mediaURL, selfDestruct any
	if d.MediaRef != "" {
		mediaURL = d.MediaRef
	}
	if d.SelfDestruct != nil {
		selfDestruct = d.SelfDestruct.TotalSeconds
	}

	m := message.Message{
		SenderID:     d.SenderID,
		ReceiverID:   d.ReceiverID,
		Kind:         d.Kind,
		Body:         d.Body,
		MediaRef:     d.MediaRef,
		SelfDestruct: d.SelfDestruct,
	}
	err := r.db.QueryRowContext(ctx, query, d.SenderID, d.ReceiverID, string(d.Kind), d.Body, mediaURL, selfDestruct).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return message.Message{}, errors.Wrap(err, "chatRepo.InsertMessage")
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

// ListConversation returns every message exchanged between a and b, oldest
// first.
func (r *Repository) ListConversation(ctx context.Context, a, b string) ([]message.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, a, b)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListConversation")
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListConversation.Scan")
	}
	return msgs, nil
}

// MarkRead stamps every unread message from senderID to receiverID and
// returns the rows it changed. Rows already read are left alone, so calling
// it twice is a no-op the second time.
func (r *Repository) MarkRead(ctx context.Context, receiverID, senderID string, at time.Time) ([]message.Message, error) {
	query := `UPDATE messages SET read_at = $3
		WHERE receiver_id = $1 AND sender_id = $2 AND read_at IS NULL
		RETURNING ` + messageColumns

	rows, err := r.db.QueryContext(ctx, query, receiverID, senderID, at)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.MarkRead")
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.MarkRead.Scan")
	}
	return msgs, nil
}

func (r *Repository) UpsertContact(ctx context.Context, userID, contactID string) error {
	query := `INSERT INTO contacts (user_id, contact_id) VALUES ($1, $2)
		ON CONFLICT (user_id, contact_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, contactID); err != nil {
		return errors.Wrap(err, "chatRepo.UpsertContact")
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]message.Message, error) {
	var msgs []message.Message
	for rows.Next() {
		var (
			row          message.Row
			mediaURL     sql.NullString
			readAt       sql.NullTime
			selfDestruct sql.NullInt64
		)
		if err := rows.Scan(&row.ID, &row.SenderID, &row.ReceiverID, &row.MessageType, &row.Content,
			&mediaURL, &row.CreatedAt, &readAt, &selfDestruct); err != nil {
			return nil, err
		}
		if mediaURL.Valid {
			row.MediaURL = &mediaURL.String
		}
		if readAt.Valid {
			row.ReadAt = &readAt.Time
		}
		if selfDestruct.Valid {
			secs := int(selfDestruct.Int64)
			row.SelfDestructSeconds = &secs
		}
		m, err := message.FromRow(row)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
