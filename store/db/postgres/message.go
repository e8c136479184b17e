package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvoss/typewriter/store"
)

func (d *DB) insertMessage(ctx context.Context, tx *sql.Tx, create *store.CreateMessage) (int64, error) {
	contentJSON, err := json.Marshal(create.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal content: %w", err)
	}

	fields := []string{"uid", "conversation_id", "author_id", "role", "content", "model", "is_complete", "created_ts"}
	args := []any{create.UID, create.ConversationID, create.AuthorID, string(create.Role), contentJSON, create.Model, create.IsComplete, create.CreatedTs}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	var id int64
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create message: %w", err)
	}
	return id, nil
}

// CreateTurn inserts the user message and the assistant placeholder in a
// single transaction. A reader either sees both rows or neither.
func (d *DB) CreateTurn(ctx context.Context, userMessage, placeholder *store.CreateMessage) (*store.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := d.insertMessage(ctx, tx, userMessage); err != nil {
		return nil, err
	}
	placeholderID, err := d.insertMessage(ctx, tx, placeholder)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}

	return &store.Message{
		ID:             placeholderID,
		UID:            placeholder.UID,
		ConversationID: placeholder.ConversationID,
		AuthorID:       placeholder.AuthorID,
		Role:           placeholder.Role,
		Content:        placeholder.Content,
		Model:          placeholder.Model,
		IsComplete:     placeholder.IsComplete,
		CreatedTs:      placeholder.CreatedTs,
	}, nil
}

const messageFields = `id, uid, conversation_id, author_id, role, content, model, failure_reason, is_complete, write_seq, created_ts`

func scanMessage(scan func(...any) error) (*store.Message, error) {
	m := &store.Message{}
	var contentJSON []byte
	if err := scan(
		&m.ID, &m.UID, &m.ConversationID, &m.AuthorID, &m.Role, &contentJSON,
		&m.Model, &m.FailureReason, &m.IsComplete, &m.WriteSeq, &m.CreatedTs,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	return m, nil
}

func (d *DB) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+messageFields+` FROM message WHERE id = $1`, id)
	m, err := scanMessage(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Role != nil {
		where, args = append(where, "role = "+placeholder(len(args)+1)), append(args, string(*find.Role))
	}

	// Ordered by id: the serial key is the stable creation order.
	query := `SELECT ` + messageFields + ` FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		list = append(list, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return list, nil
}

// PatchMessageContent overwrites the content with a newer accumulated value.
// The write_seq guard makes out-of-order delivery harmless: a stale patch
// matches zero rows and is reported as not applied.
func (d *DB) PatchMessageContent(ctx context.Context, patch *store.PatchMessageContent) (bool, error) {
	contentJSON, err := json.Marshal(patch.Content)
	if err != nil {
		return false, fmt.Errorf("failed to marshal content: %w", err)
	}

	result, err := d.db.ExecContext(ctx,
		`UPDATE message SET content = $1, write_seq = $2 WHERE id = $3 AND write_seq < $2`,
		contentJSON, patch.WriteSeq, patch.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to patch message content: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	// Zero rows: either the patch is stale or the message is gone.
	var exists int
	if err := d.db.QueryRowContext(ctx, `SELECT 1 FROM message WHERE id = $1`, patch.ID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return false, nil
}

func (d *DB) MarkMessageComplete(ctx context.Context, id int64) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE message SET is_complete = TRUE, failure_reason = '' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message complete: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkMessageFailed records the terminal failure reason. A message that
// already completed is left untouched.
func (d *DB) MarkMessageFailed(ctx context.Context, id int64, reason string) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE message SET failure_reason = $1 WHERE id = $2 AND is_complete = FALSE`, reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		if err := d.db.QueryRowContext(ctx, `SELECT 1 FROM message WHERE id = $1`, id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to check message existence: %w", err)
		}
	}
	return nil
}

func (d *DB) ListPendingMessages(ctx context.Context) ([]*store.Message, error) {
	query := `SELECT ` + messageFields + ` FROM message
		WHERE role = 'assistant' AND is_complete = FALSE AND failure_reason = ''
		ORDER BY id ASC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		list = append(list, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending messages: %w", err)
	}

	return list, nil
}
