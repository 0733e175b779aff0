package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/npezzotti/go-chat-realtime/internal/types"
)

const (
	messageColumns = "id, conversation_id, sender, content, type, system_type, referenced_message, seen, " +
		"file_url, file_name, file_type, is_revoked, revoked_at, deleted_by, reactions, is_forwarded, " +
		"original_message, forwarded_by, original_sender, is_pinned, pinned_by, pinned_at, created_at, updated_at"
	conversationColumns = "id, type, name, avatar, description, last_message, admin, admin2, permissions, created_at, updated_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// validId guards UUID columns from ids produced by other backends.
func validId(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanMessage(row rowScanner) (types.Message, error) {
	var (
		m         types.Message
		revokedAt sql.NullTime
		pinnedAt  sql.NullTime
		reactions []byte
	)

	err := row.Scan(
		&m.Id,
		&m.ConversationId,
		&m.Sender,
		&m.Content,
		&m.Type,
		&m.SystemType,
		&m.ReferencedMessage,
		&m.Seen,
		&m.FileUrl,
		&m.FileName,
		&m.FileType,
		&m.IsRevoked,
		&revokedAt,
		pq.Array(&m.DeletedBy),
		&reactions,
		&m.IsForwarded,
		&m.OriginalMessage,
		&m.ForwardedBy,
		&m.OriginalSender,
		&m.IsPinned,
		&m.PinnedBy,
		&pinnedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	} else if err != nil {
		return m, err
	}

	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		m.RevokedAt = &t
	}
	if pinnedAt.Valid {
		t := pinnedAt.Time.UTC()
		m.PinnedAt = &t
	}
	if m.DeletedBy == nil {
		m.DeletedBy = []string{}
	}
	m.Reactions = map[string][]string{}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return m, err
		}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()

	return m, nil
}

func (db *PgStore) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	if !validId(params.ConversationId) {
		return types.Message{}, ErrNotFound
	}

	msg := newMessage(uuid.NewString(), params, now())
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, sender, content, type, system_type, referenced_message, "+
			"file_url, file_name, file_type, is_forwarded, original_message, forwarded_by, original_sender, "+
			"created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)",
		msg.Id,
		msg.ConversationId,
		msg.Sender,
		msg.Content,
		msg.Type,
		msg.SystemType,
		msg.ReferencedMessage,
		msg.FileUrl,
		msg.FileName,
		msg.FileType,
		msg.IsForwarded,
		msg.OriginalMessage,
		msg.ForwardedBy,
		msg.OriginalSender,
		msg.CreatedAt,
		msg.UpdatedAt,
	)

	return msg, err
}

func (db *PgStore) GetMessageById(ctx context.Context, id string) (types.Message, error) {
	if !validId(id) {
		return types.Message{}, ErrNotFound
	}

	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	return scanMessage(row)
}

func (db *PgStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) (types.Message, error) {
	if !validId(id) {
		return types.Message{}, ErrNotFound
	}

	var msg types.Message
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		row := tx.QueryRowContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE id = $1 FOR UPDATE",
			id,
		)
		if msg, err = scanMessage(row); err != nil {
			return err
		}

		update.Apply(&msg, now())

		reactions, err := json.Marshal(msg.Reactions)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE messages SET seen = $2, is_revoked = $3, revoked_at = $4, deleted_by = $5, "+
				"reactions = $6, is_pinned = $7, pinned_by = $8, pinned_at = $9, updated_at = $10 "+
				"WHERE id = $1",
			msg.Id,
			msg.Seen,
			msg.IsRevoked,
			msg.RevokedAt,
			pq.Array(msg.DeletedBy),
			reactions,
			msg.IsPinned,
			msg.PinnedBy,
			msg.PinnedAt,
			msg.UpdatedAt,
		)
		return err
	})

	return msg, err
}

func (db *PgStore) GetMessagesSince(ctx context.Context, conversationId string, since time.Time) ([]types.Message, error) {
	msgs := make([]types.Message, 0)
	if !validId(conversationId) {
		return msgs, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE conversation_id = $1 AND created_at > $2 "+
			"ORDER BY created_at ASC, id ASC",
		conversationId,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

func (db *PgStore) MarkConversationSeen(ctx context.Context, conversationId string) error {
	if !validId(conversationId) {
		return nil
	}

	_, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET seen = TRUE, updated_at = $2 WHERE conversation_id = $1 AND seen = FALSE",
		conversationId,
		now(),
	)

	return err
}

func (db *PgStore) DeleteConversationMessages(ctx context.Context, conversationId string) error {
	if !validId(conversationId) {
		return nil
	}

	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = $1",
		conversationId,
	)

	return err
}

func scanConversation(row rowScanner) (types.Conversation, error) {
	var (
		c     types.Conversation
		perms []byte
	)

	err := row.Scan(
		&c.Id,
		&c.Type,
		&c.Name,
		&c.Avatar,
		&c.Description,
		&c.LastMessage,
		&c.Admin,
		&c.Admin2,
		&perms,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	} else if err != nil {
		return c, err
	}

	c.Permissions = types.DefaultPermissions()
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &c.Permissions); err != nil {
			return c, err
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	return c, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getConversation(ctx context.Context, q querier, id string, lock bool) (types.Conversation, error) {
	query := "SELECT " + conversationColumns + " FROM conversations WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	c, err := scanConversation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return c, err
	}

	rows, err := q.QueryContext(ctx,
		"SELECT user_id, role FROM conversation_members WHERE conversation_id = $1 ORDER BY position ASC",
		id,
	)
	if err != nil {
		return c, err
	}
	defer rows.Close()

	c.Members = make([]types.Member, 0)
	for rows.Next() {
		var m types.Member
		if err := rows.Scan(&m.UserId, &m.Role); err != nil {
			return c, err
		}
		c.Members = append(c.Members, m)
	}

	return c, rows.Err()
}

func replaceMembers(ctx context.Context, q querier, id string, members []types.Member) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM conversation_members WHERE conversation_id = $1", id); err != nil {
		return err
	}

	for i, m := range members {
		_, err := q.ExecContext(ctx,
			"INSERT INTO conversation_members (conversation_id, user_id, role, position) VALUES ($1, $2, $3, $4)",
			id,
			m.UserId,
			m.Role,
			i,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (db *PgStore) CreateConversation(ctx context.Context, params CreateConversationParams) (types.Conversation, error) {
	conv := newConversation(uuid.NewString(), params, now())

	perms, err := json.Marshal(conv.Permissions)
	if err != nil {
		return conv, err
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (id, type, name, avatar, description, admin, permissions, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
			conv.Id,
			conv.Type,
			conv.Name,
			conv.Avatar,
			conv.Description,
			conv.Admin,
			perms,
			conv.CreatedAt,
			conv.UpdatedAt,
		)
		if err != nil {
			return err
		}

		return replaceMembers(ctx, tx, conv.Id, conv.Members)
	})

	return conv, err
}

func (db *PgStore) GetConversationById(ctx context.Context, id string) (types.Conversation, error) {
	if !validId(id) {
		return types.Conversation{}, ErrNotFound
	}

	return getConversation(ctx, db.conn, id, false)
}

func (db *PgStore) UpdateMembers(ctx context.Context, id string, update MembersUpdate) (types.Conversation, error) {
	if !validId(id) {
		return types.Conversation{}, ErrNotFound
	}

	var conv types.Conversation
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getConversation(ctx, tx, id, true); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"UPDATE conversations SET admin = $2, admin2 = $3, updated_at = $4 WHERE id = $1",
			id,
			update.Admin,
			update.Admin2,
			now(),
		)
		if err != nil {
			return err
		}

		if err := replaceMembers(ctx, tx, id, update.Members); err != nil {
			return err
		}

		conv, err = getConversation(ctx, tx, id, false)
		return err
	})

	return conv, err
}

func (db *PgStore) UpdateLastMessage(ctx context.Context, id, messageId string) error {
	if !validId(id) {
		return ErrNotFound
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE conversations SET last_message = $2, updated_at = $3 WHERE id = $1",
		id,
		messageId,
		now(),
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (db *PgStore) UpdateGroupInfo(ctx context.Context, id string, update GroupInfoUpdate) (types.Conversation, error) {
	if !validId(id) {
		return types.Conversation{}, ErrNotFound
	}

	var conv types.Conversation
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if conv, err = getConversation(ctx, tx, id, true); err != nil {
			return err
		}

		update.Apply(&conv, now())

		perms, err := json.Marshal(conv.Permissions)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE conversations SET name = $2, avatar = $3, permissions = $4, updated_at = $5 WHERE id = $1",
			id,
			conv.Name,
			conv.Avatar,
			perms,
			conv.UpdatedAt,
		)
		return err
	})

	return conv, err
}

func (db *PgStore) DeleteConversation(ctx context.Context, id string) error {
	if !validId(id) {
		return ErrNotFound
	}

	res, err := db.conn.ExecContext(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
