package postgres

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// MessageRepo implements domain.MessageStore. Message bodies arrive already
// encrypted; this repo never sees plaintext.
type MessageRepo struct{ Pool PgxPool }

// NewMessageRepo constructs a MessageRepo with the given pool.
func NewMessageRepo(p PgxPool) *MessageRepo { return &MessageRepo{Pool: p} }

// SaveMessage stores one encrypted message and returns its id (generated
// when empty). ULIDs keep insertion order sortable by id.
func (r *MessageRepo) SaveMessage(ctx domain.Context, m domain.StoredMessage) (string, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "messages"),
	)
	id := m.ID
	if id == "" {
		id = ulid.Make().String()
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO messages (id, user_id, role, ciphertext, nonce, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := r.Pool.Exec(ctx, q, id, m.UserID, m.Role, m.Ciphertext, m.Nonce, created); err != nil {
		return "", fmt.Errorf("op=messages.save: %w", err)
	}
	return id, nil
}

// ListMessages returns a user's most recent messages, newest first.
func (r *MessageRepo) ListMessages(ctx domain.Context, userID string, limit int) ([]domain.StoredMessage, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "messages"),
	)
	q := `SELECT id, user_id, role, ciphertext, nonce, created_at
	      FROM messages WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=messages.list: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Ciphertext, &m.Nonce, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=messages.scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=messages.rows: %w", err)
	}
	return out, nil
}
