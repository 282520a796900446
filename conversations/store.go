// Package conversations persists conversations in sqlite. It implements
// conversation.Store.
package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"

	"github.com/TrialBlazer23/ai-conversation-platform/conversation"
	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// Store handles persistence of conversations, their participants and their
// messages.
type Store struct {
	db *sql.DB
}

// NewStore creates a new Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new conversation with its participants and initial
// messages in one transaction.
func (s *Store) Create(ctx context.Context, conv *conversation.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	query := sq.Insert("conversations").
		Columns("id", "initial_prompt", "status", "current_index", "total_tokens", "total_cost", "created_at", "updated_at").
		Values(conv.ID, conv.InitialPrompt, string(conv.Status), conv.CurrentIndex,
			conv.TotalTokens, conv.TotalCost, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix())
	if err := execInsert(ctx, tx, query); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for position, p := range conv.Participants {
		query := sq.Insert("participants").
			Columns("conversation_id", "position", "provider", "model", "name", "temperature", "system_prompt").
			Values(conv.ID, position, p.Provider, p.Model, p.Name, p.Temperature, p.SystemPrompt)
		if err := execInsert(ctx, tx, query); err != nil {
			return fmt.Errorf("insert participant %d: %w", position, err)
		}
	}

	for _, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Get loads a conversation with its participants and full transcript.
func (s *Store) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv, err := s.getConversationRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Participants, err = s.getParticipants(ctx, id); err != nil {
		return nil, err
	}
	if conv.Messages, err = s.getMessages(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) getConversationRow(ctx context.Context, id string) (*conversation.Conversation, error) {
	query := sq.Select("id", "initial_prompt", "status", "current_index", "total_tokens", "total_cost", "created_at", "updated_at").
		From("conversations").
		Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var conv conversation.Conversation
	var status string
	var createdAt, updatedAt int64
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(
		&conv.ID, &conv.InitialPrompt, &status, &conv.CurrentIndex,
		&conv.TotalTokens, &conv.TotalCost, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	conv.Status = conversation.Status(status)
	conv.CreatedAt = time.Unix(createdAt, 0).UTC()
	conv.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &conv, nil
}

func (s *Store) getParticipants(ctx context.Context, id string) ([]conversation.Participant, error) {
	query := sq.Select("provider", "model", "name", "temperature", "system_prompt").
		From("participants").
		Where(sq.Eq{"conversation_id": id}).
		OrderBy("position ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var participants []conversation.Participant
	for rows.Next() {
		var p conversation.Participant
		if err := rows.Scan(&p.Provider, &p.Model, &p.Name, &p.Temperature, &p.SystemPrompt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (s *Store) getMessages(ctx context.Context, id string) ([]conversation.Message, error) {
	query := sq.Select("id", "role", "content", "participant", "tokens_used", "cost", "metadata", "created_at").
		From("messages").
		Where(sq.Eq{"conversation_id": id}).
		OrderBy("created_at ASC", "rowid ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var messages []conversation.Message
	for rows.Next() {
		var msg conversation.Message
		var role string
		var metadata sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Participant,
			&msg.TokensUsed, &msg.Cost, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = llm.MessageRole(role)
		msg.CreatedAt = time.Unix(createdAt, 0).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CommitTurn appends a message, folds its tokens and cost into the
// conversation totals and moves the turn cursor, all in one transaction.
func (s *Store) CommitTurn(ctx context.Context, id string, msg conversation.Message, nextIndex int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if err := insertMessage(ctx, tx, id, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	query := sq.Update("conversations").
		Set("total_tokens", sq.Expr("total_tokens + ?", msg.TokensUsed)).
		Set("total_cost", sq.Expr("total_cost + ?", msg.Cost)).
		Set("current_index", nextIndex).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return conversation.ErrNotFound
	}

	return tx.Commit()
}

// List returns conversation summaries ordered by most recent update. A
// limit of zero or less means no limit.
func (s *Store) List(ctx context.Context, limit, offset int) ([]conversation.Summary, error) {
	query := sq.Select(
		"c.id", "c.initial_prompt", "c.status", "c.total_tokens", "c.total_cost",
		"c.created_at", "c.updated_at",
		"(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count",
	).
		From("conversations c").
		OrderBy("c.updated_at DESC", "c.rowid DESC")
	// SQLite only accepts OFFSET after a LIMIT clause.
	if limit <= 0 && offset > 0 {
		limit = math.MaxInt64
	}
	if limit > 0 {
		query = query.Limit(uint64(limit)) //nolint:gosec // Bounded by the positive check
	}
	if offset > 0 {
		query = query.Offset(uint64(offset)) //nolint:gosec // Bounded by the positive check
	}
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var summaries []conversation.Summary
	for rows.Next() {
		var sum conversation.Summary
		var status string
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.InitialPrompt, &status, &sum.TotalTokens,
			&sum.TotalCost, &createdAt, &updatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Status = conversation.Status(status)
		sum.InitialPrompt = truncateString(sum.InitialPrompt, summaryPromptLen)
		sum.CreatedAt = time.Unix(createdAt, 0).UTC()
		sum.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes a conversation with its messages and participants in one
// transaction.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	for _, table := range []string{"messages", "participants"} {
		query := sq.Delete(table).Where(sq.Eq{"conversation_id": id})
		queryStr, args, err := query.ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}

	query := sq.Delete("conversations").Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return conversation.ErrNotFound
	}

	return tx.Commit()
}

// SetStatus updates a conversation's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id string, status conversation.Status) error {
	query := sq.Update("conversations").
		Set("status", string(status)).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return conversation.ErrNotFound
	}
	return nil
}

// summaryPromptLen caps the prompt carried in list summaries.
const summaryPromptLen = 100

// truncateString cuts on a rune boundary so multibyte prompts stay valid
// UTF-8.
func truncateString(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execInsert(ctx context.Context, db execer, query sq.InsertBuilder) error {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = db.ExecContext(ctx, queryStr, args...)
	return err
}

func insertMessage(ctx context.Context, db execer, conversationID string, msg conversation.Message) error {
	var metadata any
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
		metadata = string(data)
	}

	query := sq.Insert("messages").
		Columns("id", "conversation_id", "role", "content", "participant", "tokens_used", "cost", "metadata", "created_at").
		Values(msg.ID, conversationID, string(msg.Role), msg.Content, msg.Participant,
			msg.TokensUsed, msg.Cost, metadata, msg.CreatedAt.Unix())
	return execInsert(ctx, db, query)
}
