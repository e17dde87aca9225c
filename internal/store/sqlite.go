// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/storeline/chatsync/internal/wire"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL,
			agent_id INTEGER,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_customer
			ON conversations(customer_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			is_agent INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, id);

		CREATE TABLE IF NOT EXISTS read_states (
			conversation_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			last_read_id TEXT NOT NULL DEFAULT '',
			last_read_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, role),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// CreateConversation inserts a conversation for a customer.
// Returns ErrDuplicateConversation if the customer already has one.
func (s *SQLiteStore) CreateConversation(ctx context.Context, customerID int64) (*Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (customer_id, created_at, updated_at) VALUES (?, ?, ?)`,
		customerID, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading conversation id: %w", err)
	}

	s.logger.Debug("conversation created", "conversation_id", id, "customer_id", customerID)
	return &Conversation{ID: id, CustomerID: customerID, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation retrieves one conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, agent_id, created_at, updated_at FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// FindConversationByCustomer looks up the conversation for a customer,
// returning ErrNotFound if none exists yet.
func (s *SQLiteStore) FindConversationByCustomer(ctx context.Context, customerID int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, agent_id, created_at, updated_at FROM conversations WHERE customer_id = ?`, customerID)
	return scanConversation(row)
}

// ListConversations returns conversations newest-first, for the agent console.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, agent_id, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AssignAgent claims a conversation for an agent. Messages that arrived
// before the claim completed remain valid; assignment only affects
// console routing.
func (s *SQLiteStore) AssignAgent(ctx context.Context, conversationID, agentID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET agent_id = ?, updated_at = ? WHERE id = ?`,
		agentID, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("assigning agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assigning agent: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage appends one message to its conversation's history.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, is_agent, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.IsAgent, msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in creation order.
// Message IDs are ULIDs, so ordering by ID is ordering by time.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, is_agent, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.IsAgent, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// MarkRead advances the read watermark for a role to the newest message.
// Idempotent: marking an already-read conversation is a no-op.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID int64, role wire.Role) error {
	var lastID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&lastID)
	if err != nil {
		return fmt.Errorf("finding read watermark: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO read_states (conversation_id, role, last_read_id, last_read_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id, role) DO UPDATE SET
			last_read_id = excluded.last_read_id,
			last_read_at = excluded.last_read_at`,
		conversationID, string(role), lastID.String, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// UnreadCount returns the number of messages authored by the opposite
// role after the viewing role's read watermark.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID int64, role wire.Role) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = ?
		   AND is_agent = ?
		   AND id > COALESCE(
			(SELECT last_read_id FROM read_states WHERE conversation_id = ? AND role = ?), '')`,
		conversationID, role == wire.RoleCustomer, conversationID, string(role)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var agentID sql.NullInt64
	err := row.Scan(&c.ID, &c.CustomerID, &agentID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	if agentID.Valid {
		c.AgentID = &agentID.Int64
	}
	return &c, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
