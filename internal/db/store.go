package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store holds bot log history and the item catalog.
type Store struct {
	db *Database
}

// LogEntry is one persisted log line.
type LogEntry struct {
	ID        int64     `json:"id"`
	BotID     string    `json:"bot_id"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemRecord is one row of the item catalog.
type ItemRecord struct {
	ID            uint32
	Name          string
	Rarity        uint16
	CollisionType uint8
	ActionType    uint8
}

// NewStore opens the database at dbPath and migrates its schema.
func NewStore(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS bot_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL,
			line TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			rarity INTEGER NOT NULL DEFAULT 0,
			collision_type INTEGER NOT NULL DEFAULT 0,
			action_type INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_bot_logs_bot_id ON bot_logs(bot_id);
		CREATE INDEX IF NOT EXISTS idx_items_name ON items(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("database schema migrated")
	return nil
}

// AppendLog persists one log line for a bot.
func (s *Store) AppendLog(botID, line string) error {
	_, err := s.db.Exec("INSERT INTO bot_logs (bot_id, line) VALUES (?, ?)", botID, line)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// RecentLogs returns up to limit of the newest lines for a bot, oldest first.
func (s *Store) RecentLogs(botID string, limit int) ([]LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, bot_id, line, created_at FROM (
			SELECT id, bot_id, line, created_at FROM bot_logs
			WHERE bot_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.BotID, &e.Line, &e.CreatedAt); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneLogs keeps only the newest keep lines for a bot.
func (s *Store) PruneLogs(botID string, keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM bot_logs WHERE bot_id = ? AND id NOT IN (
			SELECT id FROM bot_logs WHERE bot_id = ? ORDER BY id DESC LIMIT ?
		)
	`, botID, botID, keep)
	return err
}

// DeleteLogsBefore removes every line written before cutoff and returns how
// many were removed.
func (s *Store) DeleteLogsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM bot_logs WHERE created_at < datetime(?, 'unixepoch')", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old logs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteLogs removes every line for a bot.
func (s *Store) DeleteLogs(botID string) error {
	_, err := s.db.Exec("DELETE FROM bot_logs WHERE bot_id = ?", botID)
	return err
}

// ReplaceItems swaps the whole item catalog in one transaction.
func (s *Store) ReplaceItems(items []ItemRecord) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM items"); err != nil {
			return fmt.Errorf("failed to clear items: %w", err)
		}
		stmt, err := tx.Prepare(
			"INSERT INTO items (id, name, rarity, collision_type, action_type) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, it := range items {
			if _, err := stmt.Exec(it.ID, it.Name, it.Rarity, it.CollisionType, it.ActionType); err != nil {
				return fmt.Errorf("failed to insert item %d: %w", it.ID, err)
			}
		}

		log.Info().Int("items", len(items)).Msg("item catalog replaced")
		return nil
	})
}

// Items returns the full item catalog ordered by id.
func (s *Store) Items() ([]ItemRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, name, rarity, collision_type, action_type FROM items ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var out []ItemRecord
	for rows.Next() {
		var it ItemRecord
		if err := rows.Scan(&it.ID, &it.Name, &it.Rarity, &it.CollisionType, &it.ActionType); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
