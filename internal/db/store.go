package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/events"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store holds filter presets and the radio message journal.
type Store struct {
	db *Database
}

// FilterPreset is a named passband for one demodulation mode, in Hz relative
// to the carrier.
type FilterPreset struct {
	ID   int64  `json:"id"`
	Mode string `json:"mode"`
	Name string `json:"name"`
	Low  int    `json:"low"`
	High int    `json:"high"`
}

// Edges returns the passband edges.
func (p FilterPreset) Edges() (int, int) { return p.Low, p.High }

// Message is one journaled M line.
type Message struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Severity   string    `json:"severity"`
	Code       uint32    `json:"code"`
	Text       string    `json:"text"`
}

// Open opens the store at path, migrates the schema and, when seed is set,
// inserts the default presets for any mode that has none.
func Open(ctx context.Context, path string, seed bool) (*Store, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}

	if err := s.migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if seed {
		if err := s.seedDefaults(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to seed filter presets: %w", err)
		}
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS filter_presets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mode TEXT NOT NULL,
			name TEXT NOT NULL,
			low INTEGER NOT NULL,
			high INTEGER NOT NULL,
			UNIQUE (mode, name)
		);

		CREATE TABLE IF NOT EXISTS radio_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			received_at INTEGER NOT NULL,
			severity TEXT NOT NULL,
			code INTEGER NOT NULL,
			text TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_filter_presets_mode ON filter_presets(mode);
		CREATE INDEX IF NOT EXISTS idx_radio_messages_received ON radio_messages(received_at);
	`

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("database schema migrated")
	return nil
}

// defaultPresets are the passbands offered per mode before the user adds any.
var defaultPresets = map[string][]FilterPreset{
	"USB": {
		{Name: "1.8k", Low: 100, High: 1900},
		{Name: "2.1k", Low: 100, High: 2200},
		{Name: "2.4k", Low: 100, High: 2500},
		{Name: "2.7k", Low: 100, High: 2800},
		{Name: "3.0k", Low: 100, High: 3100},
	},
	"LSB": {
		{Name: "1.8k", Low: -1900, High: -100},
		{Name: "2.1k", Low: -2200, High: -100},
		{Name: "2.4k", Low: -2500, High: -100},
		{Name: "2.7k", Low: -2800, High: -100},
		{Name: "3.0k", Low: -3100, High: -100},
	},
	"DIGU": {
		{Name: "1.5k", Low: 750, High: 2250},
		{Name: "3.0k", Low: 0, High: 3000},
		{Name: "4.0k", Low: 0, High: 4000},
	},
	"DIGL": {
		{Name: "1.5k", Low: -2250, High: -750},
		{Name: "3.0k", Low: -3000, High: 0},
		{Name: "4.0k", Low: -4000, High: 0},
	},
	"CW": {
		{Name: "50", Low: -25, High: 25},
		{Name: "100", Low: -50, High: 50},
		{Name: "250", Low: -125, High: 125},
		{Name: "500", Low: -250, High: 250},
		{Name: "1.0k", Low: -500, High: 500},
	},
	"AM": {
		{Name: "5.6k", Low: -2800, High: 2800},
		{Name: "8.0k", Low: -4000, High: 4000},
		{Name: "10k", Low: -5000, High: 5000},
	},
	"SAM": {
		{Name: "5.6k", Low: -2800, High: 2800},
		{Name: "8.0k", Low: -4000, High: 4000},
		{Name: "10k", Low: -5000, High: 5000},
	},
	"FM": {
		{Name: "11k", Low: -5500, High: 5500},
		{Name: "16k", Low: -8000, High: 8000},
	},
	"RTTY": {
		{Name: "250", Low: -285, High: 115},
		{Name: "500", Low: -410, High: 240},
	},
}

// seedDefaults inserts the default presets for modes with no presets yet.
func (s *Store) seedDefaults(ctx context.Context) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for mode, presets := range defaultPresets {
			var count int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM filter_presets WHERE mode = ?", mode).Scan(&count); err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			for _, p := range presets {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO filter_presets (mode, name, low, high) VALUES (?, ?, ?, ?)",
					mode, p.Name, p.Low, p.High); err != nil {
					return err
				}
			}
			log.Debug().Str("mode", mode).Int("presets", len(presets)).Msg("seeded filter presets")
		}
		return nil
	})
}

// FilterPresets returns the presets for mode, narrowest first.
func (s *Store) FilterPresets(ctx context.Context, mode string) ([]FilterPreset, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, mode, name, low, high FROM filter_presets
		WHERE mode = ?
		ORDER BY (high - low), name
	`, strings.ToUpper(mode))
	if err != nil {
		return nil, fmt.Errorf("query filter presets: %w", err)
	}
	defer rows.Close()

	var presets []FilterPreset
	for rows.Next() {
		var p FilterPreset
		if err := rows.Scan(&p.ID, &p.Mode, &p.Name, &p.Low, &p.High); err != nil {
			return nil, fmt.Errorf("scan filter preset: %w", err)
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// FilterPreset returns one named preset.
func (s *Store) FilterPreset(ctx context.Context, mode, name string) (FilterPreset, error) {
	var p FilterPreset
	err := s.db.QueryRow(ctx,
		"SELECT id, mode, name, low, high FROM filter_presets WHERE mode = ? AND name = ?",
		strings.ToUpper(mode), name).Scan(&p.ID, &p.Mode, &p.Name, &p.Low, &p.High)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("filter preset %s/%s: %w", mode, name, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("query filter preset: %w", err)
	}
	return p, nil
}

// SaveFilterPreset inserts or replaces the preset named p.Name for p.Mode.
func (s *Store) SaveFilterPreset(ctx context.Context, p FilterPreset) error {
	if p.High <= p.Low {
		return fmt.Errorf("filter preset %s: high edge %d must exceed low edge %d", p.Name, p.High, p.Low)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO filter_presets (mode, name, low, high) VALUES (?, ?, ?, ?)
		ON CONFLICT (mode, name) DO UPDATE SET low = excluded.low, high = excluded.high
	`, strings.ToUpper(p.Mode), p.Name, p.Low, p.High)
	if err != nil {
		return fmt.Errorf("save filter preset: %w", err)
	}
	return nil
}

// DeleteFilterPreset removes a preset.
func (s *Store) DeleteFilterPreset(ctx context.Context, mode, name string) error {
	res, err := s.db.Exec(ctx,
		"DELETE FROM filter_presets WHERE mode = ? AND name = ?", strings.ToUpper(mode), name)
	if err != nil {
		return fmt.Errorf("delete filter preset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("filter preset %s/%s: %w", mode, name, ErrNotFound)
	}
	return nil
}

// RecordMessage appends one message to the journal.
func (s *Store) RecordMessage(ctx context.Context, m Message) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO radio_messages (received_at, severity, code, text) VALUES (?, ?, ?, ?)",
		m.ReceivedAt.UnixMilli(), m.Severity, int64(m.Code), m.Text)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// Messages returns the newest limit messages, newest first.
func (s *Store) Messages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, received_at, severity, code, text FROM radio_messages
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var received, code int64
		if err := rows.Scan(&m.ID, &received, &m.Severity, &code, &m.Text); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ReceivedAt = time.UnixMilli(received)
		m.Code = uint32(code)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// PruneMessages keeps the newest keep messages and deletes the rest.
func (s *Store) PruneMessages(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.Exec(ctx, `
		DELETE FROM radio_messages
		WHERE id NOT IN (SELECT id FROM radio_messages ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

// SubscribeJournal records every radio message published on bus.
func (s *Store) SubscribeJournal(bus *events.EventBus) {
	bus.Subscribe(events.EventRadioMessage, "db.journal", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.RadioMessagePayload)
		if !ok {
			return nil
		}
		return s.RecordMessage(ctx, Message{
			ReceivedAt: p.ReceivedAt,
			Severity:   p.Severity,
			Code:       p.Code,
			Text:       p.Text,
		})
	})
}
