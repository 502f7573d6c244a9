// Package cache is the durable, scope-keyed store of the document's update
// log. Opening a session replays the stored log into a fresh doc, then every
// further update (local or remote) is appended. Purge wipes a scope and must
// complete before the scope is reused; its failure is the one fatal error of
// the reset protocol.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS updates (
	scope   TEXT    NOT NULL,
	replica TEXT    NOT NULL,
	seq     INTEGER NOT NULL,
	payload BLOB    NOT NULL,
	PRIMARY KEY (scope, replica, seq)
);`

// Store is a SQLite-backed update log with zstd-compressed payloads. Safe
// for concurrent use.
type Store struct {
	db  *sql.DB
	log *logging.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	// SQLite allows one writer at a time; serializing appends here keeps
	// busy-timeout churn out of the hot path.
	wmu sync.Mutex
}

// Open creates or opens the store at path. ":memory:" works for tests.
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init decompressor: %w", err)
	}
	return &Store{db: db, log: log, enc: enc, dec: dec}, nil
}

// Close releases the database and codec resources.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// Append stores one update for a scope. Idempotent: re-appending an update
// already present under its (scope, replica, seq) key is a no-op, so replays
// after a crash cannot duplicate rows.
func (s *Store) Append(ctx context.Context, scope string, u crdt.Update) error {
	if len(u.Ops) == 0 {
		return nil
	}
	raw, err := u.Encode()
	if err != nil {
		return err
	}
	payload := s.enc.EncodeAll(raw, nil)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO updates (scope, replica, seq, payload) VALUES (?, ?, ?, ?)`,
		scope, u.Replica, u.Ops[0].Seq, payload)
	if err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

// Load replays every stored update for a scope into the doc and returns how
// many were applied.
func (s *Store) Load(ctx context.Context, scope string, doc *crdt.Doc) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM updates WHERE scope = ? ORDER BY replica, seq`, scope)
	if err != nil {
		return 0, fmt.Errorf("load scope %s: %w", scope, err)
	}
	defer rows.Close()

	applied := 0
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return applied, fmt.Errorf("scan update row: %w", err)
		}
		raw, err := s.dec.DecodeAll(payload, nil)
		if err != nil {
			return applied, fmt.Errorf("decompress update: %w", err)
		}
		u, err := crdt.DecodeUpdate(raw)
		if err != nil {
			return applied, err
		}
		if err := doc.ApplyUpdate(u); err != nil {
			return applied, err
		}
		applied++
	}
	if err := rows.Err(); err != nil {
		return applied, fmt.Errorf("load scope %s: %w", scope, err)
	}
	return applied, nil
}

// Attach replays the scope into the doc, then follows it: every committed
// update, local or remote, is appended as it happens. The returned detach
// must be called before the doc is destroyed.
func (s *Store) Attach(ctx context.Context, scope string, doc *crdt.Doc) (crdt.Unobserve, error) {
	n, err := s.Load(ctx, scope, doc)
	if err != nil {
		return nil, err
	}
	s.log.Debug("cache loaded", zap.String("scope", scope), zap.Int("updates", n))

	detach := doc.OnUpdate(func(u crdt.Update, remote bool) {
		if err := s.Append(context.Background(), scope, u); err != nil {
			// The in-memory doc stays authoritative; a lost append only
			// costs reload fidelity until the next successful one.
			s.log.Error("cache append failed",
				zap.String("scope", scope), zap.Bool("remote", remote), zap.Error(err))
		}
	})
	return detach, nil
}

// Purge deletes everything stored for a scope. Callers must wait for it
// before recreating the scope's document; an error here is fatal to the
// session.
func (s *Store) Purge(ctx context.Context, scope string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM updates WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("purge scope %s: %w", scope, err)
	}
	return nil
}

// Scopes lists every scope with stored updates.
func (s *Store) Scopes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT scope FROM updates ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()
	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}
