// Package acl decides who may run privileged commands. Grants pair a
// context (usually a command name, or "*" for all) with a hostmask.
package acl

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/dalnet/neubot/internal/proto"
)

// AnyContext grants access to every privileged command.
const AnyContext = "*"

// Store keeps grants in SQLite. Configured masters pass every check
// without a grant.
type Store struct {
	db      *sql.DB
	log     *zap.Logger
	masters []*proto.Mask
}

// Open creates or opens the ACL database at path.
func Open(path string, masters []string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{log: log}
	for _, m := range masters {
		mask, err := proto.ParseMask(m)
		if err != nil {
			return nil, fmt.Errorf("master: %w", err)
		}
		s.masters = append(s.masters, mask)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open acl database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS grants (
		context  TEXT NOT NULL,
		hostmask TEXT NOT NULL,
		PRIMARY KEY (context, hostmask)
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsAuthorized reports whether id may act in context. Lookup errors deny.
func (s *Store) IsAuthorized(id *proto.Identity, context string) bool {
	if id == nil {
		return false
	}
	for _, m := range s.masters {
		if m.Match(id) {
			return true
		}
	}

	rows, err := s.db.Query(`SELECT hostmask FROM grants WHERE context = ? OR context = ?`, context, AnyContext)
	if err != nil {
		s.log.Warn("acl lookup failed", zap.String("context", context), zap.Error(err))
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var pattern string
		if err := rows.Scan(&pattern); err != nil {
			s.log.Warn("acl lookup failed", zap.String("context", context), zap.Error(err))
			return false
		}
		if id.Matches(pattern) {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("acl lookup failed", zap.String("context", context), zap.Error(err))
		return false
	}
	return false
}

// Allow grants hostmask access to context.
func (s *Store) Allow(context, hostmask string) error {
	if context == "" {
		return fmt.Errorf("empty context")
	}
	if _, err := proto.ParseMask(hostmask); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO grants (context, hostmask) VALUES (?, ?)`, context, hostmask)
	return err
}

// Revoke removes a grant. It reports whether the grant existed.
func (s *Store) Revoke(context, hostmask string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM grants WHERE context = ? AND hostmask = ?`, context, hostmask)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Grants lists the hostmasks allowed in context, not counting masters.
func (s *Store) Grants(context string) ([]string, error) {
	rows, err := s.db.Query(`SELECT hostmask FROM grants WHERE context = ? ORDER BY hostmask`, context)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Masters lists the configured master patterns
func (s *Store) Masters() []string {
	out := make([]string, len(s.masters))
	for i, m := range s.masters {
		out[i] = m.String()
	}
	return out
}
