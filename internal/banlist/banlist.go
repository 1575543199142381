package banlist

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrInvalidAddress is returned when a ban target is not a parseable IP.
var ErrInvalidAddress = errors.New("banlist: invalid ip address format")

// Entry is one row of the ban table.
type Entry struct {
	Addr     string
	Name     string
	Reason   string
	BannedAt time.Time
}

// Store persists bans in a sqlite database so they survive restarts.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ban database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("banlist: open %s: %w", path, err)
	}

	table := `CREATE TABLE IF NOT EXISTS ban (
		addr VARCHAR(39) NOT NULL PRIMARY KEY,
		name VARCHAR(32) NOT NULL,
		reason VARCHAR(256) NOT NULL DEFAULT '',
		banned_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(table); err != nil {
		db.Close()
		return nil, fmt.Errorf("banlist: create table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ban records a ban for an IP address. Banning an already banned address
// updates the name and reason.
func (s *Store) Ban(addr, name, reason string) error {
	if net.ParseIP(addr) == nil {
		return ErrInvalidAddress
	}
	_, err := s.db.Exec(`INSERT INTO ban (
		addr,
		name,
		reason,
		banned_at
	) VALUES (
		?,
		?,
		?,
		?
	) ON CONFLICT(addr) DO UPDATE SET name = excluded.name, reason = excluded.reason;`,
		addr, name, reason, time.Now().Unix())
	return err
}

// IsBanned reports whether an address is banned, along with the stored name.
func (s *Store) IsBanned(addr string) (bool, string, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM ban WHERE addr = ?;`, addr).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, name, nil
}

// Unban removes bans matching a name or address.
func (s *Store) Unban(target string) error {
	_, err := s.db.Exec(`DELETE FROM ban WHERE name = ? OR addr = ?;`, target, target)
	return err
}

// List returns every ban entry.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT addr, name, reason, banned_at FROM ban;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.Addr, &e.Name, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.BannedAt = time.Unix(at, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
