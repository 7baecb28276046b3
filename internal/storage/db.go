package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the peer's local SQLite database holding identity, friends and
// friend requests. Chat history lives in JSON files, see chatstore.go.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the SQLite database in the given directory.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "social.db")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS profile (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			peer_id      TEXT NOT NULL,
			display_name TEXT NOT NULL,
			friend_code  TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create profile table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS friends (
			peer_id      TEXT PRIMARY KEY,
			display_name TEXT DEFAULT '',
			friend_code  TEXT DEFAULT '',
			added_at     DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create friends table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS friend_requests (
			id         TEXT PRIMARY KEY,
			from_id    TEXT NOT NULL,
			from_name  TEXT DEFAULT '',
			to_id      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create friend_requests table: %w", err)
	}

	// Codes learned from other peers, so friend codes can be resolved to
	// peer IDs without a central registry.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS known_codes (
			code    TEXT PRIMARY KEY,
			peer_id TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create known_codes table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// ── Profile ──

type ProfileRow struct {
	PeerID      string
	DisplayName string
	FriendCode  string
}

// SaveProfile stores the local profile, replacing any previous one.
func (d *DB) SaveProfile(p ProfileRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO profile (id, peer_id, display_name, friend_code)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			peer_id = excluded.peer_id,
			display_name = excluded.display_name,
			friend_code = excluded.friend_code
	`, p.PeerID, p.DisplayName, p.FriendCode)
	return err
}

// LoadProfile returns the stored profile, if any.
func (d *DB) LoadProfile() (ProfileRow, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var p ProfileRow
	err := d.db.QueryRow(`SELECT peer_id, display_name, friend_code FROM profile WHERE id = 1`).
		Scan(&p.PeerID, &p.DisplayName, &p.FriendCode)
	if err == sql.ErrNoRows {
		return ProfileRow{}, false, nil
	}
	if err != nil {
		return ProfileRow{}, false, err
	}
	return p, true, nil
}

// ── Friends ──

type FriendRow struct {
	PeerID      string
	DisplayName string
	FriendCode  string
}

func (d *DB) UpsertFriend(f FriendRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO friends (peer_id, display_name, friend_code)
		VALUES (?, ?, ?)
		ON CONFLICT (peer_id) DO UPDATE SET
			display_name = excluded.display_name,
			friend_code = excluded.friend_code
	`, f.PeerID, f.DisplayName, f.FriendCode)
	return err
}

func (d *DB) RemoveFriend(peerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM friends WHERE peer_id = ?`, peerID)
	return err
}

func (d *DB) GetFriend(peerID string) (FriendRow, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var f FriendRow
	err := d.db.QueryRow(`SELECT peer_id, display_name, friend_code FROM friends WHERE peer_id = ?`, peerID).
		Scan(&f.PeerID, &f.DisplayName, &f.FriendCode)
	if err == sql.ErrNoRows {
		return FriendRow{}, false, nil
	}
	if err != nil {
		return FriendRow{}, false, err
	}
	return f, true, nil
}

func (d *DB) ListFriends() ([]FriendRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`SELECT peer_id, display_name, friend_code FROM friends ORDER BY added_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRow
	for rows.Next() {
		var f FriendRow
		if err := rows.Scan(&f.PeerID, &f.DisplayName, &f.FriendCode); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ── Friend requests ──

type RequestRow struct {
	ID        string
	FromID    string
	FromName  string
	ToID      string
	Status    string
	CreatedAt int64
}

// SaveRequest inserts a request. Duplicate IDs are ignored so a re-delivered
// request never clobbers local state.
func (d *DB) SaveRequest(r RequestRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO friend_requests (id, from_id, from_name, to_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.FromID, r.FromName, r.ToID, r.Status, r.CreatedAt)
	return err
}

func (d *DB) GetRequest(id string) (RequestRow, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var r RequestRow
	err := d.db.QueryRow(`SELECT id, from_id, from_name, to_id, status, created_at FROM friend_requests WHERE id = ?`, id).
		Scan(&r.ID, &r.FromID, &r.FromName, &r.ToID, &r.Status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return RequestRow{}, false, nil
	}
	if err != nil {
		return RequestRow{}, false, err
	}
	return r, true, nil
}

func (d *DB) UpdateRequestStatus(id, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(`UPDATE friend_requests SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("request not found: %s", id)
	}
	return nil
}

// HasPendingBetween reports whether a pending request from one peer to
// another already exists.
func (d *DB) HasPendingBetween(fromID, toID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM friend_requests
		WHERE from_id = ? AND to_id = ? AND status = 'pending'
	`, fromID, toID).Scan(&n)
	return n > 0, err
}

func (d *DB) PendingRequests() ([]RequestRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, from_id, from_name, to_id, status, created_at
		FROM friend_requests WHERE status = 'pending' ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RequestRow
	for rows.Next() {
		var r RequestRow
		if err := rows.Scan(&r.ID, &r.FromID, &r.FromName, &r.ToID, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Friend codes ──

// RegisterCode records a code-to-peer mapping learned from a peer.
func (d *DB) RegisterCode(code, peerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO known_codes (code, peer_id) VALUES (?, ?)
		ON CONFLICT (code) DO UPDATE SET peer_id = excluded.peer_id
	`, code, peerID)
	return err
}

// PeerByCode resolves a friend code to a peer ID from local knowledge.
func (d *DB) PeerByCode(code string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var peerID string
	err := d.db.QueryRow(`SELECT peer_id FROM known_codes WHERE code = ?`, code).Scan(&peerID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return peerID, true, nil
}

// CodeExists reports whether a code is already taken by us or anyone we
// know of.
func (d *DB) CodeExists(code string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int
	err := d.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM known_codes WHERE code = ?1)
		     + (SELECT COUNT(*) FROM profile WHERE friend_code = ?1)
	`, code).Scan(&n)
	return n > 0, err
}
