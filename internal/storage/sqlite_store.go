package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

var ErrUserExists = errors.New("user already exists")

type User struct {
	ID           int64
	Email        string
	PasswordHash string
}

// LocalHouse is the client-side cached copy of a house.
type LocalHouse struct {
	Key      string             `json:"key"`
	HID      int64              `json:"hid"`
	Name     string             `json:"name"`
	Address  string             `json:"address"`
	Rank     float64            `json:"rank"`
	Criteria []domain.Criterion `json:"criteria"`
}

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	// базовые настройки
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB) *SQLiteStore { return &SQLiteStore{db: db} }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) EnsureSchema() error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at INTEGER NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS houses (
  hid INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT ''
);`, `
CREATE TABLE IF NOT EXISTS criteria (
  hid INTEGER NOT NULL REFERENCES houses(hid) ON DELETE CASCADE,
  id INTEGER NOT NULL,
  category TEXT NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  value REAL NOT NULL DEFAULT 0,
  is_dream INTEGER NOT NULL DEFAULT 0,
  position INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (hid, id)
);`, `
CREATE TABLE IF NOT EXISTS dream_criteria (
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  id INTEGER NOT NULL,
  category TEXT NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  value REAL NOT NULL DEFAULT 0,
  position INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, id)
);`, `
CREATE TABLE IF NOT EXISTS local_houses (
  key TEXT PRIMARY KEY,
  hid INTEGER NOT NULL DEFAULT 0,
  name TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  rank REAL NOT NULL DEFAULT 0,
  criteria_json TEXT NOT NULL DEFAULT '[]'
);`,
		`CREATE INDEX IF NOT EXISTS idx_houses_user ON houses(user_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---- users ----

func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)`,
		email, passwordHash, time.Now().Unix(),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (User, bool, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// ---- houses ----

// CreateHouse inserts a house and seeds its criteria from the owner's dream house.
func (s *SQLiteStore) CreateHouse(ctx context.Context, userID int64, name, address string) (domain.HouseSummary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.HouseSummary{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO houses (user_id, name, address) VALUES (?, ?, ?)`, userID, name, address)
	if err != nil {
		return domain.HouseSummary{}, err
	}
	hid, err := res.LastInsertId()
	if err != nil {
		return domain.HouseSummary{}, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO criteria (hid, id, category, name, type, value, is_dream, position, updated_at)
SELECT ?, id, category, name, type, value, 1, position, ?
FROM dream_criteria WHERE user_id = ?
`, hid, time.Now().UnixNano(), userID); err != nil {
		return domain.HouseSummary{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.HouseSummary{}, err
	}
	return domain.HouseSummary{HID: hid, Name: name, Address: address}, nil
}

func (s *SQLiteStore) ListHouses(ctx context.Context, userID int64) ([]domain.HouseSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hid, name, address FROM houses WHERE user_id = ? ORDER BY hid`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.HouseSummary{}
	for rows.Next() {
		var h domain.HouseSummary
		if err := rows.Scan(&h.HID, &h.Name, &h.Address); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HouseOwner returns the user owning hid.
func (s *SQLiteStore) HouseOwner(ctx context.Context, hid int64) (int64, bool, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM houses WHERE hid = ?`, hid).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return userID, true, nil
}

// ---- criteria ----

func (s *SQLiteStore) ListCriteria(ctx context.Context, hid int64) ([]domain.Criterion, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, category, name, type, value, is_dream
FROM criteria WHERE hid = ?
ORDER BY position, id
`, hid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCriteria(rows, true)
}

func (s *SQLiteStore) GetCriterion(ctx context.Context, hid, id int64) (domain.Criterion, bool, error) {
	var c domain.Criterion
	var dream int
	err := s.db.QueryRowContext(ctx, `
SELECT id, category, name, type, value, is_dream FROM criteria WHERE hid = ? AND id = ?
`, hid, id).Scan(&c.ID, &c.Category, &c.Name, &c.Type, &c.Value, &dream)
	if err == sql.ErrNoRows {
		return domain.Criterion{}, false, nil
	}
	if err != nil {
		return domain.Criterion{}, false, err
	}
	c.IsDream = dream != 0
	return c, true, nil
}

// UpsertCriteria inserts criteria of a house without duplicating by id.
// New rows go after the ones already stored.
func (s *SQLiteStore) UpsertCriteria(ctx context.Context, hid int64, items []domain.Criterion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO criteria
(hid, id, category, name, type, value, is_dream, position, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM criteria WHERE hid = ?), ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, c := range items {
		if _, err := stmt.ExecContext(ctx, hid, c.ID, c.Category, c.Name, c.Type, c.Value, boolInt(c.IsDream), hid, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetCriterionValue overwrites one value. The last write wins; sending the
// same value again is harmless.
func (s *SQLiteStore) SetCriterionValue(ctx context.Context, hid, id int64, value float64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE criteria SET value = ?, updated_at = ? WHERE hid = ? AND id = ?`,
		value, time.Now().UnixNano(), hid, id,
	)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

// DeleteCriterion removes a user criterion. Dream house criteria stay.
func (s *SQLiteStore) DeleteCriterion(ctx context.Context, hid, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM criteria WHERE hid = ? AND id = ? AND is_dream = 0`, hid, id)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

// ---- dream house ----

func (s *SQLiteStore) SetDreamHouse(ctx context.Context, userID int64, items []domain.Criterion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO dream_criteria (user_id, id, category, name, type, value, position)
VALUES (?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range items {
		if _, err := stmt.ExecContext(ctx, userID, c.ID, c.Category, c.Name, c.Type, c.Value, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DreamHouse(ctx context.Context, userID int64) ([]domain.Criterion, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, category, name, type, value FROM dream_criteria
WHERE user_id = ? ORDER BY position, id
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := scanCriteria(rows, false)
	for i := range out {
		out[i].IsDream = true
	}
	return out, err
}

// ---- client cache ----

func (s *SQLiteStore) SaveLocalHouse(ctx context.Context, h LocalHouse) error {
	cr, err := json.Marshal(h.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO local_houses (key, hid, name, address, rank, criteria_json)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  hid = excluded.hid, name = excluded.name, address = excluded.address,
  rank = excluded.rank, criteria_json = excluded.criteria_json
`, h.Key, h.HID, h.Name, h.Address, h.Rank, string(cr))
	return err
}

func (s *SQLiteStore) LocalHouses(ctx context.Context) ([]LocalHouse, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT key, hid, name, address, rank, criteria_json FROM local_houses ORDER BY name, key
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocalHouse
	for rows.Next() {
		var h LocalHouse
		var crJSON string
		if err := rows.Scan(&h.Key, &h.HID, &h.Name, &h.Address, &h.Rank, &crJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(crJSON), &h.Criteria); err != nil {
			return nil, fmt.Errorf("local house %s: unmarshal criteria: %w", h.Key, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteLocalHouse(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM local_houses WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

func scanCriteria(rows *sql.Rows, withDream bool) ([]domain.Criterion, error) {
	out := []domain.Criterion{}
	for rows.Next() {
		var c domain.Criterion
		var dream int
		dest := []any{&c.ID, &c.Category, &c.Name, &c.Type, &c.Value}
		if withDream {
			dest = append(dest, &dream)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		c.IsDream = dream != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
