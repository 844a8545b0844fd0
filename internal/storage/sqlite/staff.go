package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ferrovax/deskrelay/pkg/logger"
)

// StaffRecord represents an IT staff account in the database
type StaffRecord struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
}

// StaffStorage handles storage of staff accounts
type StaffStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStaffStorage creates a staff storage on an already-open database handle
func NewStaffStorage(db *sql.DB, log *logger.Logger) *StaffStorage {
	storage := &StaffStorage{
		db:     db,
		logger: log.Named("sqlite-staff"),
	}

	// Initialize database
	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize staff storage", Error(err))
	}

	return storage
}

// initDB initializes the database tables
func (s *StaffStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS it_staff (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			email TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create it_staff table: %w", err)
	}
	return nil
}

// Insert stores a new staff account and returns its ID
func (s *StaffStorage) Insert(record *StaffRecord) (int64, error) {
	record.CreatedAt = time.Now().UTC()

	result, err := s.db.Exec(
		`INSERT INTO it_staff (username, password_hash, email, created_at) VALUES (?, ?, ?, ?)`,
		record.Username,
		record.PasswordHash,
		record.Email,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert staff account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

// GetByUsername returns the staff account with the given username, or nil
// when it does not exist
func (s *StaffStorage) GetByUsername(username string) (*StaffRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, username, password_hash, email, created_at FROM it_staff WHERE username = ?`,
		username,
	)

	var record StaffRecord
	var createdAt string
	if err := row.Scan(
		&record.ID,
		&record.Username,
		&record.PasswordHash,
		&record.Email,
		&createdAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get staff account: %w", err)
	}

	var err error
	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &record, nil
}

// Count returns the number of staff accounts
func (s *StaffStorage) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM it_staff`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count staff accounts: %w", err)
	}
	return count, nil
}
