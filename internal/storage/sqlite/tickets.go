package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ferrovax/deskrelay/pkg/logger"
	_ "modernc.org/sqlite"
)

// Import logger functions
var (
	String = logger.String
	Int64  = logger.Int64
	Error  = logger.Error
)

// Ticket statuses as shown on the staff dashboard
const (
	TicketStatusNew        = "New"
	TicketStatusInProgress = "In Progress"
	TicketStatusOnHold     = "On Hold"
	TicketStatusClosed     = "Closed"
)

// Remote session states stamped onto a ticket
const (
	RemoteStatusNone    = "none"
	RemoteStatusPending = "pending"
	RemoteStatusActive  = "active"
	RemoteStatusClosed  = "closed"
)

// TicketRecord represents a help desk ticket in the database
type TicketRecord struct {
	ID                    int64     `json:"id"`
	UserName              string    `json:"user_name"`
	UserEmail             string    `json:"user_email"`
	PCLocation            string    `json:"pc_location"`
	ProblemDescription    string    `json:"problem_description"`
	RemoteAccessRequested bool      `json:"remote_access_requested"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	Notes                 string    `json:"notes,omitempty"`
	RemoteSessionID       string    `json:"remote_session_id,omitempty"`
	RemoteSessionStatus   string    `json:"remote_session_status"`
}

// TicketStorage is a SQLite-based storage for help desk tickets
type TicketStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTicketStorage opens (or creates) the SQLite database at dbPath and
// initializes the ticket schema
func NewTicketStorage(dbPath string, log *logger.Logger) (*TicketStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &TicketStorage{
		db:     db,
		logger: storageLogger,
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// Close closes the database connection
func (s *TicketStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection so other storages can share the file
func (s *TicketStorage) GetDB() *sql.DB {
	return s.db
}

// initDB initializes the database tables
func (s *TicketStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_name TEXT NOT NULL,
			user_email TEXT NOT NULL,
			pc_location TEXT NOT NULL,
			problem_description TEXT NOT NULL,
			remote_access_requested BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'New',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			remote_session_id TEXT,
			remote_session_status TEXT NOT NULL DEFAULT 'none'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tickets table: %w", err)
	}

	// Create indexes
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`)
	if err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tickets_created_at ON tickets(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// Insert stores a new ticket and returns its ID. Creation and update
// timestamps are stamped here; status defaults to New.
func (s *TicketStorage) Insert(record *TicketRecord) (int64, error) {
	now := time.Now().UTC()
	if record.Status == "" {
		record.Status = TicketStatusNew
	}
	if record.RemoteSessionStatus == "" {
		record.RemoteSessionStatus = RemoteStatusNone
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	result, err := s.db.Exec(
		`INSERT INTO tickets
		(user_name, user_email, pc_location, problem_description, remote_access_requested, status, created_at, updated_at, notes, remote_session_id, remote_session_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UserName,
		record.UserEmail,
		record.PCLocation,
		record.ProblemDescription,
		record.RemoteAccessRequested,
		record.Status,
		record.CreatedAt.Format(time.RFC3339),
		record.UpdatedAt.Format(time.RFC3339),
		record.Notes,
		nullableString(record.RemoteSessionID),
		record.RemoteSessionStatus,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ticket: %w", err)
	}

	// Get ID
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

// GetByID returns the ticket with the given ID, or nil when it does not exist
func (s *TicketStorage) GetByID(id int64) (*TicketRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, user_name, user_email, pc_location, problem_description, remote_access_requested, status, created_at, updated_at, notes, remote_session_id, remote_session_status
		FROM tickets
		WHERE id = ?`,
		id,
	)

	record, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return record, nil
}

// List returns tickets filtered by status ("all" disables the filter) and
// ordered by the given sort key: "status", "location" or created_at (default,
// newest first)
func (s *TicketStorage) List(status, sortBy string) ([]*TicketRecord, error) {
	query := `SELECT id, user_name, user_email, pc_location, problem_description, remote_access_requested, status, created_at, updated_at, notes, remote_session_id, remote_session_status
		FROM tickets`

	var args []interface{}
	if status != "" && status != "all" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}

	switch sortBy {
	case "status":
		query += ` ORDER BY status, created_at DESC`
	case "location":
		query += ` ORDER BY pc_location, created_at DESC`
	default:
		query += ` ORDER BY created_at DESC`
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var records []*TicketRecord
	for rows.Next() {
		record, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// UpdateStatus changes the ticket status and refreshes the update timestamp
func (s *TicketStorage) UpdateStatus(id int64, status string) error {
	result, err := s.db.Exec(
		`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	return requireRowAffected(result, id)
}

// AppendNote adds a timestamped, attributed note below any existing notes
func (s *TicketStorage) AppendNote(id int64, author, note string) error {
	entry := fmt.Sprintf("[%s - %s]: %s",
		time.Now().UTC().Format("2006-01-02 15:04:05"), author, note)

	result, err := s.db.Exec(
		`UPDATE tickets
		SET notes = CASE WHEN notes = '' THEN ? ELSE notes || ? END, updated_at = ?
		WHERE id = ?`,
		entry, "\n\n"+entry, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to append ticket note: %w", err)
	}
	return requireRowAffected(result, id)
}

// SetRemoteSession stamps the remote session reference onto the ticket
func (s *TicketStorage) SetRemoteSession(id int64, sessionID, sessionStatus string) error {
	result, err := s.db.Exec(
		`UPDATE tickets SET remote_session_id = ?, remote_session_status = ?, updated_at = ? WHERE id = ?`,
		nullableString(sessionID), sessionStatus, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set remote session: %w", err)
	}
	return requireRowAffected(result, id)
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*TicketRecord, error) {
	var record TicketRecord
	var createdAt, updatedAt string
	var notes, remoteSessionID sql.NullString

	if err := row.Scan(
		&record.ID,
		&record.UserName,
		&record.UserEmail,
		&record.PCLocation,
		&record.ProblemDescription,
		&record.RemoteAccessRequested,
		&record.Status,
		&createdAt,
		&updatedAt,
		&notes,
		&remoteSessionID,
		&record.RemoteSessionStatus,
	); err != nil {
		return nil, err
	}

	// Parse timestamps
	var err error
	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	// Handle nullable fields
	if notes.Valid {
		record.Notes = notes.String
	}
	if remoteSessionID.Valid {
		record.RemoteSessionID = remoteSessionID.String
	}

	return &record, nil
}

func requireRowAffected(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ticket %d not found", id)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
