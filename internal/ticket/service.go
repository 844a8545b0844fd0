package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ferrovax/deskrelay/internal/mailer"
	"github.com/ferrovax/deskrelay/internal/session"
	"github.com/ferrovax/deskrelay/internal/storage/sqlite"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int64  = logger.Int64
	Error  = logger.Error
)

// Service errors surfaced to the API layer
var (
	ErrNotFound           = errors.New("ticket not found")
	ErrInvalidStatus      = errors.New("invalid ticket status")
	ErrRemoteNotRequested = errors.New("remote access was not requested for this ticket")
)

var validStatuses = map[string]bool{
	sqlite.TicketStatusNew:        true,
	sqlite.TicketStatusInProgress: true,
	sqlite.TicketStatusOnHold:     true,
	sqlite.TicketStatusClosed:     true,
}

// Service implements the help desk ticket workflow: public submission with
// notification mail, staff-side updates, and handover into a remote-control
// session when the submitter authorized one.
type Service struct {
	storage  *sqlite.TicketStorage
	sessions *session.Registry
	mailer   *mailer.Mailer
	logger   *logger.Logger
}

// NewService creates a ticket service
func NewService(
	storage *sqlite.TicketStorage,
	sessions *session.Registry,
	mail *mailer.Mailer,
	log *logger.Logger,
) *Service {
	return &Service{
		storage:  storage,
		sessions: sessions,
		mailer:   mail,
		logger:   log.Named("tickets"),
	}
}

// SubmitRequest carries a new ticket from the public submission form
type SubmitRequest struct {
	UserName              string `json:"user_name"`
	UserEmail             string `json:"user_email"`
	PCLocation            string `json:"pc_location"`
	ProblemDescription    string `json:"problem_description"`
	RemoteAccessRequested bool   `json:"remote_access_requested"`
}

func (r *SubmitRequest) validate() error {
	if n := len(strings.TrimSpace(r.UserName)); n < 2 || n > 100 {
		return errors.New("user_name must be between 2 and 100 characters")
	}
	if !strings.Contains(r.UserEmail, "@") {
		return errors.New("user_email must be a valid email address")
	}
	if n := len(strings.TrimSpace(r.PCLocation)); n < 2 || n > 100 {
		return errors.New("pc_location must be between 2 and 100 characters")
	}
	if len(strings.TrimSpace(r.ProblemDescription)) < 10 {
		return errors.New("problem_description must be at least 10 characters")
	}
	return nil
}

// Submit validates and stores a new ticket, then mails a confirmation to the
// submitter and a notification to the IT mailbox. Mail failures are logged
// and never fail the submission.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*sqlite.TicketRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	record := &sqlite.TicketRecord{
		UserName:              strings.TrimSpace(req.UserName),
		UserEmail:             strings.TrimSpace(req.UserEmail),
		PCLocation:            strings.TrimSpace(req.PCLocation),
		ProblemDescription:    strings.TrimSpace(req.ProblemDescription),
		RemoteAccessRequested: req.RemoteAccessRequested,
	}

	id, err := s.storage.Insert(record)
	if err != nil {
		return nil, fmt.Errorf("failed to store ticket: %w", err)
	}

	s.sendMail(ctx, record.UserEmail,
		fmt.Sprintf("IT Ticket #%d Submitted Successfully", id),
		confirmationBody(record))
	if s.mailer.ITAddress() != "" {
		s.sendMail(ctx, s.mailer.ITAddress(),
			fmt.Sprintf("New IT Ticket #%d - %s", id, record.PCLocation),
			notificationBody(record))
	}

	s.logger.Info("Ticket submitted",
		Int64("ticket_id", id),
		String("location", record.PCLocation),
		logger.Bool("remote_access", record.RemoteAccessRequested))

	return record, nil
}

// UpdateRequest carries a staff-side ticket update. Empty fields are left
// untouched.
type UpdateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// Update applies a status change and/or appends a note under the staff
// member's name. A status change mails the submitter.
func (s *Service) Update(ctx context.Context, id int64, author string, req *UpdateRequest) (*sqlite.TicketRecord, error) {
	record, err := s.storage.GetByID(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}

	oldStatus := record.Status
	if req.Status != "" {
		if !validStatuses[req.Status] {
			return nil, ErrInvalidStatus
		}
		if err := s.storage.UpdateStatus(id, req.Status); err != nil {
			return nil, err
		}
	}
	if note := strings.TrimSpace(req.Notes); note != "" {
		if err := s.storage.AppendNote(id, author, note); err != nil {
			return nil, err
		}
	}

	record, err = s.storage.GetByID(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}

	if req.Status != "" && req.Status != oldStatus {
		s.sendMail(ctx, record.UserEmail,
			fmt.Sprintf("IT Ticket #%d Status Update", id),
			statusUpdateBody(record, oldStatus))
	}

	s.logger.Info("Ticket updated",
		Int64("ticket_id", id),
		String("status", record.Status),
		String("updated_by", author))

	return record, nil
}

// Detail pairs a ticket with the live remote session bound to it, if any
type Detail struct {
	Ticket  *sqlite.TicketRecord `json:"ticket"`
	Session *session.Snapshot    `json:"remote_session,omitempty"`
}

// Get returns one ticket together with its live remote session
func (s *Service) Get(id int64) (*Detail, error) {
	record, err := s.storage.GetByID(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}

	detail := &Detail{Ticket: record}
	if snap, ok := s.sessions.GetByTicket(id); ok {
		detail.Session = &snap
	}
	return detail, nil
}

// List returns tickets filtered by status and ordered by the given sort key
func (s *Service) List(status, sortBy string) ([]*sqlite.TicketRecord, error) {
	return s.storage.List(status, sortBy)
}

// StartRemote creates a remote-control session for the ticket and stamps the
// session reference onto it. The submitter must have authorized remote access
// on the ticket. The returned value is the only copy of the two join tokens;
// they are handed out-of-band and cannot be retrieved later.
func (s *Service) StartRemote(ctx context.Context, id int64, operatorName string) (*session.Created, error) {
	record, err := s.storage.GetByID(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	if !record.RemoteAccessRequested {
		return nil, ErrRemoteNotRequested
	}

	created, err := s.sessions.Create(id, record.UserName, operatorName)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote session: %w", err)
	}

	if err := s.storage.SetRemoteSession(id, created.ID, sqlite.RemoteStatusPending); err != nil {
		// The ticket vanished under us; take the orphaned session back down
		s.sessions.Close(created.ID)
		return nil, err
	}

	s.logger.Info("Remote session started",
		Int64("ticket_id", id),
		String("session_id", created.ID),
		String("operator", operatorName))

	return created, nil
}

// EndRemote closes the ticket's remote session and clears the stamp
func (s *Service) EndRemote(id int64) error {
	record, err := s.storage.GetByID(id)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotFound
	}
	if record.RemoteSessionID == "" {
		return nil
	}

	s.sessions.Close(record.RemoteSessionID)
	return s.storage.SetRemoteSession(id, record.RemoteSessionID, sqlite.RemoteStatusClosed)
}

func (s *Service) sendMail(ctx context.Context, to, subject, body string) {
	if err := s.mailer.Send(ctx, to, subject, body); err != nil {
		s.logger.Error("Email sending failed",
			Error(err),
			String("to", to),
			String("subject", subject))
	}
}

func confirmationBody(t *sqlite.TicketRecord) string {
	return fmt.Sprintf(
		"Hello %s,\n\n"+
			"Your IT support ticket #%d has been submitted successfully.\n\n"+
			"PC Location: %s\n"+
			"Problem: %s\n\n"+
			"The IT team will review it shortly. You will receive another email when the status changes.\n",
		t.UserName, t.ID, t.PCLocation, t.ProblemDescription)
}

func notificationBody(t *sqlite.TicketRecord) string {
	remote := "no"
	if t.RemoteAccessRequested {
		remote = "yes"
	}
	return fmt.Sprintf(
		"New ticket #%d from %s <%s>.\n\n"+
			"PC Location: %s\n"+
			"Remote access authorized: %s\n\n"+
			"%s\n",
		t.ID, t.UserName, t.UserEmail, t.PCLocation, remote, t.ProblemDescription)
}

func statusUpdateBody(t *sqlite.TicketRecord, oldStatus string) string {
	return fmt.Sprintf(
		"Hello %s,\n\n"+
			"The status of your IT ticket #%d changed from %s to %s.\n",
		t.UserName, t.ID, oldStatus, t.Status)
}
