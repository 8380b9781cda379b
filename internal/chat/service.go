// Package chat exposes the conversation surface: session management plus
// the streaming turn operations the transport layer calls into. It owns
// per-session serialization and ties turn execution to the audit trail; the
// actual model loop lives in the agent package.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/approval"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/sessions"
	"github.com/haasonsaas/steward/pkg/models"
)

// Common service errors.
var (
	// ErrNotOwner indicates the caller does not own the session.
	ErrNotOwner = errors.New("session belongs to another user")

	// ErrSessionArchived indicates the session no longer accepts turns.
	ErrSessionArchived = errors.New("session is archived")

	// ErrEmptyMessage indicates a turn was requested with no content.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrInvalidMode indicates an unrecognized assistant mode.
	ErrInvalidMode = errors.New("unknown assistant mode")
)

// Mode selects the assistant's reasoning behavior for a turn.
type Mode string

const (
	// ModeFast answers directly without extended reasoning.
	ModeFast Mode = "fast"

	// ModeThinking enables extended reasoning on providers that support
	// it.
	ModeThinking Mode = "thinking"
)

// Notices surfaced to clients as system chunks.
const (
	noticeTurnTimeout    = "The request took too long and was stopped."
	noticeTurnInProgress = "Another request is already running for this session. Please wait for it to finish."
)

// Config configures the chat service.
type Config struct {
	// SystemPrompt sent with every model request.
	SystemPrompt string

	// Model identifier passed to the provider. Empty uses the provider
	// default.
	Model string

	// WindowSize is the number of trailing messages sent to the model.
	// Default: 50
	WindowSize int

	// TurnTimeout bounds a whole turn including tool execution.
	// Default: 45s
	TurnTimeout time.Duration

	// LockWait bounds how long a turn waits for the session lock.
	// Default: TurnTimeout
	LockWait time.Duration
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.WindowSize <= 0 {
		out.WindowSize = 50
	}
	if out.TurnTimeout <= 0 {
		out.TurnTimeout = 45 * time.Second
	}
	if out.LockWait <= 0 {
		out.LockWait = out.TurnTimeout
	}
	return &out
}

// Service coordinates sessions, turns and approvals for the transport
// layer.
type Service struct {
	controller *agent.Controller
	sessions   sessions.Store
	approvals  approval.Store
	auditor    audit.Sink
	locks      *sessions.SessionLockManager
	logger     *slog.Logger
	config     *Config
}

// NewService creates a chat service.
func NewService(
	controller *agent.Controller,
	sessionStore sessions.Store,
	approvalStore approval.Store,
	auditor audit.Sink,
	locks *sessions.SessionLockManager,
	logger *slog.Logger,
	config *Config,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = sessions.NewSessionLockManager(0)
	}
	return &Service{
		controller: controller,
		sessions:   sessionStore,
		approvals:  approvalStore,
		auditor:    auditor,
		locks:      locks,
		logger:     logger,
		config:     config.withDefaults(),
	}
}

// CreateSession creates a session owned by the given user.
func (s *Service) CreateSession(ctx context.Context, ownerID, title string) (*models.Session, error) {
	session := &models.Session{
		OwnerID: ownerID,
		Title:   title,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session if the caller owns it.
func (s *Service) GetSession(ctx context.Context, ownerID, sessionID string) (*models.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return session, nil
}

// ListSessions returns the caller's sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, ownerID string, opts sessions.ListOptions) ([]*models.Session, error) {
	return s.sessions.List(ctx, ownerID, opts)
}

// ArchiveSession marks a session read-only. Archiving is idempotent.
func (s *Service) ArchiveSession(ctx context.Context, ownerID, sessionID string) (*models.Session, error) {
	session, err := s.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Archived {
		return session, nil
	}
	session.Archived = true
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to archive session: %w", err)
	}
	return session, nil
}

// GetHistory returns a session's messages in chronological order.
func (s *Service) GetHistory(ctx context.Context, ownerID, sessionID string, limit int) ([]*models.Message, error) {
	if _, err := s.GetSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.GetHistory(ctx, sessionID, limit)
}

// PendingApprovals returns the session's undecided approval requests,
// oldest first.
func (s *Service) PendingApprovals(ctx context.Context, ownerID, sessionID string) ([]*approval.Request, error) {
	if _, err := s.GetSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	return s.approvals.ListPending(ctx, sessionID)
}

// ContinueTurn appends a user message and runs one turn of the
// conversation. Chunks stream on the returned channel; the channel closes
// when the turn finishes, suspends for approval, or fails.
func (s *Service) ContinueTurn(ctx context.Context, ownerID, sessionID, content string, mode Mode, clientGone <-chan struct{}) (<-chan *agent.StreamChunk, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	switch mode {
	case "", ModeFast, ModeThinking:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	session, err := s.writableSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.StreamChunk, 32)
	go s.runTurn(ctx, session, chunks, clientGone, func(runCtx context.Context, opts agent.TurnOptions) error {
		opts.EnableThinking = mode == ModeThinking
		userMsg := &models.Message{
			SessionID: session.ID,
			Role:      models.RoleUser,
			Content:   content,
		}
		if err := s.sessions.AppendMessage(runCtx, session.ID, userMsg); err != nil {
			return fmt.Errorf("failed to persist user message: %w", err)
		}
		s.recordAudit(runCtx, &audit.Record{
			SessionID: session.ID,
			Type:      audit.TypeUserMessage,
			Actor:     ownerID,
		})

		window, err := s.loadWindow(runCtx, session.ID)
		if err != nil {
			return err
		}
		return s.controller.Run(runCtx, session, window, opts, chunks)
	})
	return chunks, nil
}

// ResumeTurn settles a pending approval and continues the suspended turn.
func (s *Service) ResumeTurn(ctx context.Context, ownerID, sessionID, token string, decision agent.Decision, clientGone <-chan struct{}) (<-chan *agent.StreamChunk, error) {
	session, err := s.writableSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.StreamChunk, 32)
	go s.runTurn(ctx, session, chunks, clientGone, func(runCtx context.Context, opts agent.TurnOptions) error {
		opts.DecidedBy = ownerID
		return s.controller.Resume(runCtx, session, token, decision, opts, chunks)
	})
	return chunks, nil
}

// runTurn serializes the turn behind the session lock and runs it on a
// context detached from the request. A client hanging up must not cancel a
// turn that may already have executed tools.
func (s *Service) runTurn(reqCtx context.Context, session *models.Session, chunks chan *agent.StreamChunk, clientGone <-chan struct{}, fn func(context.Context, agent.TurnOptions) error) {
	defer close(chunks)

	release, err := s.locks.Acquire(reqCtx, session.ID, session.OwnerID, s.config.LockWait)
	if err != nil {
		s.logger.Warn("turn blocked on session lock",
			"session_id", session.ID,
			"error", err,
		)
		s.emit(chunks, clientGone, &agent.StreamChunk{Type: agent.ChunkSystem, Content: noticeTurnInProgress})
		return
	}
	defer release()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), s.config.TurnTimeout)
	defer cancel()

	opts := agent.TurnOptions{
		SystemPrompt: s.config.SystemPrompt,
		Model:        s.config.Model,
		ClientGone:   clientGone,
	}

	err = fn(runCtx, opts)
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrClientDisconnected):
		s.logger.Info("turn abandoned, client disconnected", "session_id", session.ID)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("turn timed out", "session_id", session.ID)
		s.emit(chunks, clientGone, &agent.StreamChunk{Type: agent.ChunkSystem, Content: noticeTurnTimeout})
	default:
		s.logger.Error("turn failed", "session_id", session.ID, "error", err)
	}
}

// writableSession loads a session the caller may run turns on.
func (s *Service) writableSession(ctx context.Context, ownerID, sessionID string) (*models.Session, error) {
	session, err := s.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Archived {
		return nil, ErrSessionArchived
	}
	return session, nil
}

func (s *Service) loadWindow(ctx context.Context, sessionID string) ([]models.Message, error) {
	history, err := s.sessions.GetHistory(ctx, sessionID, s.config.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	window := make([]models.Message, len(history))
	for i, msg := range history {
		window[i] = *msg
	}
	return window, nil
}

func (s *Service) emit(chunks chan<- *agent.StreamChunk, clientGone <-chan struct{}, chunk *agent.StreamChunk) {
	if clientGone == nil {
		chunks <- chunk
		return
	}
	select {
	case chunks <- chunk:
	case <-clientGone:
	}
}

func (s *Service) recordAudit(ctx context.Context, record *audit.Record) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, record); err != nil {
		s.logger.Error("failed to write audit record",
			"session_id", record.SessionID,
			"type", string(record.Type),
			"error", err,
		)
	}
}
