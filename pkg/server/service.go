package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/hyperresearch/pkg/database"
	"github.com/mikeboe/hyperresearch/pkg/research"
	"github.com/mikeboe/hyperresearch/pkg/stream"
	"github.com/mikeboe/hyperresearch/pkg/visibility"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPanelNotFound   = errors.New("panel not found")
)

// Repository persists sessions. *database.PostgresDB implements it.
type Repository interface {
	LogWriter
	CreateSession(ctx context.Context, id uuid.UUID, title string) (*database.SessionRecord, error)
	GetSession(ctx context.Context, id uuid.UUID) (*database.SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]database.SessionRecord, error)
	SaveSessionState(ctx context.Context, id uuid.UUID, state, block json.RawMessage, userMessageID string, cursor int) error
	AppendDeltas(ctx context.Context, sessionID uuid.UUID, start int, deltas []json.RawMessage) error
	LoadDeltas(ctx context.Context, sessionID uuid.UUID) ([]json.RawMessage, error)
	GetSessionLogs(ctx context.Context, sessionID uuid.UUID) ([]database.LogRecord, error)
}

// Session bundles everything one chat needs: the research store, the document
// block, the user message id and the consumer feeding them.
type Session struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time

	Store     *research.Store
	Blocks    *stream.BlockState
	MessageID *stream.MessageIDHolder
	Consumer  *stream.Consumer
	Logger    *slog.Logger

	mu     sync.Mutex
	deltas []json.RawMessage
}

// SessionView is the JSON snapshot of a session
type SessionView struct {
	ID            uuid.UUID              `json:"id"`
	Title         string                 `json:"title"`
	State         research.ResearchState `json:"state"`
	Block         stream.Block           `json:"block"`
	UserMessageID string                 `json:"userMessageId"`
	DeltaCursor   int                    `json:"deltaCursor"`
	Deltas        int                    `json:"deltas"`
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// view must be called with s.mu held so state, block and cursor agree
func (s *Session) view() SessionView {
	return SessionView{
		ID:            s.ID,
		Title:         s.Title,
		State:         s.Store.State(),
		Block:         s.Blocks.Block(),
		UserMessageID: s.MessageID.UserMessageID(),
		DeltaCursor:   s.Consumer.Cursor(),
		Deltas:        len(s.deltas),
	}
}

type Service struct {
	Repo         Repository
	Panels       *visibility.Coordinator
	Logger       *slog.Logger
	SessionLimit int

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	mounted  map[string]*visibility.Instance
}

// NewService creates a session service. repo may be nil to keep everything in memory.
func NewService(repo Repository, sessionLimit int) *Service {
	if sessionLimit <= 0 {
		sessionLimit = 50
	}
	return &Service{
		Repo:         repo,
		Panels:       visibility.NewCoordinator(),
		Logger:       slog.Default(),
		SessionLimit: sessionLimit,
		sessions:     make(map[uuid.UUID]*Session),
		mounted:      make(map[string]*visibility.Instance),
	}
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}

func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	title := req.Title
	if title == "" {
		title = "New Research"
	}

	id := uuid.New()
	createdAt := time.Now()
	if s.Repo != nil {
		rec, err := s.Repo.CreateSession(ctx, id, title)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		createdAt = rec.CreatedAt
	}

	sess := s.newSession(id, title, createdAt, research.NewStore(), stream.InitialBlock())

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	sess.Logger.Info("Session created", "title", title)
	return sess, nil
}

func (s *Service) newSession(id uuid.UUID, title string, createdAt time.Time, store *research.Store, block stream.Block) *Session {
	logger := s.Logger.With("session_id", id)
	if s.Repo != nil {
		logger = slog.New(NewDBLogHandler(s.Repo, id, slog.LevelInfo, s.Logger.Handler()))
	}

	sess := &Session{
		ID:        id,
		Title:     title,
		CreatedAt: createdAt,
		Store:     store,
		Blocks:    stream.NewBlockState(block),
		MessageID: &stream.MessageIDHolder{},
		Logger:    logger,
	}
	sess.Consumer = stream.NewConsumer(store, sess.Blocks, sess.MessageID)
	sess.Consumer.Logger = logger

	store.OnStateUpdate = func(state research.ResearchState) {
		logger.Debug("Research state updated",
			"activity", len(state.Activity),
			"sources", len(state.Sources),
			"completed_steps", state.CompletedSteps,
			"total_steps", state.TotalExpectedSteps,
		)
	}
	return sess
}

// Session returns a live session, restoring it from the repository if needed
func (s *Service) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	if s.Repo == nil {
		return nil, ErrSessionNotFound
	}

	rec, err := s.Repo.GetSession(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	sess, err = s.restore(ctx, rec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another request may have restored it meanwhile
	if existing, ok := s.sessions[id]; ok {
		return existing, nil
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *Service) restore(ctx context.Context, rec *database.SessionRecord) (*Session, error) {
	state := research.InitialState()
	if len(rec.State) > 0 {
		if err := json.Unmarshal(rec.State, &state); err != nil {
			return nil, fmt.Errorf("failed to decode session state: %w", err)
		}
	}

	block := stream.InitialBlock()
	if len(rec.Block) > 0 {
		if err := json.Unmarshal(rec.Block, &block); err != nil {
			return nil, fmt.Errorf("failed to decode session block: %w", err)
		}
	}

	deltas, err := s.Repo.LoadDeltas(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	sess := s.newSession(rec.ID, rec.Title, rec.CreatedAt, research.NewStoreFrom(state), block)
	sess.MessageID.SetUserMessageID(rec.UserMessageID)
	sess.Consumer.SetCursor(rec.DeltaCursor)
	sess.deltas = deltas
	return sess, nil
}

// ListSessions returns the most recently used sessions
func (s *Service) ListSessions(ctx context.Context) ([]database.SessionRecord, error) {
	if s.Repo != nil {
		return s.Repo.ListSessions(ctx, s.SessionLimit)
	}

	s.mu.RLock()
	out := make([]database.SessionRecord, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, database.SessionRecord{
			ID:            sess.ID,
			Title:         sess.Title,
			UserMessageID: sess.MessageID.UserMessageID(),
			DeltaCursor:   sess.Consumer.Cursor(),
			CreatedAt:     sess.CreatedAt,
			UpdatedAt:     sess.CreatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > s.SessionLimit {
		out = out[:s.SessionLimit]
	}
	return out, nil
}

// DeltaResult reports what one AppendDeltas call did
type DeltaResult struct {
	Received  int `json:"received"`
	Processed int `json:"processed"`
	Cursor    int `json:"cursor"`
}

// AppendDeltas extends a session's delta sequence and consumes the new part
func (s *Service) AppendDeltas(ctx context.Context, id uuid.UUID, deltas []json.RawMessage) (*DeltaResult, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}

	// appending, consuming and saving stay under one lock so the cursor only
	// moves forward and every saved snapshot matches its cursor
	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := len(sess.deltas)
	if s.Repo != nil && len(deltas) > 0 {
		// deltas the log does not hold are rejected so the client can resend them
		if err := s.Repo.AppendDeltas(ctx, id, start, deltas); err != nil {
			sess.Logger.Error("Failed to persist deltas", "start", start, "count", len(deltas), "error", err)
			return nil, fmt.Errorf("failed to persist deltas: %w", err)
		}
	}
	sess.deltas = append(sess.deltas, deltas...)
	processed := sess.Consumer.Consume(sess.deltas)

	s.persist(ctx, sess)

	return &DeltaResult{
		Received:  len(deltas),
		Processed: processed,
		Cursor:    sess.Consumer.Cursor(),
	}, nil
}

// Dispatch applies a research action to a session and returns the new state
func (s *Service) Dispatch(ctx context.Context, id uuid.UUID, a research.Action) (research.ResearchState, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return research.ResearchState{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Store.Dispatch(a) {
		s.persist(ctx, sess)
	}
	return sess.Store.State(), nil
}

func (s *Service) Logs(ctx context.Context, id uuid.UUID) ([]database.LogRecord, error) {
	if _, err := s.Session(ctx, id); err != nil {
		return nil, err
	}
	if s.Repo == nil {
		return nil, nil
	}
	return s.Repo.GetSessionLogs(ctx, id)
}

// persist saves the session snapshot. The caller holds sess.mu.
func (s *Service) persist(ctx context.Context, sess *Session) {
	if s.Repo == nil {
		return
	}

	view := sess.view()
	stateJSON, err := json.Marshal(view.State)
	if err != nil {
		sess.Logger.Error("Failed to marshal state", "error", err)
		return
	}
	blockJSON, err := json.Marshal(view.Block)
	if err != nil {
		sess.Logger.Error("Failed to marshal block", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.Repo.SaveSessionState(ctx, sess.ID, stateJSON, blockJSON, view.UserMessageID, view.DeltaCursor); err != nil {
		sess.Logger.Error("Failed to save state to DB", "error", err)
	}
}

// PanelView describes one mounted panel
type PanelView struct {
	ID      string `json:"id"`
	Visible bool   `json:"visible"`
	Render  bool   `json:"render"`
}

func (s *Service) MountPanel() PanelView {
	inst := s.Panels.Mount()

	s.mu.Lock()
	s.mounted[inst.ID()] = inst
	s.mu.Unlock()

	return PanelView{ID: inst.ID(), Visible: inst.Visible()}
}

func (s *Service) panel(id string) (*visibility.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.mounted[id]
	if !ok {
		return nil, ErrPanelNotFound
	}
	return inst, nil
}

// EvaluatePanel re-runs the visibility rule for a panel. When sessionID is set
// Render also requires the session to have research content.
func (s *Service) EvaluatePanel(ctx context.Context, id string, sessionID *uuid.UUID) (PanelView, error) {
	inst, err := s.panel(id)
	if err != nil {
		return PanelView{}, err
	}

	view := PanelView{ID: id, Visible: inst.Evaluate()}
	view.Render = view.Visible
	if sessionID != nil {
		sess, err := s.Session(ctx, *sessionID)
		if err != nil {
			return PanelView{}, err
		}
		view.Render = view.Visible && sess.Store.State().HasContent()
	}
	return view, nil
}

func (s *Service) ClaimPanel(id string) (PanelView, error) {
	inst, err := s.panel(id)
	if err != nil {
		return PanelView{}, err
	}
	inst.MakeVisible()
	return PanelView{ID: id, Visible: true, Render: true}, nil
}

func (s *Service) UnmountPanel(id string) error {
	s.mu.Lock()
	inst, ok := s.mounted[id]
	delete(s.mounted, id)
	s.mu.Unlock()

	if !ok {
		return ErrPanelNotFound
	}
	inst.Unmount()
	return nil
}
