package app

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notesync/api/internal/auth"
	"notesync/api/internal/authpw"
	"notesync/api/internal/blob"
	"notesync/api/internal/config"
	"notesync/api/internal/notes"
	"notesync/api/internal/search"
	"notesync/api/internal/store"
	"notesync/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

// NotePatch carries a partial note update. Nil fields keep the stored value;
// present fields replace it wholesale.
type NotePatch struct {
	Title         *string         `json:"title"`
	Sections      []notes.Section `json:"sections"`
	TopLevelItems []notes.Item    `json:"topLevelItems"`
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	LoadNoteSet(context.Context, string) (notes.NoteSet, error)
	SaveNoteSet(context.Context, string, notes.NoteSet) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore is the refresh-token subset of dataStore; Redis satisfies it
// when configured, Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type publisher interface {
	Publish(userID string, snapshot notes.NoteSet)
}

type noteIndex interface {
	Search(q search.Query) search.Response
	IndexNoteSet(userID string, set notes.NoteSet)
	DeleteNote(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	users    *authpw.Service
	hub      publisher
	search   noteIndex
	blobs    blob.Store
	log      zerolog.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func New(cfg config.Config, dataStore *store.PostgresStore, hub publisher, searchService *search.Service, blobs blob.Store, log zerolog.Logger) *Service {
	return newService(cfg, dataStore, dataStore, hub, searchService, blobs, log)
}

// NewWithSessionStore is New with refresh tokens kept in a separate store
// (Redis) instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, hub publisher, searchService *search.Service, blobs blob.Store, log zerolog.Logger) *Service {
	return newService(cfg, dataStore, sessions, hub, searchService, blobs, log)
}

func newService(cfg config.Config, ds dataStore, sessions sessionStore, hub publisher, idx noteIndex, blobs blob.Store, log zerolog.Logger) *Service {
	var users *authpw.Service
	if us, ok := ds.(authpw.UserStore); ok {
		users = authpw.NewService(us)
	}
	return &Service{
		cfg:       cfg,
		store:     ds,
		sessions:  sessions,
		users:     users,
		hub:       hub,
		search:    idx,
		blobs:     blobs,
		log:       log,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing mutations for one user. Holding it
// across load, save and publish keeps broadcast order equal to persistence
// order.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

// publish pushes the snapshot to connected devices and refreshes the search
// index. Both are best-effort; a mutation never fails after its save.
func (s *Service) publish(userID string, set notes.NoteSet) {
	if s.hub != nil {
		s.hub.Publish(userID, set)
	}
	if s.search != nil {
		s.search.IndexNoteSet(userID, set)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- authentication ---

func (s *Service) Register(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.Register(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.SignIn(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session store may only carry the user id.
	if user.Username == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- notes ---

var errNoteNotFound = domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)

func (s *Service) ListNotes(ctx context.Context, userID string) (notes.NoteSet, error) {
	return s.store.LoadNoteSet(ctx, userID)
}

func (s *Service) GetNote(ctx context.Context, userID, noteID string) (notes.Note, error) {
	set, err := s.store.LoadNoteSet(ctx, userID)
	if err != nil {
		return notes.Note{}, err
	}
	n, ok := set.Find(noteID)
	if !ok {
		return notes.Note{}, errNoteNotFound
	}
	return n, nil
}

func (s *Service) CreateNote(ctx context.Context, userID string, draft notes.Note) (notes.Note, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	set, err := s.store.LoadNoteSet(ctx, userID)
	if err != nil {
		return notes.Note{}, err
	}

	draft.ID = util.NewID("note")
	draft.UpdatedAt = time.Now().UTC()
	notes.Normalize(&draft)
	if err := notes.Validate(draft); err != nil {
		return notes.Note{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	set = append(set, draft)
	if err := s.store.SaveNoteSet(ctx, userID, set); err != nil {
		return notes.Note{}, err
	}

	s.publish(userID, set)
	return draft, nil
}

func (s *Service) UpdateNote(ctx context.Context, userID, noteID string, patch NotePatch) (notes.Note, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	set, err := s.store.LoadNoteSet(ctx, userID)
	if err != nil {
		return notes.Note{}, err
	}

	idx := set.IndexOf(noteID)
	if idx < 0 {
		return notes.Note{}, errNoteNotFound
	}

	n := set[idx]
	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.Sections != nil {
		n.Sections = patch.Sections
	}
	if patch.TopLevelItems != nil {
		n.TopLevelItems = patch.TopLevelItems
	}
	n.ID = noteID
	n.UpdatedAt = time.Now().UTC()
	notes.Normalize(&n)
	if err := notes.Validate(n); err != nil {
		return notes.Note{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	set[idx] = n
	if err := s.store.SaveNoteSet(ctx, userID, set); err != nil {
		return notes.Note{}, err
	}

	s.publish(userID, set)
	return n, nil
}

func (s *Service) DeleteNote(ctx context.Context, userID, noteID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	set, err := s.store.LoadNoteSet(ctx, userID)
	if err != nil {
		return err
	}

	idx := set.IndexOf(noteID)
	if idx < 0 {
		return errNoteNotFound
	}

	set = append(set[:idx], set[idx+1:]...)
	if err := s.store.SaveNoteSet(ctx, userID, set); err != nil {
		return err
	}

	s.publish(userID, set)
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

func (s *Service) SearchNotes(userID, text string, limit, offset int) search.Response {
	return s.search.Search(search.Query{
		UserID: userID,
		Text:   text,
		Limit:  limit,
		Offset: offset,
	})
}

// --- attachments ---

func (s *Service) StoreAttachment(ctx context.Context, userID, name string, r io.Reader, size int64) (blob.Attachment, error) {
	if size > s.cfg.MaxUploadBytes {
		return blob.Attachment{}, domainError(http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Upload exceeds size limit", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	return s.blobs.Store(ctx, userID, name, r, size)
}

// OpenAttachment serves an attachment from ownerID's namespace. Callers may
// only read their own namespace; that check comes before existence.
func (s *Service) OpenAttachment(ctx context.Context, callerID, ownerID, ref string) (io.ReadCloser, error) {
	if ownerID != callerID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.blobs.Open(ctx, callerID, ref)
}
