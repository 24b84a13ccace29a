package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"schemedesk/api/internal/auth"
	"schemedesk/api/internal/authpw"
	"schemedesk/api/internal/config"
	"schemedesk/api/internal/export"
	"schemedesk/api/internal/insight"
	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/rbac"
	"schemedesk/api/internal/record"
	"schemedesk/api/internal/recordstore"
	"schemedesk/api/internal/reports"
	"schemedesk/api/internal/search"
	"schemedesk/api/internal/store"
	"schemedesk/api/internal/util"
	"schemedesk/api/internal/viewcache"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) writeContext(mode record.WriteMode) record.WriteContext {
	return record.WriteContext{UserID: s.UserID, Mode: mode}
}

type accountStore interface {
	authpw.UserStore
}

// SessionStore keeps refresh sessions and revoked access tokens. The SQL
// user store and the Redis store both satisfy it.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type recordWriter interface {
	Insert(context.Context, record.Payload) error
	Update(context.Context, string, record.Payload) error
	Delete(context.Context, string) error
}

type analyst interface {
	AnalyzeOne(context.Context, record.Record) (insight.Analysis, error)
	AnalyzeCollection(context.Context, []record.Record) (string, error)
}

type reportArchive interface {
	Save(context.Context, string) (string, error)
	List(context.Context, int) ([]reports.Entry, error)
	Presign(context.Context, string, time.Duration) (string, error)
}

type exporter interface {
	Export(context.Context, export.Portfolio, export.Format) (*export.Result, error)
}

// Check is one dependency probed by the readiness endpoint.
type Check struct {
	Name string
	// Optional checks report their state without failing readiness.
	Optional bool
	Ping     func(context.Context) error
}

// Deps are the collaborators a Service drives. Analyst, Reports, Search and
// Exporter may be nil; the matching endpoints then answer 503 or fall back.
type Deps struct {
	Accounts accountStore
	Sessions SessionStore
	Records  recordWriter
	Cache    *viewcache.Cache
	Schema   record.Schema
	Analyst  analyst
	Reports  reportArchive
	Search   *search.Service
	Exporter exporter
	Checks   []Check
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	accounts *authpw.Service
	users    accountStore
	sessions SessionStore
	records  recordWriter
	cache    *viewcache.Cache
	schema   record.Schema
	analyst  analyst
	reports  reportArchive
	search   *search.Service
	exporter exporter
	checks   []Check
	logger   *zap.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	logger := logging.OrNop(deps.Logger)
	var exp exporter = export.NewService(logger)
	if deps.Exporter != nil {
		exp = deps.Exporter
	}
	return &Service{
		cfg:      cfg,
		accounts: authpw.NewService(deps.Accounts, rbac.RoleEditor),
		users:    deps.Accounts,
		sessions: deps.Sessions,
		records:  deps.Records,
		cache:    deps.Cache,
		schema:   deps.Schema,
		analyst:  deps.Analyst,
		reports:  deps.Reports,
		search:   deps.Search,
		exporter: exp,
		checks:   deps.Checks,
		logger:   logger,
	}
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("account created", zap.String("user_id", user.ID))
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, errUnauthorized
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errUnauthorized
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewSecret()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ready runs every readiness check. ok is false when a required check fails.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	results := make(map[string]any, len(s.checks))
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			results[check.Name] = map[string]any{"status": "error", "error": err.Error()}
			if !check.Optional {
				ok = false
			}
			continue
		}
		results[check.Name] = map[string]any{"status": "ok"}
	}
	return ok, results
}

func (s *Service) ListRecords(query string, status record.Status) []record.Record {
	return s.cache.Filter(query, status)
}

func (s *Service) GetRecord(id string) (record.Record, error) {
	r, ok := s.cache.Get(id)
	if !ok {
		return record.Record{}, domainError(http.StatusNotFound, "NOT_FOUND", "Record not found", nil)
	}
	return r, nil
}

func (s *Service) Dashboard() viewcache.Stats {
	return s.cache.Stats()
}

// SaveRecord creates input when editingID is empty and updates editingID
// otherwise. The collection is refetched after a successful write.
func (s *Service) SaveRecord(ctx context.Context, session Session, input record.Record, editingID string) error {
	input.Status = record.ParseStatus(string(input.Status))
	input.Priority = record.ParsePriority(string(input.Priority))
	input.Category = record.ParseCategory(string(input.Category))

	if editingID == "" {
		if err := s.schema.Validate(input, record.ModeCreate); err != nil {
			return &recordstore.ValidationError{Op: "insert", Reason: err.Error()}
		}
		payload := s.schema.Denormalize(input, session.writeContext(record.ModeCreate))
		if err := s.records.Insert(ctx, payload); err != nil {
			return err
		}
		s.logger.Info("record created", zap.String("user_id", session.UserID), zap.String("job_no", input.JobNo))
	} else {
		input = s.schema.FillKey(input, editingID)
		if err := s.schema.Validate(input, record.ModeUpdate); err != nil {
			return &recordstore.ValidationError{Op: "update", Reason: err.Error()}
		}
		payload := s.schema.Denormalize(input, session.writeContext(record.ModeUpdate))
		if err := s.records.Update(ctx, editingID, payload); err != nil {
			return err
		}
		s.logger.Info("record updated", zap.String("user_id", session.UserID), zap.String("record_id", editingID))
	}
	s.refetch(ctx)
	return nil
}

// UpdateStatus accepts any spelling the normalizer understands, such as
// "approved" or "Pending Approval".
func (s *Service) UpdateStatus(ctx context.Context, session Session, id string, status record.Status) error {
	status = record.ParseStatus(string(status))
	if !validStatus(status) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown status", map[string]any{"allowed": record.Statuses})
	}
	payload := s.schema.PatchPayload(record.Patch{Status: &status})
	if err := s.records.Update(ctx, id, payload); err != nil {
		return err
	}
	s.logger.Info("record status changed",
		zap.String("user_id", session.UserID),
		zap.String("record_id", id),
		zap.String("status", string(status)))
	s.refetch(ctx)
	return nil
}

func validStatus(status record.Status) bool {
	for _, known := range record.Statuses {
		if status == known {
			return true
		}
	}
	return false
}

// DeleteRecord hides id locally before the store call. Whatever happens, the
// following refetch decides what the collection holds.
func (s *Service) DeleteRecord(ctx context.Context, session Session, id string) error {
	s.cache.RemoveLocal(id)
	err := s.records.Delete(ctx, id)
	s.refetch(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("record deleted", zap.String("user_id", session.UserID), zap.String("record_id", id))
	return nil
}

// AnalyzeRecord runs a structured audit of id and persists the resulting
// insight. The analyzing flag is cleared on failure; on success the refetch
// replaces the record and the flag with it.
func (s *Service) AnalyzeRecord(ctx context.Context, session Session, id string) (insight.Analysis, error) {
	if s.analyst == nil {
		return insight.Analysis{}, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI analysis is not configured", nil)
	}
	r, ok := s.cache.Get(id)
	if !ok {
		return insight.Analysis{}, domainError(http.StatusNotFound, "NOT_FOUND", "Record not found", nil)
	}
	if !r.Persisted() {
		return insight.Analysis{}, &recordstore.ValidationError{Op: "analyze", Reason: "record has no store identifier"}
	}

	s.cache.MarkAnalyzing(id)
	analysis, err := s.analyst.AnalyzeOne(ctx, r)
	if err != nil {
		s.cache.ClearAnalyzing(id)
		return insight.Analysis{}, err
	}

	payload := s.schema.PatchPayload(analysis.Patch())
	if err := s.records.Update(ctx, id, payload); err != nil {
		s.cache.ClearAnalyzing(id)
		return insight.Analysis{}, err
	}
	s.logger.Info("record analyzed", zap.String("user_id", session.UserID), zap.String("record_id", id))
	if !s.refetch(ctx) {
		s.cache.ClearAnalyzing(id)
	}
	return analysis, nil
}

type Report struct {
	Text string `json:"text"`
	Key  string `json:"key,omitempty"`
	URL  string `json:"url,omitempty"`
}

// GenerateReport writes a narrative report over the current collection and
// archives it when an archive is configured. Archive failures do not lose
// the report text.
func (s *Service) GenerateReport(ctx context.Context, session Session) (Report, error) {
	if s.analyst == nil {
		return Report{}, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI analysis is not configured", nil)
	}
	text, err := s.analyst.AnalyzeCollection(ctx, s.cache.Snapshot())
	if err != nil {
		return Report{}, err
	}
	report := Report{Text: text}
	if s.reports == nil {
		return report, nil
	}

	key, err := s.reports.Save(ctx, text)
	if err != nil {
		s.logger.Warn("archive report", zap.String("user_id", session.UserID), zap.Error(err))
		return report, nil
	}
	report.Key = key
	if url, err := s.reports.Presign(ctx, key, 24*time.Hour); err == nil {
		report.URL = url
	} else {
		s.logger.Warn("presign report", zap.String("key", key), zap.Error(err))
	}
	return report, nil
}

func (s *Service) ListReports(ctx context.Context, limit int) ([]reports.Entry, error) {
	if s.reports == nil {
		return []reports.Entry{}, nil
	}
	return s.reports.List(ctx, limit)
}

// ExportReport renders the current collection, its stats and an optional
// narrative into a downloadable file.
func (s *Service) ExportReport(ctx context.Context, session Session, format export.Format, title, narrative string) (*export.Result, error) {
	records := s.cache.Snapshot()
	return s.exporter.Export(ctx, export.Portfolio{
		Title:       strings.TrimSpace(title),
		GeneratedAt: time.Now(),
		GeneratedBy: session.UserName,
		Narrative:   narrative,
		Stats:       viewcache.Summarize(records),
		Records:     records,
	}, format)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.NewService(nil, s.cache, s.logger).Search(q)
	}
	return s.search.Search(q)
}

// refetch refreshes the collection and reports whether it succeeded. A
// failed refetch leaves the previous collection in place.
func (s *Service) refetch(ctx context.Context) bool {
	if err := s.cache.Refresh(ctx); err != nil {
		s.logger.Warn("refetch after write failed", zap.Error(err))
		return false
	}
	return true
}
