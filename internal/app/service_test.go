package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"schemedesk/api/internal/auth"
	"schemedesk/api/internal/changefeed"
	"schemedesk/api/internal/config"
	"schemedesk/api/internal/insight"
	"schemedesk/api/internal/record"
	"schemedesk/api/internal/recordstore"
	"schemedesk/api/internal/reports"
	"schemedesk/api/internal/store"
	"schemedesk/api/internal/viewcache"
)

type fakeAnalyst struct {
	analyzeOneFn func(context.Context, record.Record) (insight.Analysis, error)
	reportFn     func(context.Context, []record.Record) (string, error)
}

func (f *fakeAnalyst) AnalyzeOne(ctx context.Context, r record.Record) (insight.Analysis, error) {
	if f.analyzeOneFn != nil {
		return f.analyzeOneFn(ctx, r)
	}
	return insight.Analysis{Summary: "on track", RiskLevel: "Low", SuggestedStatus: "Completed"}, nil
}

func (f *fakeAnalyst) AnalyzeCollection(ctx context.Context, records []record.Record) (string, error) {
	if f.reportFn != nil {
		return f.reportFn(ctx, records)
	}
	return "portfolio looks healthy", nil
}

type fakeArchive struct {
	saved   []string
	saveErr error
}

func (f *fakeArchive) Save(_ context.Context, text string) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, text)
	return "reports/20250101T000000.000000000Z.md", nil
}

func (f *fakeArchive) List(context.Context, int) ([]reports.Entry, error) {
	entries := make([]reports.Entry, 0, len(f.saved))
	for range f.saved {
		entries = append(entries, reports.Entry{Key: "reports/20250101T000000.000000000Z.md"})
	}
	return entries, nil
}

func (f *fakeArchive) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.example/" + key, nil
}

type testEnv struct {
	svc   *Service
	cache *viewcache.Cache
	users *store.UserStore
	table *store.Table
}

type envOption func(*Deps)

func withAnalyst(a analyst) envOption {
	return func(d *Deps) { d.Analyst = a }
}

func withArchive(a reportArchive) envOption {
	return func(d *Deps) { d.Reports = a }
}

func withSchema(schema record.Schema) envOption {
	return func(d *Deps) { d.Schema = schema }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(ctx, db, store.DialectSQLite, "../../db/migrations/sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	deps := Deps{Schema: record.CurrentSchema}
	for _, opt := range opts {
		opt(&deps)
	}

	table := store.NewTable(db, store.DialectSQLite, deps.Schema)
	adapter := recordstore.New(table, changefeed.NewHub())
	cache := viewcache.New(adapter, record.NewNormalizer(deps.Schema), nil)
	users := store.NewUserStore(db, store.DialectSQLite)

	deps.Accounts = users
	deps.Sessions = users
	deps.Records = adapter
	deps.Cache = cache
	deps.Checks = []Check{{Name: "database", Ping: table.Ping}}

	svc := New(config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, deps)
	return &testEnv{svc: svc, cache: cache, users: users, table: table}
}

func (e *testEnv) signUp(t *testing.T, email string) Session {
	t.Helper()
	session, err := e.svc.SignUp(context.Background(), email, "correct-horse", "Mona")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	return session
}

func (e *testEnv) seed(t *testing.T, session Session, r record.Record) record.Record {
	t.Helper()
	if err := e.svc.SaveRecord(context.Background(), session, r, ""); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	for _, item := range e.cache.Snapshot() {
		if item.Title == r.Title {
			return item
		}
	}
	t.Fatalf("seeded record %q not in collection", r.Title)
	return record.Record{}
}

func TestSaveRecordStampsOwnerAndRefetches(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "mona@example.com")

	created := env.seed(t, session, record.Record{
		Title:     "Q4 Audit",
		Status:    "approved",
		CreatedBy: "someone-else",
		TotalCost: 1200,
	})

	if !created.Persisted() {
		t.Fatalf("expected store id, got %q", created.ID)
	}
	if created.CreatedBy != session.UserID {
		t.Fatalf("expected owner %q, got %q", session.UserID, created.CreatedBy)
	}
	if created.Status != record.StatusApproved {
		t.Fatalf("expected Approved, got %q", created.Status)
	}

	created.Title = "Q4 Audit (revised)"
	if err := env.svc.SaveRecord(context.Background(), session, created, created.ID); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, err := env.svc.GetRecord(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated.Title != "Q4 Audit (revised)" {
		t.Fatalf("expected revised title, got %q", updated.Title)
	}
	if len(env.cache.Snapshot()) != 1 {
		t.Fatalf("expected one record, got %d", len(env.cache.Snapshot()))
	}
}

func TestSaveRecordLegacyRequiresJobNumber(t *testing.T) {
	env := newTestEnv(t, withSchema(record.LegacySchema))
	session := env.signUp(t, "mona@example.com")

	err := env.svc.SaveRecord(context.Background(), session, record.Record{Title: "no job"}, "")
	if !recordstore.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	created := env.seed(t, session, record.Record{JobNo: "J/2024/1", Title: "Feeder"})
	if created.ID != "J/2024/1" {
		t.Fatalf("expected job number as id, got %q", created.ID)
	}
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "mona@example.com")
	created := env.seed(t, session, record.Record{Title: "Q4 Audit"})

	if err := env.svc.UpdateStatus(context.Background(), session, created.ID, record.StatusCompleted); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := env.svc.GetRecord(created.ID)
	if got.Status != record.StatusCompleted {
		t.Fatalf("expected Completed, got %q", got.Status)
	}

	err := env.svc.UpdateStatus(context.Background(), session, created.ID, "Paused")
	status, code, _, _ := mapError(err)
	if status != http.StatusUnprocessableEntity || code != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %s", status, code)
	}
}

func TestUpdateStatusAcceptsNormalizerSpellings(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "mona@example.com")
	created := env.seed(t, session, record.Record{Title: "Q4 Audit"})

	for input, want := range map[record.Status]record.Status{
		"approved":         record.StatusApproved,
		"Pending Approval": record.StatusPending,
		" IN PROGRESS ":    record.StatusInProgress,
	} {
		if err := env.svc.UpdateStatus(context.Background(), session, created.ID, input); err != nil {
			t.Fatalf("update status %q: %v", input, err)
		}
		got, _ := env.svc.GetRecord(created.ID)
		if got.Status != want {
			t.Fatalf("status %q: expected %q, got %q", input, want, got.Status)
		}
	}
}

func TestStatusChangeKeepsOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signUp(t, "mona@example.com")
	other := env.signUp(t, "omar@example.com")
	created := env.seed(t, owner, record.Record{Title: "Q4 Audit"})

	if err := env.svc.UpdateStatus(context.Background(), other, created.ID, record.StatusApproved); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := env.svc.GetRecord(created.ID)
	if got.Status != record.StatusApproved {
		t.Fatalf("expected Approved, got %q", got.Status)
	}
	if got.CreatedBy != owner.UserID {
		t.Fatalf("expected owner %q to be kept, got %q", owner.UserID, got.CreatedBy)
	}
}

func TestLegacyEditWithoutJobNumberKeepsIdentity(t *testing.T) {
	env := newTestEnv(t, withSchema(record.LegacySchema))
	session := env.signUp(t, "mona@example.com")
	env.seed(t, session, record.Record{JobNo: "J/1", Title: "Feeder"})

	if err := env.svc.SaveRecord(context.Background(), session, record.Record{Title: "Feeder v2"}, "J/1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := env.svc.GetRecord("J/1")
	if err != nil {
		t.Fatalf("record J/1 lost its identity after the edit: %v", err)
	}
	if got.JobNo != "J/1" || got.Title != "Feeder v2" || !got.Persisted() {
		t.Fatalf("unexpected record after edit: %+v", got)
	}
	if n := len(env.cache.Snapshot()); n != 1 {
		t.Fatalf("expected one record, got %d", n)
	}

	err = env.svc.SaveRecord(context.Background(), session, record.Record{Title: "orphan"}, record.NewPlaceholderID())
	if !recordstore.IsValidation(err) {
		t.Fatalf("expected validation error for a placeholder key, got %v", err)
	}
}

func TestDeleteWithEmptyIdentifierKeepsCollection(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "mona@example.com")
	env.seed(t, session, record.Record{Title: "Q4 Audit"})

	err := env.svc.DeleteRecord(context.Background(), session, "")
	if !recordstore.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(env.cache.Snapshot()) != 1 {
		t.Fatalf("collection should be unchanged, got %d records", len(env.cache.Snapshot()))
	}
}

func TestDeleteRecord(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "mona@example.com")
	created := env.seed(t, session, record.Record{Title: "Q4 Audit"})

	if err := env.svc.DeleteRecord(context.Background(), session, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.svc.GetRecord(created.ID); err == nil {
		t.Fatal("expected record to be gone")
	}

	err := env.svc.DeleteRecord(context.Background(), session, created.ID)
	status, _, _, _ := mapError(err)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for second delete, got %d (%v)", status, err)
	}
}

func TestAnalyzeFailureClearsFlagAndKeepsInsight(t *testing.T) {
	var env *testEnv
	var sawFlag bool
	analyst := &fakeAnalyst{
		analyzeOneFn: func(_ context.Context, r record.Record) (insight.Analysis, error) {
			current, _ := env.cache.Get(r.ID)
			sawFlag = current.IsAnalyzing && env.cache.State(r.ID) == viewcache.Provisional
			return insight.Analysis{}, &insight.InferenceError{Op: "analysis", Err: insight.ErrMalformedResponse}
		},
	}
	env = newTestEnv(t, withAnalyst(analyst))
	session := env.signUp(t, "mona@example.com")
	created := env.seed(t, session, record.Record{Title: "Q4 Audit", Insight: "earlier note"})

	_, err := env.svc.AnalyzeRecord(context.Background(), session, created.ID)
	if err == nil {
		t.Fatal("expected analysis error")
	}
	if !sawFlag {
		t.Fatal("record should be flagged while analysis runs")
	}

	got, _ := env.svc.GetRecord(created.ID)
	if got.IsAnalyzing {
		t.Fatal("analyzing flag should be cleared")
	}
	if got.Insight != "earlier note" {
		t.Fatalf("insight should be untouched, got %q", got.Insight)
	}

	status, code, _, _ := mapError(err)
	if status != http.StatusBadGateway || code != "ANALYSIS_FAILED" {
		t.Fatalf("expected 502 ANALYSIS_FAILED, got %d %s", status, code)
	}
}

func TestAnalyzeSuccessPersistsInsight(t *testing.T) {
	env := newTestEnv(t, withAnalyst(&fakeAnalyst{}))
	session := env.signUp(t, "mona@example.com")
	created := env.seed(t, session, record.Record{Title: "Q4 Audit"})

	analysis, err := env.svc.AnalyzeRecord(context.Background(), session, created.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.Summary != "on track" {
		t.Fatalf("unexpected analysis %+v", analysis)
	}

	got, _ := env.svc.GetRecord(created.ID)
	if got.Insight != insight.InsightPrefix+"on track" {
		t.Fatalf("expected persisted insight, got %q", got.Insight)
	}
	if got.AppStatus != "Completed" {
		t.Fatalf("expected suggested status, got %q", got.AppStatus)
	}
	if got.IsAnalyzing || env.cache.State(created.ID) != viewcache.Clean {
		t.Fatal("refetch should leave the record clean")
	}
}

func TestAnalyzeWithoutModel(t *testing.T) {
	env := newTestEnv(t)
	session := env.signUp(t, "mona@example.com")
	created := env.seed(t, session, record.Record{Title: "Q4 Audit"})

	_, err := env.svc.AnalyzeRecord(context.Background(), session, created.ID)
	status, code, _, _ := mapError(err)
	if status != http.StatusServiceUnavailable || code != "AI_UNAVAILABLE" {
		t.Fatalf("expected 503 AI_UNAVAILABLE, got %d %s", status, code)
	}
}

func TestGenerateReportArchives(t *testing.T) {
	archive := &fakeArchive{}
	var sampled int
	analyst := &fakeAnalyst{
		reportFn: func(_ context.Context, records []record.Record) (string, error) {
			sampled = len(records)
			return "two schemes, both on track", nil
		},
	}
	env := newTestEnv(t, withAnalyst(analyst), withArchive(archive))
	session := env.signUp(t, "mona@example.com")
	env.seed(t, session, record.Record{Title: "A"})
	env.seed(t, session, record.Record{Title: "B"})

	report, err := env.svc.GenerateReport(context.Background(), session)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if sampled != 2 {
		t.Fatalf("expected both records sampled, got %d", sampled)
	}
	if report.Key == "" || report.URL == "" {
		t.Fatalf("expected archived report, got %+v", report)
	}
	if len(archive.saved) != 1 || archive.saved[0] != report.Text {
		t.Fatalf("archive did not receive report text: %v", archive.saved)
	}

	archive.saveErr = errors.New("bucket offline")
	report, err = env.svc.GenerateReport(context.Background(), session)
	if err != nil {
		t.Fatalf("archive failure should not fail the report: %v", err)
	}
	if report.Text == "" || report.Key != "" {
		t.Fatalf("expected unarchived report text, got %+v", report)
	}
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.signUp(t, "mona@example.com")

	second, err := env.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token should rotate")
	}
	if _, err := env.svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatal("old refresh token should be revoked")
	}

	session, err := env.svc.SessionFromToken(ctx, second.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if err := env.svc.Logout(ctx, session, second.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.svc.SessionFromToken(ctx, second.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	if _, err := env.svc.Refresh(ctx, second.RefreshToken); err == nil {
		t.Fatal("refresh after logout should fail")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "mona@example.com")

	_, err := env.svc.SignIn(context.Background(), "MONA@example.com", "wrong-password")
	status, code, _, _ := mapError(err)
	if status != http.StatusUnauthorized || code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d %s", status, code)
	}

	if _, err := env.svc.SignIn(context.Background(), "MONA@example.com", "correct-horse"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
}
