package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrEmailTaken = errors.New("email already registered")

// UserStore keeps accounts, refresh sessions and revoked access tokens.
// Timestamps are stored as unix seconds so both dialects compare them the same way.
type UserStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewUserStore(db *sql.DB, dialect Dialect) *UserStore {
	return &UserStore{db: db, dialect: dialect, now: time.Now}
}

// bind rewrites $n markers for the active dialect.
func (s *UserStore) bind(query string) string {
	if s.dialect != DialectSQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *UserStore) CreateUser(ctx context.Context, user User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO users (id, display_name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`), user.ID, user.DisplayName, strings.ToLower(user.Email), user.PasswordHash, user.Role, user.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *UserStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `id = $1`, userID)
}

func (s *UserStore) getUser(ctx context.Context, where string, arg string) (User, error) {
	var (
		user    User
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users WHERE `+where), arg).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	user.CreatedAt = time.Unix(created, 0).UTC()
	return user, nil
}

func (s *UserStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at, revoked_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=excluded.user_id, expires_at=excluded.expires_at, revoked_at=NULL
	`), tokenHash, userID, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *UserStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`UPDATE refresh_sessions SET revoked_at=$1 WHERE token_hash=$2`), s.now().Unix(), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *UserStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT user_id FROM refresh_sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
	`), tokenHash, s.now().Unix()).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return s.GetUserByID(ctx, userID)
}

func (s *UserStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`), jti, exp.Unix())
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *UserStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(1) FROM revoked_access_tokens WHERE jti=$1`), jti).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}

// PurgeExpired drops refresh sessions and revocations that can no longer matter.
func (s *UserStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now().Unix()
	var total int64
	for _, query := range []string{
		`DELETE FROM refresh_sessions WHERE expires_at <= $1`,
		`DELETE FROM revoked_access_tokens WHERE expires_at <= $1`,
	} {
		result, err := s.db.ExecContext(ctx, s.bind(query), now)
		if err != nil {
			return total, fmt.Errorf("purge expired: %w", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *UserStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
