package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/quadi/qsa-engrave/models"
)

// sessionTTL is how long an operator session stays valid.
const sessionTTL = 12 * time.Hour

// UserStore owns operator accounts, sessions, and the audit log.
type UserStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewUserStore(db *sql.DB, log *logrus.Logger) *UserStore {
	return &UserStore{db: db, log: log.WithField("store", "users")}
}

// EnsureAdmin seeds the admin account on first start. No-op when the user
// already exists.
func (s *UserStore) EnsureAdmin(ctx context.Context, password string) error {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = 'admin'`).Scan(&n); err != nil {
		return models.WrapFault(models.CodeTransactionFailed, "checking admin user", err)
	}
	if n > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.WrapFault(models.CodeInsertFailed, "hashing admin password", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, display_name, role, created_at)
		VALUES ('admin', ?, 'Administrator', 'admin', ?)`, string(hash), now())
	if err != nil {
		return models.WrapFault(models.CodeInsertFailed, "seeding admin user", err)
	}
	s.log.Info("seeded admin account")
	return nil
}

// CreateUser inserts an operator account with a bcrypt-hashed password.
func (s *UserStore) CreateUser(ctx context.Context, username, password, displayName, role string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, models.WrapFault(models.CodeInsertFailed, "hashing password", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, display_name, role, created_at)
		VALUES (?, ?, ?, ?, ?)`, username, string(hash), displayName, role, now())
	if err != nil {
		return 0, models.WrapFault(models.CodeInsertFailed, "creating user", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Login verifies credentials and opens a session, returning its token.
func (s *UserStore) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, display_name, role
		FROM users WHERE username = ?`, username)
	var u models.User
	var hash string
	err := row.Scan(&u.ID, &u.Username, &hash, &u.DisplayName, &u.Role)
	if err == sql.ErrNoRows {
		return "", nil, models.NewFault(models.CodeNotLoggedIn, "invalid username or password")
	}
	if err != nil {
		return "", nil, models.WrapFault(models.CodeTransactionFailed, "loading user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", nil, models.NewFault(models.CodeNotLoggedIn, "invalid username or password")
	}

	token := uuid.NewString()
	expires := time.Now().UTC().Add(sessionTTL).Format(timeFormat)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)`, token, u.ID, now(), expires); err != nil {
		return "", nil, models.WrapFault(models.CodeInsertFailed, "opening session", err)
	}
	return token, &u, nil
}

// Logout deletes a session. Unknown tokens are a no-op.
func (s *UserStore) Logout(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return models.WrapFault(models.CodeDeleteFailed, "closing session", err)
	}
	return nil
}

// SessionUser resolves a session token to its user, rejecting expired
// sessions.
func (s *UserStore) SessionUser(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.NewFault(models.CodeNotLoggedIn, "no session")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.role, s.expires_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token = ?`, token)
	var u models.User
	var expires string
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &expires)
	if err == sql.ErrNoRows {
		return nil, models.NewFault(models.CodeNotLoggedIn, "no session")
	}
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading session", err)
	}
	if parseTime(expires).Before(time.Now().UTC()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		return nil, models.NewFault(models.CodeNotLoggedIn, "session expired")
	}
	return &u, nil
}

// Audit appends one audit trail entry. Failures are logged, not surfaced;
// auditing never blocks the operation it describes.
func (s *UserStore) Audit(ctx context.Context, username, action, module, recordID, summary string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (username, action, module, record_id, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, username, action, module, recordID, summary, now())
	if err != nil {
		s.log.WithError(err).Warn("audit insert failed")
	}
}
