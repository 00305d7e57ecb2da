package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dashbite/apigw/internal/model"
)

// Store persists owners, API keys, webhooks, delivery attempts, audit logs
// and inbound orders. SQLite is the default backend; PostgreSQL and MySQL
// are supported for shared deployments.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	now     func() time.Time
}

// NewStore opens the SQLite store under dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "apigw.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open("sqlite", dsn)
}

// Open connects to the named backend ("sqlite", "postgres" or "mysql") and
// runs migrations. MySQL DSNs must set parseTime=true.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection without running migrations.
// It exists for tests that drive the store through a mock driver.
func NewWithDB(db *sqlx.DB) *Store {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		d = dialects["sqlite"]
	}
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured backend name.
func (s *Store) Driver() string {
	return s.dialect.name
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func affectedOne(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Owner CRUD
// ---------------------------------------------------------------------------

// CreateOwner inserts a new owner account. ID, CreatedAt and UpdatedAt are
// populated on owner.
func (s *Store) CreateOwner(ctx context.Context, owner *model.Owner) error {
	now := s.now()
	owner.ID = newID()
	owner.CreatedAt = now
	owner.UpdatedAt = now

	const q = `INSERT INTO owners
		(id, email, password_hash, name, is_active, is_super_admin, created_at, updated_at)
		VALUES
		(:id, :email, :password_hash, :name, :is_active, :is_super_admin, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, owner); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("owner %q: %w", owner.Email, ErrConflict)
		}
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

// GetOwner returns an owner by ID.
func (s *Store) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	var owner model.Owner
	if err := s.db.GetContext(ctx, &owner, s.q("SELECT * FROM owners WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return &owner, nil
}

// GetOwnerByEmail returns an owner by email address.
func (s *Store) GetOwnerByEmail(ctx context.Context, email string) (*model.Owner, error) {
	var owner model.Owner
	if err := s.db.GetContext(ctx, &owner, s.q("SELECT * FROM owners WHERE email = ?"), email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get owner by email: %w", err)
	}
	return &owner, nil
}

// ListOwners returns all owner accounts.
func (s *Store) ListOwners(ctx context.Context) ([]model.Owner, error) {
	owners := []model.Owner{}
	if err := s.db.SelectContext(ctx, &owners, "SELECT * FROM owners ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

// HasAnyOwner reports whether at least one owner account exists.
func (s *Store) HasAnyOwner(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM owners"); err != nil {
		return false, fmt.Errorf("count owners: %w", err)
	}
	return count > 0, nil
}

// UpdateOwnerLastLogin sets the last_login_at timestamp for an owner.
func (s *Store) UpdateOwnerLastLogin(ctx context.Context, id string) error {
	now := s.now()
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE owners SET last_login_at = ?, updated_at = ? WHERE id = ?"), now, now, id)
	if err != nil {
		return fmt.Errorf("update owner last login: %w", err)
	}
	return affectedOne(result, "update owner last login")
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key. SecretHash must already be set. ID,
// LastResetAt, CreatedAt and UpdatedAt are populated on key.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := s.now()
	key.ID = newID()
	key.LastResetAt = now
	key.CreatedAt = now
	key.UpdatedAt = now
	key.ExpiresAt = utcPtr(key.ExpiresAt)

	const q = `INSERT INTO api_keys
		(id, owner_id, name, public_key, secret_hash, tier, is_sandbox, is_active,
		 rate_limit, permissions, daily_requests, last_reset_at, expires_at, created_at, updated_at)
		VALUES
		(:id, :owner_id, :name, :public_key, :secret_hash, :tier, :is_sandbox, :is_active,
		 :rate_limit, :permissions, :daily_requests, :last_reset_at, :expires_at, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key public identifier: %w", ErrConflict)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.q("SELECT * FROM api_keys WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyByPublicKey looks up an API key by its public identifier.
func (s *Store) GetAPIKeyByPublicKey(ctx context.Context, publicKey string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.q("SELECT * FROM api_keys WHERE public_key = ?"), publicKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by public key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns API keys newest first. An empty ownerID lists every key.
func (s *Store) ListAPIKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	keys := []model.APIKey{}
	var err error
	if ownerID == "" {
		err = s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC, id DESC")
	} else {
		err = s.db.SelectContext(ctx, &keys,
			s.q("SELECT * FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC, id DESC"), ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ReplaceAPIKeyCredentials swaps the public identifier and secret hash in a
// single statement so the old pair stops authenticating immediately.
func (s *Store) ReplaceAPIKeyCredentials(ctx context.Context, id, publicKey, secretHash string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE api_keys SET public_key = ?, secret_hash = ?, updated_at = ? WHERE id = ?"),
		publicKey, secretHash, s.now(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key public identifier: %w", ErrConflict)
		}
		return fmt.Errorf("replace api key credentials: %w", err)
	}
	return affectedOne(result, "replace api key credentials")
}

// SetAPIKeyActive flips the active flag. Setting the current value again is
// not an error.
func (s *Store) SetAPIKeyActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ?"), active, s.now(), id)
	if err != nil {
		return fmt.Errorf("set api key active: %w", err)
	}
	return affectedOne(result, "set api key active")
}

// UpdateAPIKeyTier changes the tier along with its rate limit and permissions.
func (s *Store) UpdateAPIKeyTier(ctx context.Context, id string, tier model.Tier, rateLimit int, perms model.Scope) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE api_keys SET tier = ?, rate_limit = ?, permissions = ?, updated_at = ? WHERE id = ?"),
		tier, rateLimit, perms, s.now(), id)
	if err != nil {
		return fmt.Errorf("update api key tier: %w", err)
	}
	return affectedOne(result, "update api key tier")
}

// IncrementAPIKeyUsage atomically bumps the daily request counter and stamps
// last_used_at.
func (s *Store) IncrementAPIKeyUsage(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE api_keys SET daily_requests = daily_requests + 1, last_used_at = ? WHERE id = ?"),
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("increment api key usage: %w", err)
	}
	return affectedOne(result, "increment api key usage")
}

// ResetAPIKeyUsage zeroes the daily counter and starts a new window at `at`,
// but only if the current window started at or before cutoff. It reports
// whether this call performed the reset, so concurrent callers reset at most
// once per window.
func (s *Store) ResetAPIKeyUsage(ctx context.Context, id string, at, cutoff time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE api_keys SET daily_requests = 0, last_reset_at = ? WHERE id = ? AND last_reset_at <= ?"),
		at.UTC(), id, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("reset api key usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset api key usage rows affected: %w", err)
	}
	return n > 0, nil
}
