// Package storepg keeps goAccess clients, admins, grants and API keys in
// PostgreSQL through pgx. Schema migrations are embedded and applied with
// [Migrate].
package storepg

import (
	"context"
	"errors"
	"fmt"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB defines the database operations used by Store.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements goAccess.ClientRegistry, AdminStore, GrantStore and
// APIKeyStore.
type Store struct {
	db DB
}

var (
	_ goAccess.ClientRegistry = (*Store)(nil)
	_ goAccess.AdminStore     = (*Store)(nil)
	_ goAccess.GrantStore     = (*Store)(nil)
	_ goAccess.APIKeyStore    = (*Store)(nil)
)

// New returns a Store on db.
func New(db DB) *Store {
	return &Store{db: db}
}

// NewPool parses databaseURL, connects and pings.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

const clientColumns = `id, name, secret_hash, redirect_uris, allowed_scopes, allow_anyone, active, created_by, created_at`

func (s *Store) GetClient(ctx context.Context, clientID string) (*goAccess.Client, error) {
	var c goAccess.Client
	err := s.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE id = $1`, clientID,
	).Scan(&c.ID, &c.Name, &c.SecretHash, &c.RedirectURIs, &c.AllowedScopes, &c.AllowAnyone, &c.Active, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goAccess.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", clientID, err)
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, client *goAccess.Client) error {
	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO oauth_clients (`+clientColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		client.ID, client.Name, client.SecretHash, nonNil(client.RedirectURIs), nonNil(client.AllowedScopes),
		client.AllowAnyone, client.Active, client.CreatedBy, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *Store) UpdateClientSecret(ctx context.Context, clientID, secretHash string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE oauth_clients SET secret_hash = $1 WHERE id = $2`, secretHash, clientID)
	if err != nil {
		return fmt.Errorf("update client secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goAccess.ErrClientNotFound
	}
	return nil
}

// SetClientActive enables or disables a client.
func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE oauth_clients SET active = $1 WHERE id = $2`, active, clientID)
	if err != nil {
		return fmt.Errorf("update client active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goAccess.ErrClientNotFound
	}
	return nil
}

const adminColumns = `email, added_by, active, seq, created_at`

func scanAdmin(row pgx.Row) (*goAccess.Admin, error) {
	var a goAccess.Admin
	if err := row.Scan(&a.Email, &a.AddedBy, &a.Active, &a.Seq, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAdmin(ctx context.Context, email string) (*goAccess.Admin, error) {
	a, err := scanAdmin(s.db.QueryRow(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goAccess.ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return a, nil
}

func (s *Store) SystemAdmin(ctx context.Context) (*goAccess.Admin, error) {
	a, err := scanAdmin(s.db.QueryRow(ctx,
		`SELECT `+adminColumns+` FROM admins ORDER BY seq LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goAccess.ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get system admin: %w", err)
	}
	return a, nil
}

func (s *Store) AddAdmin(ctx context.Context, email, addedBy string) (*goAccess.Admin, error) {
	a, err := scanAdmin(s.db.QueryRow(ctx,
		`INSERT INTO admins (email, added_by) VALUES ($1, $2)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+adminColumns, email, addedBy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goAccess.ErrAdminExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert admin: %w", err)
	}
	return a, nil
}

func (s *Store) SetAdminActive(ctx context.Context, email string, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE admins SET active = $1 WHERE email = $2`, active, email)
	if err != nil {
		return fmt.Errorf("update admin active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goAccess.ErrAdminNotFound
	}
	return nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]goAccess.Admin, error) {
	rows, err := s.db.Query(ctx, `SELECT `+adminColumns+` FROM admins ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var admins []goAccess.Admin
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		admins = append(admins, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admins: %w", err)
	}
	return admins, nil
}

func (s *Store) ListGrants(ctx context.Context, email string) ([]permission.Grant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT admin_email, resource_type, resource_value, level, granted_by
		 FROM admin_permissions WHERE admin_email = $1
		 ORDER BY created_at, resource_type, resource_value, level`, email)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []permission.Grant
	for rows.Next() {
		var g permission.Grant
		var typ, level string
		if err := rows.Scan(&g.AdminEmail, &typ, &g.Value, &level, &g.GrantedBy); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		if g.Type, err = permission.ParseResourceType(typ); err != nil {
			return nil, fmt.Errorf("grant for %s: %w", email, err)
		}
		if g.Level, err = permission.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("grant for %s: %w", email, err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

const insertGrant = `INSERT INTO admin_permissions (admin_email, resource_type, resource_value, level, granted_by)
	 VALUES ($1, $2, $3, $4, $5)
	 ON CONFLICT DO NOTHING`

func (s *Store) AddGrant(ctx context.Context, grant permission.Grant) error {
	_, err := s.db.Exec(ctx, insertGrant,
		grant.AdminEmail, string(grant.Type), grant.Value, grant.Level.String(), grant.GrantedBy)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *Store) RemoveGrant(ctx context.Context, email string, typ permission.ResourceType, value string, level permission.Level) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM admin_permissions
		 WHERE admin_email = $1 AND resource_type = $2 AND resource_value = $3 AND level = $4`,
		email, string(typ), value, level.String())
	if err != nil {
		return false, fmt.Errorf("delete grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceGrants swaps an admin's grant set in one transaction.
func (s *Store) ReplaceGrants(ctx context.Context, email string, grants []permission.Grant) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM admin_permissions WHERE admin_email = $1`, email); err != nil {
			return fmt.Errorf("clear grants: %w", err)
		}
		for _, g := range grants {
			if _, err := tx.Exec(ctx, insertGrant,
				email, string(g.Type), g.Value, g.Level.String(), g.GrantedBy); err != nil {
				return fmt.Errorf("insert grant: %w", err)
			}
		}
		return nil
	})
}

const keyColumns = `id, name, key_hash, permissions, rate_limit_rpm, created_by, created_at, last_used_at`

func scanKey(row pgx.Row) (*goAccess.APIKey, error) {
	var k goAccess.APIKey
	var lastUsed *time.Time
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Permissions, &k.RateLimitRPM, &k.CreatedBy, &k.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}
	if lastUsed != nil {
		k.LastUsedAt = *lastUsed
	}
	return &k, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*goAccess.APIKey, error) {
	k, err := scanKey(s.db.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goAccess.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (*goAccess.APIKey, error) {
	k, err := scanKey(s.db.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goAccess.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key %s: %w", id, err)
	}
	return k, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, key *goAccess.APIKey) error {
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, permissions, rate_limit_rpm, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, nonNil(key.Permissions), key.RateLimitRPM, key.CreatedBy, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// UpdateAPIKey replaces name, permissions and rate. The hash is immutable.
func (s *Store) UpdateAPIKey(ctx context.Context, key *goAccess.APIKey) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET name = $1, permissions = $2, rate_limit_rpm = $3 WHERE id = $4`,
		key.Name, nonNil(key.Permissions), key.RateLimitRPM, key.ID)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goAccess.ErrAPIKeyNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goAccess.ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns keys newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]goAccess.APIKey, error) {
	rows, err := s.db.Query(ctx, `SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []goAccess.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

func (s *Store) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goAccess.ErrAPIKeyNotFound
	}
	return nil
}

func (s *Store) LogUsage(ctx context.Context, usage goAccess.APIKeyUsage) error {
	at := usage.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO api_key_usage (key_id, action, endpoint, method, ip, used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.KeyID, usage.Action, usage.Endpoint, usage.Method, usage.IP, at)
	if err != nil {
		return fmt.Errorf("insert api key usage: %w", err)
	}
	return nil
}

const usageColumns = `key_id, action, endpoint, method, ip, used_at`

// ListUsage returns keyID's usage newest first. A limit <= 0 returns every
// record.
func (s *Store) ListUsage(ctx context.Context, keyID string, limit int) ([]goAccess.APIKeyUsage, error) {
	query := `SELECT ` + usageColumns + ` FROM api_key_usage WHERE key_id = $1 ORDER BY used_at DESC, id DESC`
	args := []any{keyID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list api key usage: %w", err)
	}
	defer rows.Close()

	var out []goAccess.APIKeyUsage
	for rows.Next() {
		var u goAccess.APIKeyUsage
		if err := rows.Scan(&u.KeyID, &u.Action, &u.Endpoint, &u.Method, &u.IP, &u.At); err != nil {
			return nil, fmt.Errorf("scan api key usage: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api key usage: %w", err)
	}
	return out, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
