package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
)

// Store persists gateway configuration records.
type Store interface {
	// LoadActive returns all records with IsActive set, in priority order.
	LoadActive(ctx context.Context) ([]Record, error)
	// SaveHealth mirrors a record's health counters and timestamps.
	SaveHealth(ctx context.Context, rec Record) error
}

// MemoryStore is an in-memory Store for tests and the env-fallback path.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	// SaveHealthErr, when set, is returned by SaveHealth. Test hook.
	SaveHealthErr error
	saved         []Record
}

// NewMemoryStore creates a MemoryStore seeded with the given records.
func NewMemoryStore(records ...Record) *MemoryStore {
	return &MemoryStore{records: records}
}

func (s *MemoryStore) LoadActive(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveHealth(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveHealthErr != nil {
		return s.SaveHealthErr
	}
	s.saved = append(s.saved, rec)
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = rec
		}
	}
	return nil
}

// Saved returns the records written through SaveHealth, for assertions.
func (s *MemoryStore) Saved() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.saved))
	copy(out, s.saved)
	return out
}

// SQLStore persists gateway configs in MySQL.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore connects to MySQL with the given DSN.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open mysql: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an existing connection pool.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Close() error { return s.db.Close() }

// EnsureSchema creates the gateway config table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS payment_gateways (
		id VARCHAR(64) PRIMARY KEY,
		gateway_type VARCHAR(32) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		priority INT NOT NULL DEFAULT 100,
		environment VARCHAR(16) NOT NULL DEFAULT 'test',
		key_id VARCHAR(255) NOT NULL DEFAULT '',
		key_secret VARCHAR(255) NOT NULL DEFAULT '',
		merchant_id VARCHAR(255) NOT NULL DEFAULT '',
		salt_key VARCHAR(255) NOT NULL DEFAULT '',
		salt_index VARCHAR(16) NOT NULL DEFAULT '',
		webhook_secret VARCHAR(255) NOT NULL DEFAULT '',
		consecutive_failures INT NOT NULL DEFAULT 0,
		last_health_check DATETIME NULL,
		last_failure_at DATETIME NULL
	)`)
	if err != nil {
		return fmt.Errorf("registry: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadActive(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
			id, gateway_type, is_active, priority, environment,
			key_id, key_secret, merchant_id, salt_key, salt_index, webhook_secret,
			consecutive_failures
		FROM payment_gateways WHERE is_active = TRUE ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("registry: load active gateways: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var typ, env string
		if err := rows.Scan(
			&rec.ID, &typ, &rec.IsActive, &rec.Priority, &env,
			&rec.Credentials.KeyID, &rec.Credentials.KeySecret,
			&rec.Credentials.MerchantID, &rec.Credentials.SaltKey,
			&rec.Credentials.SaltIndex, &rec.Credentials.WebhookSecret,
			&rec.ConsecutiveFailures,
		); err != nil {
			return nil, fmt.Errorf("registry: scan gateway row: %w", err)
		}
		rec.Type = gateway.Type(typ)
		rec.Environment = gateway.Environment(env)
		rec.Credentials.Environment = rec.Environment
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveHealth(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `UPDATE payment_gateways SET
			consecutive_failures = ?,
			last_health_check = NULLIF(?, '0001-01-01 00:00:00'),
			last_failure_at = NULLIF(?, '0001-01-01 00:00:00')
		WHERE id = ?`,
		rec.ConsecutiveFailures, rec.LastHealthCheck, rec.LastFailureAt, rec.ID)
	if err != nil {
		return fmt.Errorf("registry: save health for %s: %w", rec.ID, err)
	}
	return nil
}

// FallbackFromEnv builds a single default Razorpay record from environment
// variables. Used when no persisted configuration exists; this is the only
// environment-variable dependency in the subsystem.
func FallbackFromEnv() (Record, bool) {
	keyID := os.Getenv("RAZORPAY_KEY_ID")
	keySecret := os.Getenv("RAZORPAY_KEY_SECRET")
	if keyID == "" || keySecret == "" {
		return Record{}, false
	}
	env := gateway.EnvTest
	if os.Getenv("RAZORPAY_ENV") == string(gateway.EnvProduction) {
		env = gateway.EnvProduction
	}
	return Record{
		ID:          "env-razorpay",
		Type:        gateway.TypeRazorpay,
		IsActive:    true,
		Priority:    1,
		Environment: env,
		Credentials: gateway.Credentials{
			KeyID:         keyID,
			KeySecret:     keySecret,
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
			Environment:   env,
		},
	}, true
}
