//go:build integration

// Run with:
//
//	go test -v -tags=integration ./internal/push/errhandler/...
package errhandler

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(context.Background(), testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "espush_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "espush"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func TestAuditStoreRecord(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()

	store, err := NewAuditStore(ctx, db)
	require.NoError(t, err)
	// Schema creation is idempotent.
	_, err = NewAuditStore(ctx, db)
	require.NoError(t, err)

	topic := "audit-test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	err = store.Record(ctx, Rejection{
		Stream: "logs",
		Record: extract.Record{Key: []byte{0xff}, Value: []byte(`{}`), Topic: topic, Partition: 2, Offset: 11},
		Kind:   apperrors.KindDecode,
		Err:    apperrors.New(apperrors.ErrDecodeBinaryKey, apperrors.KindDecode, "bad tag"),
	})
	require.NoError(t, err)

	var kind, fault string
	var key []byte
	err = db.DB.QueryRowContext(ctx,
		`SELECT fault_kind, fault, record_key FROM rejected_records WHERE topic = $1 AND partition = 2 AND record_offset = 11`,
		topic,
	).Scan(&kind, &fault, &key)
	require.NoError(t, err)
	assert.Equal(t, "decode", kind)
	assert.Equal(t, "invalid binary-encoded key: bad tag", fault)
	assert.Equal(t, []byte{0xff}, key)

	_, err = db.DB.ExecContext(ctx, `DELETE FROM rejected_records WHERE topic = $1`, topic)
	require.NoError(t, err)
}
