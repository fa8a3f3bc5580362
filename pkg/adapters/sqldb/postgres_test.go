package sqldb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/journey/pkg/ports"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// postgresDSN starts one Postgres container for the package, or skips the
// test when Docker is not available.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		c, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections").WithOccurrence(2),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "journey",
				"POSTGRES_PASSWORD": "journey",
				"POSTGRES_DB":       "journey_test",
			}),
		)
		if err != nil {
			pgErr = err
			return
		}

		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background())
			pgErr = err
			return
		}
		pgDSN = fmt.Sprintf("postgres://journey:journey@%s/journey_test?sslmode=disable", endpoint)
	})

	if pgErr != nil {
		t.Skipf("Postgres container unavailable: %v", pgErr)
	}
	return pgDSN
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := postgresDSN(t)

	store, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ports.RunDurableStoreContract(t, store)
}
