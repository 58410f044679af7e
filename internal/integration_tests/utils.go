package integrationtests

import (
	"context"
	"sync"
	"testing"
	"time"

	"assistant-proxy/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func setupRedisContainer(t *testing.T, ctx context.Context) string {
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")

	t.Cleanup(func() {
		err := redisContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate Redis container")
	})

	endpoint, err := redisContainer.Endpoint(ctx, "redis")
	require.NoError(t, err, "Failed to get Redis endpoint")

	return endpoint + "/0"
}

// checkWindow runs one full window against backend: limit admitted requests,
// a rejection, then a fresh window once the reset time has passed.
func checkWindow(t *testing.T, backend ratelimit.Backend, identifier string) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	window, limit := time.Minute, 5

	for i := 0; i < limit; i++ {
		res, err := backend.Take(ctx, identifier, now, window, limit)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, limit-i-1, res.Remaining)
		assert.True(t, now.Add(window).Equal(res.Reset), "reset %v", res.Reset)
	}

	res, err := backend.Take(ctx, identifier, now.Add(30*time.Second), window, limit)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, now.Add(window).Equal(res.Reset))

	later := now.Add(window)
	res, err = backend.Take(ctx, identifier, later, window, limit)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, limit-1, res.Remaining)
	assert.True(t, later.Add(window).Equal(res.Reset))
}

// checkConcurrent fires requests at once for one identifier and checks that
// exactly limit of them are admitted.
func checkConcurrent(t *testing.T, backend ratelimit.Backend, identifier string, requests, limit int) {
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := backend.Take(context.Background(), identifier, now, time.Minute, limit)
			assert.NoError(t, err)
			if err == nil && res.Success {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, min(requests, limit), admitted)
}
