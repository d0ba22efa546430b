package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/storage/storagetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testTimeout = 10 * time.Second

// TestMain starts one MongoDB container for the package when
// GO_TEST_INTEGRATION is set; each test then works in its own database.
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
	}
	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}
	_ = os.Setenv("DATABASE_URL", fmt.Sprintf("mongodb://%s:%s", host, port.Port()))

	code := m.Run()

	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

func mustNewMongo(t *testing.T) *Mongo {
	t.Helper()
	base := os.Getenv("DATABASE_URL")
	if base == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	m, err := New(ctx, base+"/accounts_test_"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = m.users.Database().Drop(ctx)
		_ = m.Close(ctx)
	})
	return m
}

func TestMongoConformance(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}
	storagetest.Run(t, func(t *testing.T) goAccounts.DatabaseInterface {
		return mustNewMongo(t)
	})
}

func TestUsersWithoutEmailDoNotCollide(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := m.CreateUser(ctx, goAccounts.CreateUserInput{Username: name})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := m.CreateUser(ctx, goAccounts.CreateUserInput{Email: fmt.Sprintf("anon%d@example.com", i)})
		require.NoError(t, err)
	}
}

func TestDatabaseFromURI(t *testing.T) {
	require.Equal(t, "accounts", databaseFromURI("mongodb://localhost:27017"))
	require.Equal(t, "prod", databaseFromURI("mongodb://localhost:27017/prod"))
}
