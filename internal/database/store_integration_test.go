package database_test

import (
	"context"
	"testing"
	"time"

	"summit-server/internal/database"
	"summit-server/internal/interfaces"
	"summit-server/internal/testutil"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// PgStoreSuite поднимает PostgreSQL в контейнере и прогоняет общий контракт хранилища.
type PgStoreSuite struct {
	suite.Suite
	ctx         context.Context
	logger      *zap.Logger
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	migrator    *database.Migrator
}

func (s *PgStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.logger, err = zap.NewDevelopment()
	s.Require().NoError(err)

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute)),
	)
	s.Require().NoError(err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = database.Connect(s.ctx, database.PoolConfig{DSN: dsn, MaxConns: 5})
	s.Require().NoError(err, "Failed to connect to test postgres")

	s.migrator = database.NewMigrator(s.pool, s.logger)
	s.Require().NoError(s.migrator.Up(s.ctx))
}

func (s *PgStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate postgres container", zap.Error(err))
		}
	}
}

func (s *PgStoreSuite) TestMigrationsApplied() {
	version, dirty, err := s.migrator.Version(s.ctx)
	s.Require().NoError(err)
	s.False(dirty)
	s.Equal(uint(1), version)

	// повторный Up ничего не меняет
	s.NoError(s.migrator.Up(s.ctx))
}

func (s *PgStoreSuite) TestStoreContract() {
	testutil.StoreContract(s.T(), func(t *testing.T) interfaces.GameStore {
		store := database.NewPgStore(s.pool, s.logger)
		err := store.RunInTx(s.ctx, func(tx interfaces.GameStoreTx) error {
			if err := tx.ResetAll(s.ctx); err != nil {
				return err
			}
			return tx.ReplaceMapEvents(s.ctx, nil)
		})
		require.NoError(t, err, "Failed to clean tables")
		return store
	})
}

func (s *PgStoreSuite) TestPing() {
	store := database.NewPgStore(s.pool, s.logger)
	s.NoError(store.Ping(s.ctx))
}

func TestPgStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(PgStoreSuite))
}
