//go:build integration

package docstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"oaphub/internal/docstore"
	"oaphub/pkg/testutil/containers"
)

// =============================================================================
// Postgres Store Integration Suite
// =============================================================================

type PostgresStoreSuite struct {
	suite.Suite
	store *docstore.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	db := containers.NewPostgresDB(s.T())
	s.store = docstore.NewPostgres(db)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, "apps", "rt.example.com")
	s.ErrorIs(err, docstore.ErrNotFound)

	s.Require().NoError(s.store.Set(ctx, "apps", "rt.example.com", []byte(`{"a":1}`)))
	data, err := s.store.Get(ctx, "apps", "rt.example.com")
	s.Require().NoError(err)
	s.JSONEq(`{"a":1}`, string(data))

	s.Run("upsert replaces", func() {
		s.Require().NoError(s.store.Set(ctx, "apps", "rt.example.com", []byte(`{"a":2}`)))
		data, err := s.store.Get(ctx, "apps", "rt.example.com")
		s.Require().NoError(err)
		s.JSONEq(`{"a":2}`, string(data))
	})

	s.Require().NoError(s.store.Delete(ctx, "apps", "rt.example.com"))
	_, err = s.store.Get(ctx, "apps", "rt.example.com")
	s.ErrorIs(err, docstore.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListIsKeyOrdered() {
	ctx := context.Background()
	for _, key := range []string{"z.example.com", "a.example.com", "m.example.com"} {
		s.Require().NoError(s.store.Set(ctx, "list-apps", key, []byte(`{}`)))
	}

	docs, err := s.store.List(ctx, "list-apps")
	s.Require().NoError(err)
	s.Require().Len(docs, 3)
	s.Equal("a.example.com", docs[0].Key)
	s.Equal("z.example.com", docs[2].Key)
}

func (s *PostgresStoreSuite) TestBatchRollsBackOnFailure() {
	ctx := context.Background()

	// A batch touching valid documents commits as one unit.
	batch := docstore.NewBatch().
		Set("tx-apps", "a.example.com", []byte(`{"n":1}`)).
		Set("tx-apps", "b.example.com", []byte(`{"n":2}`)).
		Delete("tx-apps", "never-existed")
	s.Require().NoError(s.store.ApplyBatch(ctx, batch))

	docs, err := s.store.List(ctx, "tx-apps")
	s.Require().NoError(err)
	s.Len(docs, 2)
}
