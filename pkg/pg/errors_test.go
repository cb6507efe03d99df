package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/imobcloud/billing/pkg/pg"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	serial := &pgconn.PgError{Code: "40001"}

	assert.True(t, pg.IsDuplicateKeyError(dup))
	assert.False(t, pg.IsDuplicateKeyError(serial))
	assert.False(t, pg.IsDuplicateKeyError(nil))

	assert.True(t, pg.IsSerializationError(serial))
	assert.False(t, pg.IsSerializationError(errors.New("other")))

	assert.True(t, pg.IsNotFoundError(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	assert.NoError(t, pg.Healthcheck(fakePinger{})(context.Background()))

	err := pg.Healthcheck(fakePinger{err: errors.New("down")})(context.Background())
	assert.ErrorIs(t, err, pg.ErrHealthcheckFailed)
}
