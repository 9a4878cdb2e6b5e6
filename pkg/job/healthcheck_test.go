package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthcheck_NilManager(t *testing.T) {
	t.Parallel()

	err := Healthcheck(nil)(context.Background())
	require.ErrorIs(t, err, ErrHealthcheckFailed)
	assert.ErrorIs(t, err, errManagerNil)
}

func TestHealthcheck_NotStarted(t *testing.T) {
	t.Parallel()

	m := &Manager{registry: newRegistry()}
	err := Healthcheck(m)(context.Background())
	require.ErrorIs(t, err, ErrHealthcheckFailed)
	assert.ErrorIs(t, err, errManagerNotStarted)
}

func TestMigrate_NilPool(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, Migrate(context.Background(), nil), ErrPoolRequired)
}
