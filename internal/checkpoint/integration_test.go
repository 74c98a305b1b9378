//go:build integration

package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkfsm/mioski/internal/testutils"
)

func TestIntegrationRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env := testutils.StartRedisContainer(t, ctx)
	defer env.Close(ctx)

	s, err := Open(ctx, env.URL+"?key=mioski:test")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, 1234))

	id, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1234), id)
}
