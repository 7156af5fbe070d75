package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResultStoreSetGet(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()
	rs := NewResultStore(tmpl.Raw(), time.Hour)

	require.NoError(t, rs.Set(ctx, "msg-1", map[string]string{"status": "done"}))

	data, ok, err := rs.Get(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, data, "done")
}

func TestResultStoreGetMissing(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()
	rs := NewResultStore(tmpl.Raw(), time.Hour)

	_, ok, err := rs.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
