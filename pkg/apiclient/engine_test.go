package apiclient

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/api"
	"github.com/marmos91/flashwear/pkg/api/auth"
	"github.com/marmos91/flashwear/pkg/device/memory"
	"github.com/marmos91/flashwear/pkg/runtime"
	snapmemory "github.com/marmos91/flashwear/pkg/snapshot/memory"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

func newDaemon(t *testing.T) (*Client, *auth.JWTService) {
	t.Helper()
	rt, err := runtime.Open(context.Background(), runtime.Options{
		Policy:     wearlevel.DefaultPolicy(),
		Device:     memory.New(8, 32),
		DeviceKind: "memory",
		BlockCount: 8,
		BlockSize:  32,
		Store:      snapmemory.New(),
		StoreType:  "memory",
	})
	require.NoError(t, err)

	jwt, err := auth.NewJWTService(auth.JWTConfig{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewRouter(rt, jwt, 0))
	t.Cleanup(srv.Close)
	return New(srv.URL), jwt
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	client, jwt := newDaemon(t)

	h, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)

	_, err = client.Ready(ctx)
	require.NoError(t, err)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, st.Stats.Total)

	_, err = client.MarkBad(ctx, 1, "ecc")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsAuthError())

	tok, err := jwt.GenerateToken("ops", auth.AllScopes, 0)
	require.NoError(t, err)
	client.SetToken(tok.AccessToken)

	res, err := client.MarkBad(ctx, 1, "ecc")
	require.NoError(t, err)
	assert.True(t, res.Marked)

	bad, err := client.BadBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, bad, 1)
	assert.Equal(t, uint32(1), bad[0].BlockID)

	b, err := client.GetBlock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, wearlevel.StateBad, b.State)

	_, err = client.GetBlock(ctx, 42)
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())

	list, err := client.ListBlocks(ctx, BlockFilter{State: "free"})
	require.NoError(t, err)
	assert.Equal(t, 7, list.Total)

	run, err := client.Maintain(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)

	snap, err := client.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", snap.Store)
}
