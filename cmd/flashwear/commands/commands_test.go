package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/internal/simulate"
	"github.com/marmos91/flashwear/pkg/api"
	"github.com/marmos91/flashwear/pkg/api/auth"
	"github.com/marmos91/flashwear/pkg/apiclient"
	"github.com/marmos91/flashwear/pkg/device/memory"
	"github.com/marmos91/flashwear/pkg/runtime"
	snapmemory "github.com/marmos91/flashwear/pkg/snapshot/memory"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type daemon struct {
	url   string
	token string
	rt    *runtime.Runtime
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()

	rt, err := runtime.Open(context.Background(), runtime.Options{
		Policy:     wearlevel.DefaultPolicy(),
		Device:     memory.New(16, 64),
		DeviceKind: "memory",
		BlockCount: 16,
		BlockSize:  64,
		Store:      snapmemory.New(),
		StoreType:  "memory",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	tok, err := jwtSvc.GenerateToken("tester", auth.AllScopes, time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewRouter(rt, jwtSvc, 0))
	t.Cleanup(srv.Close)

	return &daemon{url: srv.URL, token: tok.AccessToken, rt: rt}
}

// execute runs the root command with args. Command flag variables are
// package globals, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FLASHWEAR_TOKEN", "")

	statusWear, statusBuckets = false, 10
	blocksState, blocksOffset, blocksLimit = "", 0, 50
	markBadReason, markBadForce = "", false
	simCfg = simulate.DefaultConfig()

	var buf bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--no-color", "--token", "", "--server", "", "-o", "table"}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestStatusCommand(t *testing.T) {
	d := startDaemon(t)

	out, err := execute(t, "status", "--server", d.url)
	require.NoError(t, err)
	assert.Contains(t, out, "memory")

	out, err = execute(t, "status", "--server", d.url, "--wear", "-o", "json")
	require.NoError(t, err)
	st := decodeJSON[statusView](t, out)
	require.NotNil(t, st.Status)
	assert.Equal(t, 16, st.Stats.Total)
	assert.NotEmpty(t, st.Wear)
}

func TestBlocksCommand(t *testing.T) {
	d := startDaemon(t)

	out, err := execute(t, "blocks", "--server", d.url, "--limit", "4", "-o", "json")
	require.NoError(t, err)
	list := decodeJSON[apiclient.BlockList](t, out)
	assert.Equal(t, 16, list.Total)
	assert.Len(t, list.Blocks, 4)

	out, err = execute(t, "blocks", "3", "--server", d.url, "-o", "json")
	require.NoError(t, err)
	b := decodeJSON[wearlevel.FlashBlock](t, out)
	assert.Equal(t, uint32(3), b.ID)

	_, err = execute(t, "blocks", "--server", d.url, "--state", "bogus")
	assert.Error(t, err)

	_, err = execute(t, "blocks", "99", "--server", d.url)
	assert.Error(t, err)
}

func TestMarkBadCommand(t *testing.T) {
	d := startDaemon(t)

	_, err := execute(t, "mark-bad", "5", "--server", d.url, "--force")
	require.Error(t, err, "mark-bad needs a token")

	out, err := execute(t, "mark-bad", "5", "--server", d.url, "--token", d.token,
		"--reason", "uncorrectable ecc", "--force", "-o", "json")
	require.NoError(t, err)
	res := decodeJSON[apiclient.MarkBadResult](t, out)
	assert.True(t, res.Marked)
	assert.Equal(t, "uncorrectable ecc", res.Record.Reason)

	out, err = execute(t, "mark-bad", "5", "--server", d.url, "--token", d.token, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "already bad")

	out, err = execute(t, "bad-blocks", "--server", d.url, "-o", "json")
	require.NoError(t, err)
	recs := decodeJSON[[]wearlevel.BadBlockRecord](t, out)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(5), recs[0].BlockID)
}

func TestMaintainAndSnapshotCommands(t *testing.T) {
	d := startDaemon(t)

	out, err := execute(t, "maintain", "--server", d.url, "--token", d.token, "-o", "json")
	require.NoError(t, err)
	run := decodeJSON[runtime.MaintenanceRun](t, out)
	assert.NotEmpty(t, run.RunID)
	assert.False(t, run.Canceled)

	out, err = execute(t, "snapshot", "--server", d.url, "--token", d.token)
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot saved")
}

func TestBadBlocksEmpty(t *testing.T) {
	d := startDaemon(t)

	out, err := execute(t, "bad-blocks", "--server", d.url)
	require.NoError(t, err)
	assert.Contains(t, out, "No bad blocks.")
}

func TestSimulateCommand(t *testing.T) {
	out, err := execute(t, "simulate", "--blocks", "32", "--block-size", "64",
		"--writes", "300", "--hot-pages", "4", "--cold-pages", "8", "--maintain-every", "50", "-o", "json")
	require.NoError(t, err)
	res := decodeJSON[simulate.Result](t, out)
	assert.Equal(t, 308, res.Writes)
	assert.Equal(t, 32, res.Stats.Total)

	out, err = execute(t, "simulate", "--blocks", "32", "--block-size", "64",
		"--writes", "300", "--hot-pages", "4", "--cold-pages", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "Erase count distribution")

	_, err = execute(t, "simulate", "--hot-ratio", "2")
	assert.Error(t, err)
}

func TestMintToken(t *testing.T) {
	cfg := api.APIConfig{}
	_, err := mintToken(cfg, "ops", nil, 0)
	assert.ErrorContains(t, err, api.EnvJWTSecret)

	cfg.JWT.Secret = testSecret
	_, err = mintToken(cfg, "ops", []string{"root"}, 0)
	assert.ErrorContains(t, err, "unknown scope")

	tok, err := mintToken(cfg, "ops", []string{auth.ScopeMaintain}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Minute), tok.ExpiresAt, 5*time.Second)

	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasScope(auth.ScopeMaintain))
	assert.False(t, claims.HasScope(auth.ScopeMarkBad))
}

func TestRunErrorsTableIsSorted(t *testing.T) {
	run := &runtime.MaintenanceRun{}
	assert.Nil(t, runErrorsTable(run))

	run.Errors = map[string]string{"scan": "device gone", "classify": "canceled", "relocate": "no target"}
	tbl := runErrorsTable(run)
	require.NotNil(t, tbl)
	rows := tbl.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"classify", "relocate", "scan"}, []string{rows[0][0], rows[1][0], rows[2][0]})
}

func TestHistogramBucketLabels(t *testing.T) {
	got := histogramBuckets([]wearlevel.WearBucket{{Min: 0, Max: 0, Count: 3}, {Min: 1, Max: 4, Count: 2}})
	require.Len(t, got, 2)
	assert.Equal(t, "0", got[0].Label)
	assert.Equal(t, "1-4", got[1].Label)
	assert.Equal(t, 2, got[1].Count)
}
