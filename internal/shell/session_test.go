package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pxshell/internal/autodispatch"
	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/dispatch"
	"github.com/mattjoyce/pxshell/internal/interrupt"
	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/pool"
	"github.com/mattjoyce/pxshell/internal/render"
	"github.com/mattjoyce/pxshell/internal/results"
	"github.com/mattjoyce/pxshell/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func blockingSettings() config.ExecutionSettings {
	return config.ExecutionSettings{
		Targets:       config.AllEngines(),
		Block:         true,
		ProgressAfter: -time.Second,
		GroupBy:       render.GroupByType,
	}
}

type testSession struct {
	*Session
	cfg    *config.ExecutionConfig
	out    *syncBuffer
	errOut *syncBuffer
}

func newTestSession(t *testing.T, engines int, settings config.ExecutionSettings, suffix, input string) *testSession {
	t.Helper()
	mgr, err := workspace.NewFSManager(t.TempDir())
	require.NoError(t, err)
	p, err := pool.New(context.Background(), pool.Options{
		Engines:     engines,
		Shell:       "/bin/sh",
		KillGrace:   time.Second,
		Workspaces:  mgr,
		ProgressOut: io.Discard,
	})
	require.NoError(t, err)

	cfg := config.NewExecutionConfig(settings)
	out, errOut := &syncBuffer{}, &syncBuffer{}
	s := New(Options{
		In:     strings.NewReader(input),
		Out:    out,
		ErrOut: errOut,
		Config: cfg,
		Suffix: suffix,
	})
	cache := results.NewCache(s)
	d := dispatch.New(dispatch.Deps{
		View:   p,
		Config: cfg,
		Cache:  cache,
		Bridge: interrupt.NewBridge(p),
		Out:    out,
		ErrOut: errOut,
	})
	s.Attach(d, cache, autodispatch.New(s, d, out, suffix, nil))
	t.Cleanup(func() {
		d.Close()
		_ = p.Close()
	})
	return &testSession{Session: s, cfg: cfg, out: out, errOut: errOut}
}

func (ts *testSession) run(t *testing.T) {
	t.Helper()
	require.NoError(t, ts.Run(context.Background()))
}

func TestLocalCellsRunInLocalShell(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "", "echo local-hi\n\nexit\necho never\n")
	ts.run(t)
	assert.Contains(t, ts.out.String(), "local-hi\n")
	assert.NotContains(t, ts.out.String(), "never")
	assert.Equal(t, 1, ts.Cells())
}

func TestLocalFailureIsReported(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "", "false\necho after\n")
	ts.run(t)
	assert.Contains(t, ts.errOut.String(), "local command failed")
	assert.Contains(t, ts.out.String(), "after")
}

func TestPxMagicDispatchesToAllEngines(t *testing.T) {
	ts := newTestSession(t, 2, blockingSettings(), "", "%px echo engine-$PX_ENGINE_ID\n")
	ts.run(t)
	out := ts.out.String()
	assert.Contains(t, out, "[stdout:0] engine-0")
	assert.Contains(t, out, "[stdout:1] engine-1")
}

func TestCellPxWithTargets(t *testing.T) {
	input := "%%px -t 1 --group-outputs engine\necho one\necho two\n\n"
	ts := newTestSession(t, 2, blockingSettings(), "", input)
	ts.run(t)
	out := ts.out.String()
	assert.Contains(t, out, "[stdout:1]\none\ntwo")
	assert.NotContains(t, out, "[stdout:0]")
	assert.Equal(t, config.SelectAll, ts.cfg.Snapshot().Targets.Kind(), "per-cell targets do not persist")
}

func TestCellPxLocal(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "", "%%px --local\necho both\n\n")
	ts.run(t)
	out := ts.out.String()
	assert.Contains(t, out, "[stdout:0] both")
	assert.Equal(t, 2, strings.Count(out, "both"))
}

func TestPxconfigUpdatesDefaults(t *testing.T) {
	input := "%pxconfig --targets 0 --noblock --signal-on-interrupt none --progress-after 0.5 --verbose\n"
	ts := newTestSession(t, 2, blockingSettings(), "", input)
	ts.run(t)
	require.Empty(t, ts.errOut.String())

	got := ts.cfg.Snapshot()
	assert.Equal(t, []int{0}, got.Targets.IDs())
	assert.False(t, got.Block)
	assert.True(t, got.Verbose)
	assert.Nil(t, got.InterruptSignal)
	assert.Equal(t, 500*time.Millisecond, got.ProgressAfter)
}

func TestPxconfigWithoutFlagsPrintsSettings(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "", "%pxconfig\n")
	ts.run(t)
	assert.Contains(t, ts.out.String(), "targets:             all")
	assert.Contains(t, ts.out.String(), "signal-on-interrupt: none")
}

func TestPxconfigRejectsExpressions(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "", "%pxconfig -t __import__('os') -a\n")
	ts.run(t)
	assert.Contains(t, ts.errOut.String(), "invalid targets")
	got := ts.cfg.Snapshot()
	assert.Equal(t, config.SelectAll, got.Targets.Kind())
	assert.True(t, got.Block, "nothing applied on error")
}

func TestPxresultWithoutSubmission(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "", "%pxresult\n")
	ts.run(t)
	assert.Contains(t, ts.errOut.String(), results.ErrNoPreviousResult.Error())
}

func TestPxresultSaveNameAndWho(t *testing.T) {
	settings := blockingSettings()
	settings.Block = false
	ts := newTestSession(t, 1, settings, "", "%px echo hi\n%pxresult -o r1\n%who\n")
	ts.run(t)

	h, ok := ts.Lookup("r1")
	require.True(t, ok)
	assert.Contains(t, ts.out.String(), "r1")
	assert.Contains(t, ts.out.String(), h.ID())
}

func TestResultAliasRecallsLastResult(t *testing.T) {
	settings := blockingSettings()
	settings.Block = false
	ts := newTestSession(t, 1, settings, "", "%px echo recalled\n%result -e\n")
	ts.run(t)
	assert.Contains(t, ts.out.String(), "[stdout:0] recalled")
}

func TestSuffixedMagics(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "2", "%px2 echo suffixed\n%result\n%px echo nope\n")
	ts.run(t)
	assert.Contains(t, ts.out.String(), "[stdout:0] suffixed")
	assert.Contains(t, ts.errOut.String(), "unknown magic %result")
	assert.Contains(t, ts.errOut.String(), "unknown magic %px")
}

func TestAutopxRedirectsUntilToggledOff(t *testing.T) {
	input := strings.Join([]string{
		"%autopx",
		"echo via-engine-$PX_ENGINE_ID",
		"%autopx",
		"echo back-local",
		"",
	}, "\n")
	ts := newTestSession(t, 1, blockingSettings(), "", input)
	original := ts.Executor()
	ts.run(t)

	out := ts.out.String()
	assert.Contains(t, out, "%autopx enabled")
	assert.Contains(t, out, "[stdout:0] via-engine-0")
	assert.Contains(t, out, "%autopx disabled")
	assert.Contains(t, out, "back-local")
	assert.NotContains(t, out, "[stdout:0] back-local")
	assert.Same(t, original, ts.Executor())
}

func TestAutopxFailureKeepsSessionAlive(t *testing.T) {
	input := "%autopx\nexit 3\necho still-alive\n"
	ts := newTestSession(t, 1, blockingSettings(), "", input)
	ts.run(t)
	assert.Contains(t, ts.errOut.String(), "error:")
	assert.Contains(t, ts.out.String(), "[stdout:0] still-alive")
}

func TestUnknownMagic(t *testing.T) {
	ts := newTestSession(t, 1, blockingSettings(), "", "%nope\n%%nope\nbody\n\n")
	ts.run(t)
	assert.Contains(t, ts.errOut.String(), "unknown magic %nope")
}

func TestIsMagic(t *testing.T) {
	assert.True(t, isMagic("%%px", "%%px"))
	assert.True(t, isMagic("%%px -t 1", "%%px"))
	assert.False(t, isMagic("%%pxfoo", "%%px"))
	assert.False(t, isMagic("%px", "%%px"))
}
