// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/control"
	"github.com/xkilldash9x/claimpilot/internal/observability"
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/pagehost"
	"github.com/xkilldash9x/claimpilot/internal/records"
	"github.com/xkilldash9x/claimpilot/internal/tui"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

const sampleRecords = `[
  {"nomorPermohonan": "EC00202301", "judul": "Modul Ajar", "tanggalPermohonan": "2023-01-05", "pemegang": [{"nama": "Universitas A"}]},
  {"nomorPermohonan": "EC00202302", "judul": "Aplikasi Presensi"},
  {"nomorPermohonan": "", "judul": "Tanpa Nomor"}
]`

// sharedStore hands every command execution the same in-memory store.
type sharedStore struct {
	store *workstore.Memory
}

func (s sharedStore) Create(context.Context, config.Interface, *zap.Logger) (workstore.Store, func(), error) {
	return s.store, func() {}, nil
}

type fakeAgent struct {
	kind    page.Kind
	clicks  int
	stopped bool
}

func (a *fakeAgent) Ping(context.Context) error { return nil }
func (a *fakeAgent) FillForm(context.Context, records.Record, int) error {
	return nil
}
func (a *fakeAgent) ClickAddEntry(context.Context) error {
	a.clicks++
	return nil
}
func (a *fakeAgent) CheckPage(context.Context) (page.Kind, error) { return a.kind, nil }
func (a *fakeAgent) Stop(context.Context) error {
	a.stopped = true
	return nil
}
func (a *fakeAgent) Close() error { return nil }

type fixture struct {
	dir   string
	store *workstore.Memory
	agent *fakeAgent
	deps  deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("CLAIMPILOT_STORE_DRIVER", config.StoreMemory)
	t.Setenv("CLAIMPILOT_LOGGER_LOG_FILE", filepath.Join(dir, "claimpilot.log"))
	t.Setenv("CLAIMPILOT_LOGGER_LEVEL", "error")
	t.Setenv("CLAIMPILOT_CONTROL_SOCKET_PATH", filepath.Join(dir, "agent.sock"))
	t.Setenv("CLAIMPILOT_CONTROL_LOCK_PATH", filepath.Join(dir, "agent.lock"))
	t.Setenv("CLAIMPILOT_CONTROL_DEFAULT_RECORDS_FILE", filepath.Join(dir, "pdki.json"))
	t.Cleanup(observability.ResetForTest)

	f := &fixture{
		dir:   dir,
		store: workstore.NewMemory(),
		agent: &fakeAgent{kind: page.EntryList},
	}
	f.deps = deps{
		stores: sharedStore{store: f.store},
		openTab: func(context.Context, config.BrowserConfig, string, *zap.Logger) (pagehost.Tab, error) {
			return nil, errors.New("no browser in tests")
		},
		dial: func(context.Context, string) (control.Agent, error) {
			return f.agent, nil
		},
		runProgram: func(context.Context, tea.Model) error { return nil },
	}
	return f
}

func (f *fixture) writeRecords(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sampleRecords), 0o644))
	return path
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(f.deps)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "claimpilot version "+Version)
}

func TestInvalidConfiguration(t *testing.T) {
	f := newFixture(t)
	t.Setenv("CLAIMPILOT_STORE_DRIVER", "bogus")

	_, err := f.run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestLoadStatusAndQueue(t *testing.T) {
	f := newFixture(t)
	path := f.writeRecords(t, "records.json")

	out, err := f.run(t, "load", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 3 records.")
	assert.Contains(t, out, "1 records are missing a code or title")

	out, err = f.run(t, "queue", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "EC00202301")
	assert.Contains(t, out, "Universitas A")
	assert.Contains(t, out, "EC00202302")
	assert.Contains(t, out, "... and 1 more.")

	out, err = f.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Remaining")
	assert.Contains(t, out, "EC00202301")
	assert.Regexp(t, `Running\s+│\s+no`, out)
}

func TestLoadDefaultFile(t *testing.T) {
	f := newFixture(t)
	f.writeRecords(t, "pdki.json")

	out, err := f.run(t, "load")
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 3 records.")
}

func TestLoadRejectsBadFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nomorPermohonan": "x"}`), 0o644))

	_, err := f.run(t, "load", path)
	require.Error(t, err)

	snap, err := workstore.NewState(f.store, zap.NewNop()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Queue)
}

func TestClearReloadsDefaultFile(t *testing.T) {
	f := newFixture(t)
	path := f.writeRecords(t, "records.json")
	_, err := f.run(t, "load", path)
	require.NoError(t, err)

	out, err := f.run(t, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue cleared.")
	assert.NotContains(t, out, "Loaded")

	out, err = f.run(t, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty.")

	f.writeRecords(t, "pdki.json")
	out, err = f.run(t, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 3 records.")
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	path := f.writeRecords(t, "records.json")
	_, err := f.run(t, "load", path)
	require.NoError(t, err)

	t.Run("requires a category", func(t *testing.T) {
		_, err := f.run(t, "start")
		require.ErrorIs(t, err, control.ErrNoCategory)
	})

	t.Run("starts from the list page", func(t *testing.T) {
		out, err := f.run(t, "start", "--category", "hak cipta")
		require.NoError(t, err)
		assert.Contains(t, out, `Run started for category "hak cipta".`)
		assert.Equal(t, 1, f.agent.clicks)

		snap, err := workstore.NewState(f.store, zap.NewNop()).Load(context.Background())
		require.NoError(t, err)
		assert.True(t, snap.Running)
		assert.Equal(t, "hak cipta", snap.SelectedCategory)
	})

	t.Run("stop halts the run", func(t *testing.T) {
		out, err := f.run(t, "stop")
		require.NoError(t, err)
		assert.Contains(t, out, "Run stopped.")
		assert.True(t, f.agent.stopped)

		running, err := workstore.NewState(f.store, zap.NewNop()).Running(context.Background())
		require.NoError(t, err)
		assert.False(t, running)
	})
}

func TestReportXLSX(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "load", f.writeRecords(t, "records.json"))
	require.NoError(t, err)

	out := filepath.Join(f.dir, "report.xlsx")
	stdout, err := f.run(t, "report", "--output", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 submitted, 3 remaining")

	wb, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Remaining")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "EC00202301", rows[1][0])
}

func TestReportReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.run(t, "load", f.writeRecords(t, "records.json"))
	require.NoError(t, err)

	state := workstore.NewState(f.store, zap.NewNop())
	_, err = state.Begin(ctx, "paten")
	require.NoError(t, err)
	head := records.Record{Code: "EC00202301"}
	_, err = state.Advance(ctx, head, 0, workstore.Submission{Strategy: "by-name"})
	require.NoError(t, err)

	out := filepath.Join(f.dir, "report.xlsx")
	stdout, err := f.run(t, "report", "--output", out, "--reset")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 submitted, 2 remaining")
	assert.Contains(t, stdout, "Cleared 1 journal entries.")
	assert.FileExists(t, out)

	snap, err := state.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Journal)
	assert.Len(t, snap.Queue, 2)

	t.Run("a failed report keeps the journal", func(t *testing.T) {
		_, err := state.Advance(ctx, records.Record{Code: "EC00202302"}, 0, workstore.Submission{})
		require.NoError(t, err)

		_, err = f.run(t, "report", "--format", "csv", "--reset")
		require.Error(t, err)

		snap, err := state.Load(ctx)
		require.NoError(t, err)
		assert.Len(t, snap.Journal, 1)
	})
}

func TestReportRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "report.csv")

	_, err := f.run(t, "report", "--format", "csv", "--output", out)
	require.Error(t, err)
	assert.NoFileExists(t, out)
}

func TestPanelCommand(t *testing.T) {
	f := newFixture(t)
	var got tea.Model
	f.deps.runProgram = func(_ context.Context, m tea.Model) error {
		got = m
		return nil
	}

	_, err := f.run(t, "panel")
	require.NoError(t, err)
	require.IsType(t, &tui.Panel{}, got)
}

func TestAgentCommandReportsTabFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "agent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser in tests")
}

func TestLogsCommand(t *testing.T) {
	f := newFixture(t)
	logPath := filepath.Join(f.dir, "claimpilot.log")
	require.NoError(t, os.WriteFile(logPath, []byte("first line\nsecond line\n"), 0o644))

	out, err := f.run(t, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "first line")
	assert.Contains(t, out, "second line")
}

func TestLogsCommandMissingFile(t *testing.T) {
	f := newFixture(t)
	t.Setenv("CLAIMPILOT_LOGGER_LOG_FILE", filepath.Join(f.dir, "absent", "x.log"))

	_, err := f.run(t, "logs")
	require.Error(t, err)
}
