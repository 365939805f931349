package reporting_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/xkilldash9x/claimpilot/internal/records"
	"github.com/xkilldash9x/claimpilot/internal/reporting"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

var snap = workstore.Snapshot{
	RunID:            "run-2",
	SelectedCategory: "hak cipta",
	Queue: []records.Record{{
		Code:            "EC00202399999",
		Title:           "Modul Ajar",
		ApplicationDate: "2023-03-01T00:00:00",
		Holders:         []records.Party{{Name: "Universitas X"}},
		Contributors:    []records.Party{{Name: "Ani"}, {Name: "Budi"}},
	}},
	Journal: []workstore.JournalEntry{
		{RunID: "run-1", Code: "EC001", Title: "Old"},
		{
			RunID:       "run-2",
			Code:        "EC00202312345",
			Title:       "Aplikasi Absensi",
			Category:    "hak cipta",
			SubmittedAt: time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC),
			Submission:  workstore.Submission{Strategy: "by-name", Activation: "click"},
		},
	},
}

func TestFromSnapshot(t *testing.T) {
	now := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	all := reporting.FromSnapshot(snap, false, now)
	assert.Len(t, all.Submitted, 2)
	assert.Len(t, all.Remaining, 1)
	assert.Equal(t, now, all.GeneratedAt)

	run := reporting.FromSnapshot(snap, true, now)
	require.Len(t, run.Submitted, 1)
	assert.Equal(t, "EC00202312345", run.Submitted[0].Code)
}

func TestXLSXReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.xlsx")
	r, err := reporting.New("xlsx", path)
	require.NoError(t, err)
	require.NoError(t, r.Write(reporting.FromSnapshot(snap, true, time.Now())))
	require.NoError(t, r.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{reporting.SubmittedSheet, reporting.RemainingSheet}, f.GetSheetList())

	rows, err := f.GetRows(reporting.SubmittedSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Code", rows[0][0])
	assert.Equal(t, "EC00202312345", rows[1][0])
	assert.Equal(t, "2026-10-01 09:30:00", rows[1][3])
	assert.Equal(t, "by-name", rows[1][4])

	rows, err = f.GetRows(reporting.RemainingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"EC00202399999", "Modul Ajar", "", "2023-03-01", "", "Universitas X", "Ani, Budi"}, rows[1])
}

func TestJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.json")
	r, err := reporting.New("json", path)
	require.NoError(t, err)
	require.NoError(t, r.Write(reporting.FromSnapshot(snap, false, time.Now())))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got struct {
		RunID     string `json:"runId"`
		Submitted []struct {
			Code string `json:"code"`
		} `json:"submitted"`
		Remaining []struct {
			Code string `json:"nomorPermohonan"`
		} `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-2", got.RunID)
	assert.Len(t, got.Submitted, 2)
	require.Len(t, got.Remaining, 1)
	assert.Equal(t, "EC00202399999", got.Remaining[0].Code)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.sarif")
	_, err := reporting.New("sarif", path)
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file is created for an unsupported format")
}
