package records

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `[
  {
    "nomorPermohonan": "A1",
    "judul": "T1",
    "kode": "000123",
    "tanggalPermohonan": "2024-01-02",
    "tanggalPencatatan": "2024-02-03T00:00:00Z",
    "pemegang": [{"nama": "H"}],
    "pencipta": [{"nama": "C1"}, {"nama": "C2"}]
  },
  {"nomorPermohonan": "", "judul": "untitled code"},
  {"nomorPermohonan": "B2"}
]`

func TestParse(t *testing.T) {
	batch, err := Parse([]byte(sampleFile))
	require.NoError(t, err)

	require.Len(t, batch.Records, 3)
	assert.Equal(t, 2, batch.Incomplete)
	assert.Equal(t, 1, batch.Valid())

	want := Record{
		Code:             "A1",
		Title:            "T1",
		RegistrationCode: "000123",
		ApplicationDate:  "2024-01-02",
		RegistrationDate: "2024-02-03T00:00:00Z",
		Holders:          []Party{{Name: "H"}},
		Contributors:     []Party{{Name: "C1"}, {Name: "C2"}},
	}
	if diff := cmp.Diff(want, batch.Records[0]); diff != "" {
		t.Errorf("first record mismatch (-want +got):\n%s", diff)
	}
}

func TestParseNumericFields(t *testing.T) {
	input := `[{"nomorPermohonan": "A1", "judul": "T1", "kode": 512345, "tanggalPermohonan": 20230105, "tanggalPencatatan": null}]`
	batch, err := Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)

	rec := batch.Records[0]
	assert.Equal(t, "512345", rec.RegistrationCode)
	assert.Equal(t, "20230105", rec.ApplicationDate)
	assert.Empty(t, rec.RegistrationDate)
	assert.Equal(t, "2023-01-05", NormalizeDate(rec.ApplicationDate))
	assert.Equal(t, "2023", rec.ApplicationYear())
	assert.True(t, rec.Complete())

	_, err = Parse([]byte(`[{"nomorPermohonan": "A1", "kode": true}]`))
	assert.ErrorContains(t, err, "expected shape")
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"object top level", `{"nomorPermohonan": "A1"}`, ErrNotArray.Error()},
		{"string top level", `"records"`, ErrNotArray.Error()},
		{"invalid json", `[{"judul": `, "not valid JSON"},
		{"non-object entry", `[1, 2]`, "expected shape"},
		{"holders not a list", `[{"nomorPermohonan": "A", "pemegang": "H"}]`, "expected shape"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseEmptyArray(t *testing.T) {
	batch, err := Parse([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	assert.Zero(t, batch.Valid())
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdki.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	batch, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, batch.Records, 3)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	batch, err = ParseReader(strings.NewReader(sampleFile))
	require.NoError(t, err)
	assert.Len(t, batch.Records, 3)
}

func TestNormalizeDate(t *testing.T) {
	tests := map[string]string{
		"2023-05-10T00:00:00Z":      "2023-05-10",
		"2023-05-10T23:30:00+07:00": "2023-05-10",
		"2023-05-10":                "2023-05-10",
		"2023-05-10 08:00:00":       "2023-05-10",
		"10/05/2023":                "2023-05-10",
		"20230510":                  "2023-05-10",
		"not-a-date":                "not-a-date",
		"2023-13-45Tgarbage":        "2023-13-45",
		"":                          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDate(in), "input %q", in)
	}
}

func TestRecordDerivedFields(t *testing.T) {
	r := Record{
		ApplicationDate: "2024-01-02",
		Holders:         []Party{{Name: "H"}, {Name: "other"}},
		Contributors:    []Party{{Name: "C1"}, {Name: "C2"}},
	}
	assert.Equal(t, "2024", r.ApplicationYear())
	assert.Equal(t, "H", r.PrimaryHolder())
	assert.Equal(t, "C1, C2", r.ContributorNames())

	empty := Record{ApplicationDate: "24"}
	assert.Equal(t, "24", empty.ApplicationYear())
	assert.Equal(t, "", empty.PrimaryHolder())
	assert.Equal(t, "", empty.ContributorNames())
}
