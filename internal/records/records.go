// File: internal/records/records.go
package records

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaDocument []byte

// ErrNotArray is returned when a record file's top level is not a JSON array.
var ErrNotArray = errors.New("record file must contain a JSON array of records")

// Party is a named holder or contributor.
type Party struct {
	Name string `json:"nama"`
}

// Record is one unit of work: a registered item to be claimed through the form.
type Record struct {
	Code             string  `json:"nomorPermohonan"`
	Title            string  `json:"judul"`
	RegistrationCode string  `json:"kode,omitempty"`
	ApplicationDate  string  `json:"tanggalPermohonan,omitempty"`
	RegistrationDate string  `json:"tanggalPencatatan,omitempty"`
	Holders          []Party `json:"pemegang,omitempty"`
	Contributors     []Party `json:"pencipta,omitempty"`
}

// text is a string field that also accepts a JSON number, keeping the
// number's literal digits. Exports sometimes emit codes and dates unquoted.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case string(b) == "null":
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected a string or a number, got %s", b)
		}
		*t = text(n.String())
	}
	return nil
}

// UnmarshalJSON accepts numeric codes and dates alongside strings.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code             text    `json:"nomorPermohonan"`
		Title            text    `json:"judul"`
		RegistrationCode text    `json:"kode"`
		ApplicationDate  text    `json:"tanggalPermohonan"`
		RegistrationDate text    `json:"tanggalPencatatan"`
		Holders          []Party `json:"pemegang"`
		Contributors     []Party `json:"pencipta"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		Code:             string(raw.Code),
		Title:            string(raw.Title),
		RegistrationCode: string(raw.RegistrationCode),
		ApplicationDate:  string(raw.ApplicationDate),
		RegistrationDate: string(raw.RegistrationDate),
		Holders:          raw.Holders,
		Contributors:     raw.Contributors,
	}
	return nil
}

// Complete reports whether the record carries the identifying code and title.
func (r Record) Complete() bool {
	return strings.TrimSpace(r.Code) != "" && strings.TrimSpace(r.Title) != ""
}

// PrimaryHolder is the first holder's name, or "" when there are none.
func (r Record) PrimaryHolder() string {
	if len(r.Holders) == 0 {
		return ""
	}
	return r.Holders[0].Name
}

// ContributorNames joins all contributor names with ", ".
func (r Record) ContributorNames() string {
	names := make([]string, 0, len(r.Contributors))
	for _, c := range r.Contributors {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}

// ApplicationYear is the first four characters of the application date.
func (r Record) ApplicationYear() string {
	if len(r.ApplicationDate) < 4 {
		return r.ApplicationDate
	}
	return r.ApplicationDate[:4]
}

// Batch is the result of parsing a record file.
type Batch struct {
	Records []Record
	// Incomplete counts records missing a code or a title. They are kept.
	Incomplete int
}

// Valid is the number of complete records.
func (b Batch) Valid() int { return len(b.Records) - b.Incomplete }

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("records.json", bytes.NewReader(schemaDocument)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("records.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// Parse decodes and validates a record file. A non-array top level is
// rejected with ErrNotArray; any other structural violation is reported with
// the schema's own description.
func Parse(data []byte) (Batch, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Batch{}, fmt.Errorf("record file is not valid JSON: %w", err)
	}
	if _, ok := doc.([]interface{}); !ok {
		return Batch{}, ErrNotArray
	}

	s, err := schema()
	if err != nil {
		return Batch{}, err
	}
	if err := s.Validate(doc); err != nil {
		return Batch{}, fmt.Errorf("record file does not match the expected shape: %w", err)
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return Batch{}, fmt.Errorf("decode records: %w", err)
	}

	batch := Batch{Records: recs}
	for _, r := range recs {
		if !r.Complete() {
			batch.Incomplete++
		}
	}
	return batch, nil
}

// ParseReader is Parse over a stream.
func ParseReader(r io.Reader) (Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Batch{}, fmt.Errorf("read records: %w", err)
	}
	return Parse(data)
}

// ParseFile reads and parses the record file at path.
func ParseFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("read record file %s: %w", path, err)
	}
	return Parse(data)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"02-01-2006",
	"02/01/2006",
}

// NormalizeDate renders a date as YYYY-MM-DD using the calendar date as
// written (no timezone conversion). Input that no known layout accepts is
// cut at the first "T" and otherwise returned unchanged.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	before, _, _ := strings.Cut(s, "T")
	return before
}
