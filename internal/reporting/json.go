package reporting

import (
	"io"

	json "github.com/json-iterator/go"
)

// JSONReporter writes the report as one indented JSON document.
type JSONReporter struct {
	w io.WriteCloser
}

// NewJSONReporter takes ownership of w.
func NewJSONReporter(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{w: w}
}

func (j *JSONReporter) Write(r Report) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (j *JSONReporter) Close() error {
	return j.w.Close()
}
