package page_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/page/pagetest"
)

func TestClassify(t *testing.T) {
	c := page.Classifier{FormMarker: "/profile/ipradd", ListMarker: "/profile/iprs"}

	tests := []struct {
		address string
		want    page.Kind
	}{
		{"https://sinta.kemdiktisaintek.go.id/profile/iprs", page.EntryList},
		{"https://sinta.kemdiktisaintek.go.id/profile/iprs?page=2", page.EntryList},
		{"https://sinta.kemdiktisaintek.go.id/profile/ipradd", page.EntryForm},
		{"https://sinta.kemdiktisaintek.go.id/profile/ipradd#top", page.EntryForm},
		{"https://sinta.kemdiktisaintek.go.id/profile", page.Unknown},
		{"", page.Unknown},
		{"about:blank", page.Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.address), tt.address)
	}
}

func TestClassifyFormMarkerWins(t *testing.T) {
	// A list marker that is a prefix of the form marker must not shadow it.
	c := page.Classifier{FormMarker: "/profile/ipradd", ListMarker: "/profile/ipr"}
	assert.Equal(t, page.EntryForm, c.Classify("https://x/profile/ipradd"))
	assert.Equal(t, page.EntryList, c.Classify("https://x/profile/iprs"))
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []page.Kind{page.Unknown, page.EntryList, page.EntryForm} {
		assert.Equal(t, k, page.ParseKind(k.String()))
	}
	assert.Equal(t, page.Unknown, page.ParseKind("bogus"))
}

func TestIsEmptyValue(t *testing.T) {
	assert.True(t, page.IsEmptyValue(""))
	assert.True(t, page.IsEmptyValue("   "))
	assert.True(t, page.IsEmptyValue("0"))
	assert.False(t, page.IsEmptyValue("00"))
	assert.False(t, page.IsEmptyValue("Diterima"))
}

func TestCountEmpty(t *testing.T) {
	ctx := context.Background()
	doc := pagetest.New("https://x/profile/ipradd")

	// Five populated, one zero, one blank, five missing entirely.
	for _, f := range page.OutputFields[:5] {
		doc.Put(f.Selector(), &pagetest.Element{Value: "value"})
	}
	doc.Put(page.OutputFields[5].Selector(), &pagetest.Element{Value: "0"})
	doc.Put(page.OutputFields[6].Selector(), &pagetest.Element{Value: "  "})

	n, ids, err := page.CountEmpty(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, ids, 7)
	assert.Contains(t, ids, page.FieldStatus)
	assert.NotContains(t, ids, page.FieldTitle)
}

type failingDoc struct{ *pagetest.Document }

func (failingDoc) Value(context.Context, string) (string, error) {
	return "", errors.New("target closed")
}

func TestCountEmptyPropagatesErrors(t *testing.T) {
	_, _, err := page.CountEmpty(context.Background(), failingDoc{pagetest.New("")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target closed")
}

func TestOutputFields(t *testing.T) {
	require.Len(t, page.OutputFields, 12)
	selects := 0
	for _, f := range page.OutputFields {
		if f.IsSelect {
			selects++
			assert.Equal(t, page.FieldCategory, f.ID)
		}
	}
	assert.Equal(t, 1, selects)
	assert.Equal(t, "#title", page.Field{ID: page.FieldTitle}.Selector())
}
