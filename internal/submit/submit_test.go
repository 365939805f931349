package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/page/pagetest"
	"github.com/xkilldash9x/claimpilot/internal/timing"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var pageCfg = config.NewDefaultConfig().Page()

const (
	selByName  = `button[name="claim-ipr"]`
	selForm    = `form[method="POST"]`
	selFormBtn = `form[method="POST"] button[type="submit"]`
	selValue   = `button[value="1"][type="submit"]`
	selLabeled = `#labelled-submit`
)

func newCommitter(doc page.Document) (*Committer, *timing.Recorder, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	c := NewCommitter(doc, pageCfg, 500*time.Millisecond, zap.New(core))
	rec := &timing.Recorder{}
	c.Sleep = rec.Sleep
	return c, rec, logs
}

func TestLocatorsIndependently(t *testing.T) {
	ctx := context.Background()
	locs := DefaultLocators(pageCfg)
	require.Len(t, locs, 4)

	tests := []struct {
		locator int
		setup   func(*pagetest.Document)
		want    string
	}{
		{0, func(d *pagetest.Document) { d.Put(selByName, &pagetest.Element{}) }, selByName},
		{1, func(d *pagetest.Document) { d.Put(selFormBtn, &pagetest.Element{}) }, selFormBtn},
		{2, func(d *pagetest.Document) {
			d.Put(selLabeled, &pagetest.Element{Text: " Claim IPR "}).
				Put("#other", &pagetest.Element{Text: "Cancel"}).
				Candidates(`button[type="submit"]`, "#other", selLabeled)
		}, selLabeled},
		{3, func(d *pagetest.Document) { d.Put(selValue, &pagetest.Element{}) }, selValue},
	}
	for _, tt := range tests {
		t.Run(locs[tt.locator].Name, func(t *testing.T) {
			empty := pagetest.New("")
			_, err := locs[tt.locator].Find(ctx, empty)
			assert.ErrorIs(t, err, page.ErrNotFound)

			doc := pagetest.New("")
			tt.setup(doc)
			sel, err := locs[tt.locator].Find(ctx, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel)
		})
	}
}

func TestByLabelAlternateLabel(t *testing.T) {
	ctx := context.Background()
	loc := DefaultLocators(pageCfg)[2]
	require.Equal(t, "by-label", loc.Name)
	assert.Equal(t, "claim-ipr", pageCfg.SubmitAltLabel)

	doc := pagetest.New("").
		Put("#other", &pagetest.Element{Text: "Cancel"}).
		Put(selLabeled, &pagetest.Element{Text: "submit claim-ipr"}).
		Candidates(`button[type="submit"]`, "#other", selLabeled)
	sel, err := loc.Find(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, selLabeled, sel)

	t.Run("primary label wins", func(t *testing.T) {
		doc := pagetest.New("").
			Put("#alt", &pagetest.Element{Text: "claim-ipr"}).
			Put(selLabeled, &pagetest.Element{Text: "Claim IPR"}).
			Candidates(`button[type="submit"]`, "#alt", selLabeled)
		sel, err := loc.Find(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, selLabeled, sel)
	})

	t.Run("empty labels are skipped", func(t *testing.T) {
		doc := pagetest.New("").
			Put(selLabeled, &pagetest.Element{Text: "anything"}).
			Candidates(`button[type="submit"]`, selLabeled)
		_, err := ByText("by-label", `button[type="submit"]`, "", "").Find(ctx, doc)
		assert.ErrorIs(t, err, page.ErrNotFound)
	})
}

func TestLocateOrder(t *testing.T) {
	doc := pagetest.New("").
		Put(selValue, &pagetest.Element{}).
		Put(selFormBtn, &pagetest.Element{})
	c, _, _ := newCommitter(doc)

	loc, sel, err := c.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "form-button", loc.Name)
	assert.Equal(t, selFormBtn, sel)
}

func TestCommitClick(t *testing.T) {
	doc := pagetest.New("").Put(selByName, &pagetest.Element{Disabled: true, InForm: true})
	c, rec, _ := newCommitter(doc)

	res, err := c.Commit(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.Equal(t, "by-name", res.Strategy)
	assert.Equal(t, ActivationClick, res.Activation)
	assert.False(t, doc.Element(selByName).Disabled)
	assert.Equal(t, []string{"enable " + selByName, "scroll " + selByName, "click " + selByName}, doc.Actions())
	assert.Equal(t, c.ActivationDelay, rec.Slept()[0])
}

func TestCommitEscalation(t *testing.T) {
	ctx := context.Background()

	t.Run("click fails, synthetic click succeeds", func(t *testing.T) {
		doc := pagetest.New("").Put(selByName, &pagetest.Element{ClickErr: errors.New("not clickable")})
		c, _, logs := newCommitter(doc)

		res, err := c.Commit(ctx)
		require.NoError(t, err)
		assert.True(t, res.Submitted)
		assert.Equal(t, ActivationDispatchClick, res.Activation)
		assert.Equal(t, []string{ActivationClick, ActivationDispatchClick}, res.Attempted)
		assert.Equal(t, 1, logs.FilterMessage("Submit activation failed, escalating.").Len())
	})

	t.Run("both clicks fail, native submit succeeds", func(t *testing.T) {
		doc := pagetest.New("").Put(selByName, &pagetest.Element{
			ClickErr:         errors.New("a"),
			DispatchClickErr: errors.New("b"),
			InForm:           true,
		})
		c, _, _ := newCommitter(doc)

		res, err := c.Commit(ctx)
		require.NoError(t, err)
		assert.True(t, res.Submitted)
		assert.Equal(t, ActivationFormSubmit, res.Activation)
	})

	t.Run("everything fails", func(t *testing.T) {
		doc := pagetest.New("").Put(selByName, &pagetest.Element{
			ClickErr:         errors.New("a"),
			DispatchClickErr: errors.New("b"),
			InForm:           false,
		})
		c, _, logs := newCommitter(doc)

		res, err := c.Commit(ctx)
		assert.ErrorIs(t, err, ErrNotSubmitted)
		assert.False(t, res.Submitted)
		assert.Equal(t, ActivationNone, res.Activation)
		assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
	})
}

func TestCommitWithoutControl(t *testing.T) {
	ctx := context.Background()

	t.Run("bare form is submitted but not counted", func(t *testing.T) {
		doc := pagetest.New("").Put(selForm, &pagetest.Element{InForm: true})
		c, _, _ := newCommitter(doc)

		res, err := c.Commit(ctx)
		assert.ErrorIs(t, err, ErrNoControl)
		assert.False(t, res.Submitted)
		assert.Equal(t, ActivationFormSubmit, res.Activation)
		assert.True(t, doc.HasAction("dispatch-submit "+selForm))
		assert.True(t, doc.HasAction("submit "+selForm))
	})

	t.Run("cancelled submit event skips native submission", func(t *testing.T) {
		doc := pagetest.New("").Put(selForm, &pagetest.Element{InForm: true, SubmitCancelled: true})
		c, _, _ := newCommitter(doc)

		res, err := c.Commit(ctx)
		assert.ErrorIs(t, err, ErrNoControl)
		assert.Equal(t, ActivationDispatchSubmit, res.Activation)
		assert.False(t, doc.HasAction("submit "+selForm))
	})

	t.Run("no form at all", func(t *testing.T) {
		c, _, _ := newCommitter(pagetest.New(""))
		res, err := c.Commit(ctx)
		assert.ErrorIs(t, err, ErrNoControl)
		assert.ErrorIs(t, err, page.ErrNotFound)
		assert.Equal(t, ActivationNone, res.Activation)
	})
}

func TestCommitStopsOnCancel(t *testing.T) {
	doc := pagetest.New("").Put(selByName, &pagetest.Element{})
	c, _, _ := newCommitter(doc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Commit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Submitted)
	assert.False(t, doc.HasAction("click"))
}

func TestCommitGuard(t *testing.T) {
	ctx := context.Background()
	errHalted := errors.New("halted")

	t.Run("guard failing after the pause blocks every activation", func(t *testing.T) {
		doc := pagetest.New("").Put(selByName, &pagetest.Element{InForm: true})
		c, rec, logs := newCommitter(doc)
		halted := false
		c.Sleep = func(ctx context.Context, d time.Duration) error {
			halted = d == c.ActivationDelay
			return rec.Sleep(ctx, d)
		}
		c.Guard = func(context.Context) error {
			if halted {
				return errHalted
			}
			return nil
		}

		res, err := c.Commit(ctx)
		assert.ErrorIs(t, err, errHalted)
		assert.NotErrorIs(t, err, ErrNotSubmitted)
		assert.False(t, res.Submitted)
		assert.Empty(t, res.Attempted)
		assert.Equal(t, ActivationNone, res.Activation)
		assert.False(t, doc.HasAction("click "+selByName))
		assert.False(t, doc.HasAction("dispatch-click "+selByName))
		assert.False(t, doc.HasAction("submit "))
		assert.Equal(t, 1, logs.FilterMessage("Submit aborted before activation.").Len())
	})

	t.Run("guard is checked before the bare form is submitted", func(t *testing.T) {
		doc := pagetest.New("").Put(selForm, &pagetest.Element{InForm: true})
		c, _, _ := newCommitter(doc)
		c.Guard = func(context.Context) error { return errHalted }

		res, err := c.Commit(ctx)
		assert.ErrorIs(t, err, errHalted)
		assert.NotErrorIs(t, err, ErrNoControl)
		assert.Equal(t, ActivationNone, res.Activation)
		assert.False(t, doc.HasAction("dispatch-submit "+selForm))
	})

	t.Run("passing guard changes nothing", func(t *testing.T) {
		doc := pagetest.New("").Put(selByName, &pagetest.Element{})
		c, _, _ := newCommitter(doc)
		calls := 0
		c.Guard = func(context.Context) error {
			calls++
			return nil
		}

		res, err := c.Commit(ctx)
		require.NoError(t, err)
		assert.True(t, res.Submitted)
		assert.Equal(t, []string{ActivationClick}, res.Attempted)
		assert.Equal(t, 1, calls)
	})
}
