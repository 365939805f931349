package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/page"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("inherits session values", func(t *testing.T) {
		session := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(session, context.Background())
		defer cancel()
		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("cancelled by the operation", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), op)
		defer cancel()
		cancelOp()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, time.Millisecond)
	})

	t.Run("cancelled by the session", func(t *testing.T) {
		session, cancelSession := context.WithCancel(context.Background())
		combined, cancel := CombineContext(session, context.Background())
		defer cancel()
		cancelSession()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("operation values are not inherited", func(t *testing.T) {
		op := context.WithValue(context.Background(), key, "op")
		combined, cancel := CombineContext(context.Background(), op)
		defer cancel()
		assert.Nil(t, combined.Value(key))
	})
}

func TestScripts(t *testing.T) {
	script := elementScript(`button[name="claim-ipr"]`, jsClick, nil)
	assert.Contains(t, script, `"button[name=\"claim-ipr\"]"`, "selectors are JSON encoded")
	assert.Contains(t, script, "el.click()")
	assert.True(t, strings.HasSuffix(script, ", null)"))

	find := findByTextScript("a.btn", `Add "IPR"`, "ref-1")
	assert.Contains(t, find, `"data-claimpilot-ref"`)
	assert.Contains(t, find, `"text":"Add \"IPR\""`)

	assert.Equal(t, `document.querySelector("#title") !== null`, existsScript("#title"))
}

func TestIsNavigationError(t *testing.T) {
	assert.True(t, isNavigationError(errors.New("exception: Execution context was destroyed.")))
	assert.True(t, isNavigationError(fmt.Errorf("evaluate: %w", errors.New("Inspected target navigated or closed"))))
	assert.False(t, isNavigationError(fmt.Errorf("#x: %w", page.ErrNotFound)))
	assert.False(t, isNavigationError(errors.New("timeout")))
}

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(config.BrowserConfig{Headless: true}))
	withExtras := AllocatorOptions(config.BrowserConfig{
		Headless:    false,
		DisableGPU:  true,
		UserDataDir: t.TempDir(),
		Args:        []string{"--no-zygote", "lang=id-ID"},
	})
	assert.Equal(t, base+5, len(withExtras))
}

const formHTML = `<!doctype html>
<html><body>
<form method="POST" action="/profile/iprs" onsubmit="window.submitted = (window.submitted || 0) + 1; return false;">
  <input id="nomor_permohonan" value="">
  <button type="button" id="checkipr" disabled><span class="spinner-border"></span> Check IPR</button>
  <select id="kategori" class="form-select disable-click"><option value="paten">paten</option><option value="hak cipta">hak cipta</option></select>
  <input id="title" readonly value="0">
  <button type="submit" name="claim-ipr" value="1">Claim IPR</button>
</form>
<a class="btn btn-primary" href="/profile/other">Add IPR</a>
</body></html>`

func findChrome() string {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func TestSessionAgainstChrome(t *testing.T) {
	if testing.Short() || findChrome() == "" {
		t.Skip("chrome not available")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(formHTML))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := Open(ctx, config.BrowserConfig{
		Headless:  true,
		StartURL:  srv.URL + "/profile/ipradd",
		OpTimeout: 10 * time.Second,
	}, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	loc, err := s.Location(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc, "/profile/ipradd"))

	ok, err := s.Exists(ctx, "#nomor_permohonan")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "#missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetValue(ctx, "#nomor_permohonan", "EC001", "input", "change"))
	v, err := s.Value(ctx, "#nomor_permohonan")
	require.NoError(t, err)
	assert.Equal(t, "EC001", v)

	_, err = s.Value(ctx, "#missing")
	assert.ErrorIs(t, err, page.ErrNotFound)

	text, err := s.Text(ctx, "#checkipr")
	require.NoError(t, err)
	assert.Equal(t, "Check IPR", text)
	markup, err := s.Markup(ctx, "#checkipr")
	require.NoError(t, err)
	assert.Contains(t, markup, "spinner-border")

	require.NoError(t, s.Enable(ctx, "#checkipr"))
	require.NoError(t, s.ClearRestrictions(ctx, "#kategori", true))
	require.NoError(t, s.ClearRestrictions(ctx, "#title", false))

	sel, err := s.FindByText(ctx, "a.btn-primary, a.btn", "Add IPR")
	require.NoError(t, err)
	assert.Contains(t, sel, refAttr)
	_, err = s.FindByText(ctx, "a.btn", "Nope")
	assert.ErrorIs(t, err, page.ErrNotFound)

	require.NoError(t, s.ScrollIntoView(ctx, `button[name="claim-ipr"]`))
	cancelled, err := s.DispatchSubmit(ctx, `form[method="POST"]`)
	require.NoError(t, err)
	assert.True(t, cancelled, "the inline handler returns false")
}
