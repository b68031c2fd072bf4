package browser

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progressive-loader/internal/loader"
)

func TestOriginOf(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://Game.Example.com/index.html?x=1": "https://game.example.com",
		"http://127.0.0.1:8080/":                  "http://127.0.0.1:8080",
	}
	for in, want := range cases {
		got, err := OriginOf(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := OriginOf("/relative/path")
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, "#gameFrame", cfg.FrameSelector)
	require.Equal(t, "#progress-bar", cfg.ProgressSelector)
	require.Equal(t, "#loading-screen", cfg.LoadingSelector)
	require.Equal(t, 45*time.Second, cfg.NavigationTimeout)
}

func TestScripts(t *testing.T) {
	t.Parallel()

	s := progressScript("#progress-bar", 42)
	require.Contains(t, s, `document.querySelector("#progress-bar")`)
	require.Contains(t, s, `42 + '%'`)

	s = displayScript(`#a"b`, "none")
	require.Contains(t, s, `"#a\"b"`)

	payload := []byte{0, 'a', 's', 'm'}
	s = deliverScript("#gameFrame", "wasmBytes", "https://game.example", payload)
	require.Contains(t, s, base64.StdEncoding.EncodeToString(payload))
	require.Contains(t, s, `postMessage({ ["wasmBytes"]: bytes.buffer }, "https://game.example")`)
	require.NotContains(t, s, `'*'`)
}

func TestOpenRequiresPageURL(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	require.Error(t, err)
	_, err = Open(context.Background(), Config{PageURL: "http://x", FrameOrigin: "*"}, nil)
	require.Error(t, err)
}

const hostPage = `<!doctype html>
<html><body>
<div id="loading-screen"><div id="progress-bar" style="width:0%"></div></div>
<iframe id="gameFrame" style="display:none" srcdoc="<script>
window.addEventListener('message', e => { parent.document.body.dataset.got = String(new Uint8Array(e.data.wasmBytes).length); });
</script>"></iframe>
</body></html>`

// TestPageEndToEnd needs a local Chrome and is skipped otherwise.
func TestPageEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	if _, err := exec.LookPath("google-chrome"); err != nil {
		if _, err := exec.LookPath("chromium"); err != nil {
			t.Skip("chrome not installed")
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(hostPage))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	// srcdoc frames inherit the parent's origin.
	page, err := Open(ctx, Config{PageURL: srv.URL}, nil)
	require.NoError(t, err)
	defer page.Close()

	page.SetProgress(100)
	page.HideLoading()
	page.RevealContent()
	payload := []byte(strings.Repeat("x", 300))
	require.NoError(t, page.Deliver(ctx, loader.Message{
		LoadID:       uuid.New(),
		TargetOrigin: page.Origin(),
		Field:        loader.DefaultMessageField,
		Payload:      payload,
	}))

	var width, got string
	require.NoError(t, chromedp.Run(page.ctx,
		chromedp.Evaluate(`document.querySelector("#progress-bar").style.width`, &width),
		chromedp.Poll(`document.body.dataset.got`, &got, chromedp.WithPollingTimeout(5*time.Second)),
	))
	require.Equal(t, "100%", width)
	require.Equal(t, "300", got)
}
