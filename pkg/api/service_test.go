package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/binder"
	"cdpproxy/internal/client"
	"cdpproxy/internal/replay"
	"cdpproxy/internal/rules"
	"cdpproxy/pkg/browser/browsertest"
	"cdpproxy/pkg/traffic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubDoer struct {
	mu    sync.Mutex
	res   *client.Result
	err   error
	calls []*client.Call
}

func (d *stubDoer) Do(_ context.Context, call *client.Call) (*client.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if d.err != nil {
		return nil, d.err
	}
	return d.res, nil
}

func (d *stubDoer) proxies() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.Agents.HTTP.URL.String())
	}
	return out
}

func okResult(extra http.Header) *client.Result {
	h := http.Header{"Content-Type": {"text/html"}}
	for k, v := range extra {
		h[k] = v
	}
	return &client.Result{StatusCode: http.StatusOK, Header: h, Body: []byte("<h1>ok</h1>")}
}

func TestApplyRequestFulfills(t *testing.T) {
	doer := &stubDoer{res: okResult(http.Header{":status": {"200"}})}
	svc := NewService(nil, replay.DefaultOptions(), replay.WithClient(doer))
	req := browsertest.NewRequest("http://example.com/")

	require.NoError(t, svc.Apply(context.Background(), ForRequest(req), Proxy("http://localhost:8080")))

	require.Equal(t, browsertest.ActionFulfill, req.Action())
	resp := req.Response()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Headers.Get("content-type"))
	assert.False(t, resp.Headers.Has("set-cookie"))
	assert.False(t, resp.Headers.Has(":status"))
	assert.Equal(t, []byte("<h1>ok</h1>"), resp.Body)
}

func TestApplyRequestConnectionRefused(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	t.Run("abort by default", func(t *testing.T) {
		svc := NewService(nil, replay.DefaultOptions(), replay.WithClient(&stubDoer{err: refused}))
		req := browsertest.NewRequest("http://example.com/")

		require.NoError(t, svc.Apply(context.Background(), ForRequest(req), Proxy("http://localhost:8080")))
		assert.Equal(t, browsertest.ActionAbort, req.Action())
	})

	t.Run("propagate", func(t *testing.T) {
		opts := replay.DefaultOptions()
		opts.AbortOnErrors = false
		svc := NewService(nil, opts, replay.WithClient(&stubDoer{err: refused}))
		req := browsertest.NewRequest("http://example.com/")

		err := svc.Apply(context.Background(), ForRequest(req), Proxy("http://localhost:8080"))
		require.Error(t, err)
		assert.ErrorIs(t, err, syscall.ECONNREFUSED)
		var te *replay.TransportError
		assert.ErrorAs(t, err, &te)
		assert.Equal(t, browsertest.ActionNone, req.Action())
	})
}

func TestApplyRequestStoresCookies(t *testing.T) {
	doer := &stubDoer{res: okResult(http.Header{"Set-Cookie": {"id=42; Path=/"}})}
	svc := NewService(nil, replay.DefaultOptions(), replay.WithClient(doer))
	req := browsertest.NewRequest("https://example.com/page")

	require.NoError(t, svc.Apply(context.Background(), ForRequest(req), Proxy("http://localhost:8080")))

	require.Equal(t, browsertest.ActionFulfill, req.Action())
	assert.False(t, req.Response().Headers.Has("set-cookie"))
	all := req.Store.All()
	require.Len(t, all, 1)
	assert.Equal(t, "id", all[0].Name)
	assert.Equal(t, "42", all[0].Value)
	assert.Equal(t, "example.com", all[0].Domain)
}

func TestApplyRequestWithoutProxyKeepsOverrides(t *testing.T) {
	doer := &stubDoer{res: okResult(nil)}
	svc := NewService(nil, replay.DefaultOptions(), replay.WithClient(doer))
	req := browsertest.NewRequest("https://example.com/")
	ov := &traffic.Overrides{Headers: traffic.Header{"x-debug": "1"}}

	require.NoError(t, svc.Apply(context.Background(), ForRequest(req), WithOverrides("", ov)))

	assert.Equal(t, browsertest.ActionContinue, req.Action())
	assert.Equal(t, "1", req.Overrides().Headers.Get("X-Debug"))
	assert.Empty(t, doer.calls)
}

func TestApplyRequestNonHTTPScheme(t *testing.T) {
	doer := &stubDoer{res: okResult(nil)}
	svc := NewService(nil, replay.DefaultOptions(), replay.WithClient(doer))
	req := browsertest.NewRequest("data:text/plain,hello")

	require.NoError(t, svc.Apply(context.Background(), ForRequest(req), Proxy("http://localhost:8080")))
	assert.Equal(t, browsertest.ActionContinue, req.Action())
	assert.Nil(t, req.Overrides())
	assert.Empty(t, doer.calls)
}

func TestApplyRequestOverrides(t *testing.T) {
	doer := &stubDoer{res: okResult(nil)}
	svc := NewService(nil, replay.DefaultOptions(), replay.WithClient(doer))
	req := browsertest.NewRequest("https://example.com/")

	ov := &traffic.Overrides{URL: traffic.String("https://example.org/api"), Method: traffic.String(http.MethodPost), Body: []byte("a=1")}
	require.NoError(t, svc.Apply(context.Background(), ForRequest(req), WithOverrides("socks5://127.0.0.1:1080", ov)))

	require.Len(t, doer.calls, 1)
	call := doer.calls[0]
	assert.Equal(t, "https://example.org/api", call.URL)
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, []byte("a=1"), call.Body)
	assert.Equal(t, "example.org", call.Headers.Get("host"))
}

func TestApplyPageIdempotence(t *testing.T) {
	page := browsertest.NewPage(context.Background())
	defer page.Close()

	require.NoError(t, Apply(context.Background(), ForPage(page), Proxy(""), nil))
	assert.False(t, page.Intercepting())
	assert.Zero(t, page.Listeners().Len())

	require.NoError(t, Apply(context.Background(), ForPage(page), Proxy("http://localhost:8080"), nil))
	assert.True(t, page.Intercepting())
	assert.Equal(t, []string{binder.ListenerName}, page.Listeners().Names())

	require.NoError(t, Apply(context.Background(), ForPage(page), Proxy("http://localhost:9090"), nil))
	assert.Equal(t, 1, page.Listeners().Len())
}

func TestApplyPageErrors(t *testing.T) {
	page := browsertest.NewPage(context.Background())
	defer page.Close()

	err := Apply(context.Background(), ForPage(page), WithOverrides("http://localhost:8080", &traffic.Overrides{Method: traffic.String("POST")}), nil)
	assert.ErrorIs(t, err, agent.ErrProxyConfiguration)

	err = Apply(context.Background(), ForPage(page), Proxy("ftp://localhost:21"), nil)
	assert.ErrorIs(t, err, agent.ErrProxyConfiguration)
	assert.False(t, page.Intercepting())

	resolverErr := errors.New("no agent for tenant")
	opts := replay.DefaultOptions()
	opts.AgentResolver = func(string) (*agent.Pair, error) { return nil, resolverErr }
	err = Apply(context.Background(), ForPage(page), Proxy("http://localhost:8080"), &opts)
	assert.ErrorIs(t, err, agent.ErrProxyConfiguration)
	assert.Zero(t, page.Listeners().Len())
}

func TestApplyInvalidTarget(t *testing.T) {
	assert.ErrorIs(t, Apply(context.Background(), Target{}, Proxy("http://localhost:8080"), nil), ErrInvalidTarget)
	assert.ErrorIs(t, Apply(context.Background(), Target{Kind: TargetPage}, Proxy(""), nil), ErrInvalidTarget)
	assert.ErrorIs(t, Apply(context.Background(), Target{Kind: TargetRequest}, Proxy(""), nil), ErrInvalidTarget)
}

func TestBindRoutes(t *testing.T) {
	page := browsertest.NewPage(context.Background())
	defer page.Close()
	doer := &stubDoer{res: okResult(nil)}
	svc := NewService(nil, replay.DefaultOptions(), replay.WithClient(doer))
	engine := rules.New([]rules.Rule{
		{ID: "api", Priority: 10, Proxy: "http://api-proxy:8080", Match: rules.Match{AllOf: []rules.Condition{{Type: "host", Pattern: "api.example.com"}}}},
		{ID: "static", Priority: 5, Proxy: rules.Direct, Match: rules.Match{AllOf: []rules.Condition{{Type: "url", Pattern: "*.png"}}}},
	})

	require.NoError(t, svc.BindRoutes(context.Background(), page, engine, "http://fallback:3128"))
	assert.Equal(t, []string{binder.ListenerName}, page.Listeners().Names())

	api := browsertest.NewRequest("https://api.example.com/v1")
	img := browsertest.NewRequest("https://cdn.example.com/logo.png")
	other := browsertest.NewRequest("https://example.com/")
	for _, r := range []*browsertest.Request{api, img, other} {
		require.NoError(t, page.Listeners().Emit(r))
	}
	for _, r := range []*browsertest.Request{api, img, other} {
		select {
		case <-r.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("%s not handled", r.RawURL)
		}
	}

	assert.Equal(t, browsertest.ActionFulfill, api.Action())
	assert.Equal(t, browsertest.ActionContinue, img.Action())
	assert.Equal(t, browsertest.ActionFulfill, other.Action())
	assert.ElementsMatch(t, []string{"http://api-proxy:8080", "http://fallback:3128"}, doer.proxies())
}

func TestBindRoutesRejectsBadRule(t *testing.T) {
	page := browsertest.NewPage(context.Background())
	defer page.Close()
	svc := NewService(nil, replay.DefaultOptions())
	engine := rules.New([]rules.Rule{{ID: "bad", Proxy: "gopher://x"}})

	err := svc.BindRoutes(context.Background(), page, engine, "")
	assert.ErrorIs(t, err, agent.ErrProxyConfiguration)
	assert.False(t, binder.Bound(page))
}
