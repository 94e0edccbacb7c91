package replay

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/client"
	"cdpproxy/pkg/browser/browsertest"
	"cdpproxy/pkg/traffic"
)

type fakeDoer struct {
	mu    sync.Mutex
	calls []*client.Call
	res   *client.Result
	err   error
}

func (f *fakeDoer) Do(_ context.Context, call *client.Call) (*client.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memRecorder) Record(_ context.Context, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func okResult() *client.Result {
	h := http.Header{}
	h.Set("Content-Type", "text/html")
	return &client.Result{StatusCode: 200, Header: h, Body: []byte("<h1>ok</h1>")}
}

func newReplayer(opts Options, doer client.Doer, rec Recorder) *Replayer {
	return New(opts, WithClient(doer), WithRecorder(rec))
}

func TestHandleFulfills(t *testing.T) {
	doer := &fakeDoer{res: okResult()}
	rec := &memRecorder{}
	req := browsertest.NewRequest("http://example.com/")

	err := newReplayer(DefaultOptions(), doer, rec).Handle(context.Background(), req, "http://localhost:8080", nil)
	require.NoError(t, err)

	require.Equal(t, browsertest.ActionFulfill, req.Action())
	resp := req.Response()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Headers["content-type"])
	assert.NotContains(t, resp.Headers, "set-cookie")
	assert.Equal(t, "<h1>ok</h1>", string(resp.Body))

	require.Len(t, doer.calls, 1)
	call := doer.calls[0]
	assert.Equal(t, "http://example.com/", call.URL)
	assert.Equal(t, http.MethodGet, call.Method)
	assert.Equal(t, "example.com", call.Headers["host"])
	assert.Equal(t, agent.KindHTTP, call.Agents.HTTP.Kind)
	assert.Zero(t, call.Timeout)
	assert.NotNil(t, call.Jar)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, OutcomeFulfilled, rec.entries[0].Outcome)
	assert.Equal(t, 200, rec.entries[0].StatusCode)
}

func TestHandleAbortsOnTransportError(t *testing.T) {
	doer := &fakeDoer{err: syscall.ECONNREFUSED}
	rec := &memRecorder{}
	req := browsertest.NewRequest("http://example.com/")

	err := newReplayer(DefaultOptions(), doer, rec).Handle(context.Background(), req, "http://localhost:8080", nil)
	require.NoError(t, err)
	assert.Equal(t, browsertest.ActionAbort, req.Action())
	assert.Equal(t, 1, req.Calls())
	assert.Equal(t, OutcomeAborted, rec.entries[0].Outcome)
}

func TestHandlePropagatesWhenAbortDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.AbortOnErrors = false
	req := browsertest.NewRequest("http://example.com/")

	err := newReplayer(opts, &fakeDoer{err: syscall.ECONNREFUSED}, nil).Handle(context.Background(), req, "http://localhost:8080", nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Equal(t, browsertest.ActionNone, req.Action())
	assert.Zero(t, req.Calls())
}

func TestHandleValidationFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.AbortOnErrors = false
	opts.ValidateResponse = func(res *client.Result) error {
		if res.StatusCode != 204 {
			return errors.New("unexpected status")
		}
		return nil
	}
	req := browsertest.NewRequest("https://example.com/")

	err := newReplayer(opts, &fakeDoer{res: okResult()}, nil).Handle(context.Background(), req, "http://localhost:8080", nil)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, browsertest.ActionNone, req.Action())

	opts.AbortOnErrors = true
	req = browsertest.NewRequest("https://example.com/")
	require.NoError(t, newReplayer(opts, &fakeDoer{res: okResult()}, nil).Handle(context.Background(), req, "http://localhost:8080", nil))
	assert.Equal(t, browsertest.ActionAbort, req.Action())
}

func TestHandleSkipsNonHTTPSchemes(t *testing.T) {
	for _, u := range []string{"data:text/plain,hi", "blob:https://example.com/uuid", "chrome-extension://abc/x.js", "ws://example.com/"} {
		doer := &fakeDoer{res: okResult()}
		rec := &memRecorder{}
		req := browsertest.NewRequest(u)

		err := newReplayer(DefaultOptions(), doer, rec).Handle(context.Background(), req, "http://localhost:8080", nil)
		require.NoError(t, err)
		assert.Equal(t, browsertest.ActionContinue, req.Action(), u)
		assert.Nil(t, req.Overrides())
		assert.Empty(t, doer.calls, u)
		require.Len(t, rec.entries, 1)
		assert.Equal(t, OutcomeSkipped, rec.entries[0].Outcome)
		assert.ErrorIs(t, rec.entries[0].Err, ErrSchemeUnsupported)
	}
}

func TestHandleWithoutProxyContinuesWithOverrides(t *testing.T) {
	doer := &fakeDoer{res: okResult()}
	req := browsertest.NewRequest("http://example.com/")
	ov := &traffic.Overrides{Headers: traffic.Header{"x-extra": "1"}}

	require.NoError(t, newReplayer(DefaultOptions(), doer, nil).Handle(context.Background(), req, "", ov))
	assert.Equal(t, browsertest.ActionContinue, req.Action())
	assert.Same(t, ov, req.Overrides())
	assert.Empty(t, doer.calls)
}

func TestHandleAppliesOverrides(t *testing.T) {
	doer := &fakeDoer{res: okResult()}
	req := browsertest.NewRequest("http://example.com/")
	req.Payload = []byte("orig")

	ov := &traffic.Overrides{
		URL:     traffic.String("https://api.example.org/v1"),
		Method:  traffic.String(http.MethodPost),
		Body:    []byte(`{"a":1}`),
		Headers: traffic.Header{"content-type": "application/json"},
	}
	require.NoError(t, newReplayer(DefaultOptions(), doer, nil).Handle(context.Background(), req, "socks5://127.0.0.1:1080", ov))

	call := doer.calls[0]
	assert.Equal(t, "https://api.example.org/v1", call.URL)
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, `{"a":1}`, string(call.Body))
	assert.Equal(t, traffic.Header{"content-type": "application/json"}, call.Headers)
	assert.Equal(t, agent.KindSOCKS, call.Agents.HTTPS.Kind)
}

func TestHandleUsesReconciledHeadersAndTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 3 * time.Second
	opts.AdditionalHeaders = map[string]string{"X-Proxy-Session": "s1"}
	doer := &fakeDoer{res: okResult()}
	req := browsertest.NewRequest("https://example.com/")
	req.Navigation = true

	require.NoError(t, newReplayer(opts, doer, nil).Handle(context.Background(), req, "http://localhost:8080", nil))

	call := doer.calls[0]
	assert.Equal(t, 3*time.Second, call.Timeout)
	assert.Equal(t, "s1", call.Headers["x-proxy-session"])
	assert.Equal(t, "navigate", call.Headers["sec-fetch-mode"])
}

func TestHandleStripsSetCookieAndPseudoStatus(t *testing.T) {
	res := okResult()
	res.Header.Add("Set-Cookie", "id=42; Path=/")
	res.Header.Add("Set-Cookie", "theme=dark; Path=/")
	res.Header[":status"] = []string{"200"}
	doer := &fakeDoer{res: res}
	req := browsertest.NewRequest("https://example.com/page")
	req.Store.Add(&http.Cookie{Name: "keep", Value: "1", Domain: "example.com", Path: "/"})

	require.NoError(t, newReplayer(DefaultOptions(), doer, nil).Handle(context.Background(), req, "http://localhost:8080", nil))

	resp := req.Response()
	assert.NotContains(t, resp.Headers, "set-cookie")
	assert.NotContains(t, resp.Headers, ":status")
	for _, v := range resp.Headers {
		assert.NotEqual(t, "undefined", v)
	}

	got := map[string]string{}
	for _, c := range req.Store.All() {
		got[c.Name] = c.Value
		assert.Equal(t, "example.com", c.Domain)
	}
	assert.Equal(t, map[string]string{"keep": "1", "id": "42", "theme": "dark"}, got)
}

func TestHandleProxyConfigurationErrorSurfaces(t *testing.T) {
	req := browsertest.NewRequest("http://example.com/")
	doer := &fakeDoer{res: okResult()}

	err := newReplayer(DefaultOptions(), doer, nil).Handle(context.Background(), req, "not a proxy", nil)
	assert.ErrorIs(t, err, agent.ErrProxyConfiguration)
	assert.Equal(t, browsertest.ActionNone, req.Action())
	assert.Empty(t, doer.calls)
}

func TestHandleCustomResolverTakesPrecedence(t *testing.T) {
	var got string
	opts := DefaultOptions()
	opts.AgentResolver = func(p string) (*agent.Pair, error) {
		got = p
		return &agent.Pair{}, nil
	}
	doer := &fakeDoer{res: okResult()}

	require.NoError(t, newReplayer(opts, doer, nil).Handle(context.Background(), browsertest.NewRequest("http://example.com/"), "custom://anything", nil))
	assert.Equal(t, "custom://anything", got)
	assert.Nil(t, doer.calls[0].Agents.HTTP)

	opts.AgentResolver = func(string) (*agent.Pair, error) { return nil, errors.New("no pool") }
	err := newReplayer(opts, doer, nil).Handle(context.Background(), browsertest.NewRequest("http://example.com/"), "custom://anything", nil)
	assert.ErrorIs(t, err, agent.ErrProxyConfiguration)
}

func TestToResponseKeepsOtherHeaders(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=1")
	h.Set("Cache-Control", "no-store")
	resp := ToResponse(&client.Result{StatusCode: 302, Header: h})
	assert.Equal(t, traffic.Header{"cache-control": "no-store"}, resp.Headers)
	assert.Equal(t, 302, resp.StatusCode)
}

func TestHandleFulfillsEncodedBodyVerbatim(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("<h1>hello</h1>"))
	require.NoError(t, zw.Close())
	compressed := buf.Bytes()

	// 同一个服务既是代理也是源站
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(len(compressed)))
		_, _ = w.Write(compressed)
	}))
	defer srv.Close()

	req := browsertest.NewRequest("http://example.com/")
	require.NoError(t, New(DefaultOptions()).Handle(context.Background(), req, srv.URL, nil))

	require.Equal(t, browsertest.ActionFulfill, req.Action())
	resp := req.Response()
	assert.Equal(t, "gzip", resp.Headers["content-encoding"])
	assert.Equal(t, strconv.Itoa(len(resp.Body)), resp.Headers["content-length"])
	assert.Equal(t, compressed, resp.Body)

	zr, err := gzip.NewReader(bytes.NewReader(resp.Body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "<h1>hello</h1>", string(plain))
}
