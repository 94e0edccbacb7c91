package binder

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/client"
	"cdpproxy/internal/replay"
	"cdpproxy/pkg/browser/browsertest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingDoer struct {
	mu      sync.Mutex
	proxies []string
}

func (d *recordingDoer) Do(_ context.Context, call *client.Call) (*client.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proxies = append(d.proxies, call.Agents.HTTP.URL.String())
	return &client.Result{StatusCode: http.StatusOK, Header: http.Header{}}, nil
}

func waitDone(t *testing.T, req *browsertest.Request) {
	t.Helper()
	select {
	case <-req.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request not handled")
	}
}

func TestBindProxyReplacesListener(t *testing.T) {
	page := browsertest.NewPage(context.Background())
	defer page.Close()
	doer := &recordingDoer{}
	r := replay.New(replay.DefaultOptions(), replay.WithClient(doer))

	require.NoError(t, BindProxy(context.Background(), page, r, "http://proxy-a:8080"))
	require.NoError(t, BindProxy(context.Background(), page, r, "http://proxy-b:8080"))

	assert.True(t, page.Intercepting())
	assert.Equal(t, []string{ListenerName}, page.Listeners().Names())

	req := browsertest.NewRequest("http://example.com/")
	require.NoError(t, page.Listeners().Emit(req))
	waitDone(t, req)

	assert.Equal(t, browsertest.ActionFulfill, req.Action())
	assert.Equal(t, []string{"http://proxy-b:8080"}, doer.proxies)
}

func TestBindProxyEmptyDisablesInterception(t *testing.T) {
	page := browsertest.NewPage(context.Background())
	defer page.Close()
	r := replay.New(replay.DefaultOptions(), replay.WithClient(&recordingDoer{}))

	require.NoError(t, BindProxy(context.Background(), page, r, "http://proxy-a:8080"))
	require.NoError(t, BindProxy(context.Background(), page, r, ""))

	assert.False(t, page.Intercepting())
	assert.False(t, Bound(page))
	assert.Zero(t, page.Listeners().Len())

	require.NoError(t, BindProxy(context.Background(), page, r, "socks5://127.0.0.1:1080"))
	assert.True(t, page.Intercepting())
	assert.Equal(t, 1, page.Listeners().Len())
}

func TestBindProxyRejectsMalformedProxy(t *testing.T) {
	page := browsertest.NewPage(context.Background())
	defer page.Close()
	r := replay.New(replay.DefaultOptions())

	err := BindProxy(context.Background(), page, r, "::bad::")
	assert.ErrorIs(t, err, agent.ErrProxyConfiguration)
	assert.False(t, page.Intercepting())
	assert.False(t, Bound(page))
}
