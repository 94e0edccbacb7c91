package browser_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/browser/browsertest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestListenersSetReplacesByName(t *testing.T) {
	l := browser.NewListeners(context.Background(), browser.ListenersOptions{})
	defer l.Close()

	noop := func(context.Context, browser.Request) error { return nil }
	assert.False(t, l.Set("a", noop))
	assert.True(t, l.Set("a", noop))
	l.Set("b", noop)

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"a", "b"}, l.Names())

	assert.True(t, l.Remove("a"))
	assert.False(t, l.Remove("a"))
	_, ok := l.Get("b")
	assert.True(t, ok)
}

func TestListenersEmitWithoutListener(t *testing.T) {
	l := browser.NewListeners(context.Background(), browser.ListenersOptions{})
	defer l.Close()

	err := l.Emit(browsertest.NewRequest("http://example.com/"))
	assert.ErrorIs(t, err, browser.ErrNoListener)
}

func TestListenersEmitReportsErrors(t *testing.T) {
	var reported atomic.Int32
	l := browser.NewListeners(context.Background(), browser.ListenersOptions{
		OnError: func(browser.Request, error) { reported.Add(1) },
	})

	l.Set("fail", func(context.Context, browser.Request) error { return errors.New("boom") })
	require.NoError(t, l.Emit(browsertest.NewRequest("http://example.com/")))
	require.NoError(t, l.Close())

	assert.EqualValues(t, 1, reported.Load())
}

func TestListenersCloseCancelsInFlight(t *testing.T) {
	l := browser.NewListeners(context.Background(), browser.ListenersOptions{Concurrency: 2})

	started := make(chan struct{})
	l.Set("slow", func(ctx context.Context, _ browser.Request) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, l.Emit(browsertest.NewRequest("http://example.com/")))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("listener did not start")
	}

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Emit(browsertest.NewRequest("http://example.com/")), browser.ErrClosed)
	assert.Zero(t, l.Len())
}
