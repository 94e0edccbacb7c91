package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	body   string
	err    error
	script string
}

func (f *fakeEvaluator) Evaluate(_ context.Context, expression string) (string, error) {
	f.script = expression
	return f.body, f.err
}

func TestLookupDefaults(t *testing.T) {
	ev := &fakeEvaluator{body: `{"ip":"203.0.113.7"}`}

	res, err := Lookup(context.Background(), ev, Options{})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", res.IP())
	assert.Contains(t, ev.script, `"https://api64.ipify.org?format=json"`)
	assert.Contains(t, ev.script, "30000")
}

func TestLookupText(t *testing.T) {
	ev := &fakeEvaluator{body: "198.51.100.1\n"}

	res, err := Lookup(context.Background(), ev, Options{Service: "https://api.ipify.org", Text: true, Timeout: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", res.IP())
	assert.False(t, res.JSON.Exists())
	assert.Contains(t, ev.script, "1500")
}

func TestLookupInvalidJSON(t *testing.T) {
	_, err := Lookup(context.Background(), &fakeEvaluator{body: "<html>"}, Options{})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestLookupEvaluateError(t *testing.T) {
	boom := errors.New("net::ERR_PROXY_CONNECTION_FAILED")
	_, err := Lookup(context.Background(), &fakeEvaluator{err: boom}, Options{})
	assert.ErrorIs(t, err, boom)
}

func TestScriptQuotesService(t *testing.T) {
	s, err := Script(Options{Service: `https://x.test/?q="a"`})
	require.NoError(t, err)
	assert.Contains(t, s, `"https://x.test/?q=\"a\""`)
}
