package traffic

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	h := Header{}
	h.Set("Content-Type", "text/html")

	assert.Equal(t, "text/html", h.Get("content-type"))
	assert.True(t, h.Has("CONTENT-TYPE"))

	h.Del("Content-TYPE")
	assert.Empty(t, h)
}

func TestFromHTTPJoinsValues(t *testing.T) {
	src := http.Header{}
	src.Add("Vary", "Accept")
	src.Add("Vary", "Origin")
	src.Set("X-Test", "1")

	h := FromHTTP(src)
	assert.Equal(t, "Accept, Origin", h["vary"])
	assert.Equal(t, "1", h["x-test"])
}

func TestCloneNormalizesKeys(t *testing.T) {
	h := Header{"Host": "a"}
	c := h.Clone()
	assert.Equal(t, "a", c["host"])
	c["host"] = "b"
	assert.Equal(t, "a", h["Host"])
}

func TestOverridesIsEmpty(t *testing.T) {
	var nilOv *Overrides
	assert.True(t, nilOv.IsEmpty())
	assert.True(t, (&Overrides{}).IsEmpty())
	assert.False(t, (&Overrides{Method: String("POST")}).IsEmpty())
	assert.False(t, (&Overrides{Headers: Header{"a": "b"}}).IsEmpty())
}
