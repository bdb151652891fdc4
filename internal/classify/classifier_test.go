package classify

import (
	"testing"

	"github.com/agentic-research/logreduce/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_FanOut(t *testing.T) {
	c, err := New([]string{"ERROR"}, nil, false)
	require.NoError(t, err)

	events := c.Classify("1.2.3.4 ERROR occurred\n")
	assert.Equal(t, []Event{
		{Kind: KindIP, Key: "1.2.3.4"},
		{Kind: KindKeyword, Key: "ERROR"},
	}, events)
}

func TestClassify_NoMatch(t *testing.T) {
	c, err := New([]string{"ERROR"}, nil, false)
	require.NoError(t, err)
	assert.Nil(t, c.Classify("all quiet\n"))
}

func TestClassify_FirstMatchPerPattern(t *testing.T) {
	c, err := New(nil, nil, false)
	require.NoError(t, err)

	events := c.Classify("from 1.1.1.1 to 2.2.2.2\n")
	require.Len(t, events, 1)
	assert.Equal(t, "1.1.1.1", events[0].Key)
}

func TestClassify_SkipReserved(t *testing.T) {
	c, err := New(nil, nil, true)
	require.NoError(t, err)

	assert.Empty(t, c.Classify("client 192.168.1.1 connected\n"))
	assert.Equal(t, []Event{{Kind: KindIP, Key: "8.8.8.8"}}, c.Classify("dns 8.8.8.8\n"))
	assert.Equal(t, int64(1), c.Suppressed())
}

func TestClassify_SkipReservedKeepsUnparsable(t *testing.T) {
	c, err := New(nil, nil, true)
	require.NoError(t, err)

	// The default shape is lenient; an invalid quad is still reported.
	events := c.Classify("bogus 999.999.999.999\n")
	assert.Equal(t, []Event{{Kind: KindIP, Key: "999.999.999.999"}}, events)
}

func TestClassify_MultiPatternDuplication(t *testing.T) {
	c, err := New(nil, []string{`10\.0\.0\.1`, `10\.0\.0\.\d+`}, false)
	require.NoError(t, err)

	events := c.Classify("peer 10.0.0.1 reset\n")
	assert.Equal(t, []Event{
		{Kind: KindIP, Key: "10.0.0.1"},
		{Kind: KindIP, Key: "10.0.0.1"},
	}, events)
}

func TestClassify_ExplicitPatternsReplaceDefault(t *testing.T) {
	c, err := New(nil, []string{`8\.8\.\d+\.\d+`}, false)
	require.NoError(t, err)

	assert.Empty(t, c.Classify("1.2.3.4\n"))
	assert.Equal(t, []string{`8\.8\.\d+\.\d+`}, c.IPPatterns())
}

func TestClassify_KeywordIsRegex(t *testing.T) {
	c, err := New([]string{`fail(ed|ure)`, "timeout"}, []string{`^$`}, false)
	require.NoError(t, err)

	events := c.Classify("login failed after timeout\n")
	assert.Equal(t, []Event{
		{Kind: KindKeyword, Key: `fail(ed|ure)`},
		{Kind: KindKeyword, Key: "timeout"},
	}, events)
}

func TestClassifyInto_ReusesBuffer(t *testing.T) {
	c, err := New([]string{"a"}, nil, false)
	require.NoError(t, err)

	buf := make([]Event, 0, 4)
	buf = c.ClassifyInto(buf[:0], "a 1.2.3.4")
	assert.Len(t, buf, 2)
	buf = c.ClassifyInto(buf[:0], "a")
	assert.Equal(t, []Event{{Kind: KindKeyword, Key: "a"}}, buf)
}

func TestNew_BadPattern(t *testing.T) {
	_, err := New([]string{"ok", "(unclosed"}, nil, false)
	require.Error(t, err)

	var pe *PatternError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindKeyword, pe.Kind)
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, "(unclosed", pe.Pattern)

	_, err = New(nil, []string{"[z-a]"}, false)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindIP, pe.Kind)
}

func TestNewMatcher_DefaultIsBuiltin(t *testing.T) {
	m, err := NewMatcher(api.DefaultIPPattern)
	require.NoError(t, err)
	_, ok := m.(ipv4Matcher)
	assert.True(t, ok)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ip", KindIP.String())
	assert.Equal(t, "keyword", KindKeyword.String())
	assert.Equal(t, "by_ip", KindIP.Dir())
	assert.Equal(t, "by_keyword", KindKeyword.Dir())
	assert.Equal(t, "ip_global.txt", KindIP.GlobalFile())
	assert.Equal(t, "keyword_global.txt", KindKeyword.GlobalFile())
}
