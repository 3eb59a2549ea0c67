package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderHighlightWrapsDelimitedSpans(t *testing.T) {
	in := "deploy " + highlightStart + "failed" + highlightEnd + " again"
	out := renderHighlight(in, func(a ...any) string { return "<<" + a[0].(string) + ">>" })
	assert.Equal(t, "deploy <<failed>> again", out)
}

func TestRenderHighlightWithNoDelimitersIsUnchanged(t *testing.T) {
	out := renderHighlight("plain text", func(a ...any) string { return "X" })
	assert.Equal(t, "plain text", out)
}

func TestRenderHighlightWithMultipleSpans(t *testing.T) {
	in := highlightStart + "a" + highlightEnd + " and " + highlightStart + "b" + highlightEnd
	out := renderHighlight(in, func(a ...any) string { return "[" + a[0].(string) + "]" })
	assert.Equal(t, "[a] and [b]", out)
}

func TestRenderHighlightWithUnterminatedSpanPassesThrough(t *testing.T) {
	in := "broken " + highlightStart + "span"
	out := renderHighlight(in, func(a ...any) string { return "X" })
	assert.Equal(t, in, out, "a start delimiter with no matching end is left untouched")
}
