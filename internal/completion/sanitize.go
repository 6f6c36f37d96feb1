package completion

import (
	"regexp"
	"strings"
)

// filter is one step of the output cleanup pipeline. Steps run in order and
// each must leave text untouched when its precondition doesn't hold.
type filter struct {
	name  string
	apply func(string) string
}

var (
	channelBlockRe  = regexp.MustCompile(`(?s)<\|channel\|>analysis<\|message\|>.*?<\|channel\|>final<\|message\|>`)
	controlMarkerRe = regexp.MustCompile(`<\|.*?\|>`)
)

const (
	analysisPrefix = "analysis"
	finalMarker    = "assistantfinal"
)

var filters = []filter{
	// Precondition: the (left-trimmed) text opens with a bare "analysis"
	// header, as harmony-format models emit when the chat template is not
	// applied. Everything up to and including "assistantfinal" is reasoning.
	{name: "analysis-preamble", apply: stripAnalysisPreamble},

	// Precondition: the text still carries channel markup, i.e. a
	// <|channel|>analysis<|message|> block closed by a final channel header.
	{name: "channel-blocks", apply: func(s string) string {
		return channelBlockRe.ReplaceAllString(s, "")
	}},

	// Precondition: none. Drops any leftover <|...|> control tokens.
	{name: "control-markers", apply: func(s string) string {
		return controlMarkerRe.ReplaceAllString(s, "")
	}},
}

// Sanitize strips provider meta-markup from raw completion text.
func Sanitize(text string) string {
	for _, f := range filters {
		text = f.apply(text)
	}
	return strings.TrimSpace(text)
}

func stripAnalysisPreamble(s string) string {
	ts := strings.TrimLeft(s, " \t\r\n")
	low := strings.ToLower(ts)
	if !strings.HasPrefix(low, analysisPrefix) {
		return s
	}
	if len(low) != len(ts) {
		// ToLower changed byte widths; offsets into low no longer map onto ts.
		low = ts
	}
	if idx := strings.Index(low, finalMarker); idx != -1 {
		return ts[idx+len(finalMarker):]
	}
	return ts
}
