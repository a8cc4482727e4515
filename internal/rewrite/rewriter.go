// Package rewrite adjusts reply tone without touching factual content.
// Rewritten text is always re-verified by the caller; a rewriter that
// drops or invents claims causes the turn to fall back to the unrewritten
// draft.
package rewrite

import (
	"context"
	"strings"
)

// Rewriter rephrases a grounded draft in the tenant's voice. The returned
// text must carry exactly the same claims as the input.
type Rewriter interface {
	Rewrite(ctx context.Context, text, toneProfile string) (string, error)
}

// ToneRewriter is a deterministic rewriter: it normalizes spacing, caps
// run-on drafts at a handful of sentences, and appends a call-to-action.
// It never alters any sentence containing a fact, so re-verification
// cannot fail on its output.
type ToneRewriter struct {
	// MaxSentences bounds the rewritten reply; 0 means no cap.
	MaxSentences int
	// CTA is appended when the reply does not already end with a question.
	CTA string
}

// NewToneRewriter returns the stock deterministic rewriter.
func NewToneRewriter() *ToneRewriter {
	return &ToneRewriter{
		MaxSentences: 4,
		CTA:          "Anything else you'd like to check?",
	}
}

// Rewrite applies whitespace cleanup, the sentence cap, and the CTA.
func (r *ToneRewriter) Rewrite(_ context.Context, text, toneProfile string) (string, error) {
	out := strings.Join(strings.Fields(text), " ")
	if out == "" {
		return "", nil
	}

	if r.MaxSentences > 0 {
		sentences := SplitSentences(out)
		if len(sentences) > r.MaxSentences {
			out = strings.Join(sentences[:r.MaxSentences], " ")
		}
	}

	switch toneProfile {
	case "warm":
		if !strings.HasSuffix(out, "!") && !strings.HasSuffix(out, "?") {
			out = strings.TrimSuffix(out, ".") + "."
		}
	}

	if r.CTA != "" && !strings.HasSuffix(out, "?") {
		out = out + " " + r.CTA
	}
	return out, nil
}

// SplitSentences breaks text on terminal punctuation followed by a
// space, keeping the punctuation with each sentence. Decimal points and
// trailing punctuation stay attached.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && runes[i+1] == ' ' {
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
