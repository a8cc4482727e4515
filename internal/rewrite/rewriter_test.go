package rewrite

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestRewriteKeepsFactValuesVerbatim(t *testing.T) {
	r := NewToneRewriter()

	in := "Chicken Wings 1kg is £4.50 and currently in stock."
	out, err := r.Rewrite(context.Background(), in, "warm")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(out, "£4.50") || !strings.Contains(out, "in stock") {
		t.Errorf("rewrite lost fact values: %q", out)
	}
	if !strings.HasSuffix(out, "Anything else you'd like to check?") {
		t.Errorf("missing CTA: %q", out)
	}
}

func TestRewriteCollapsesWhitespace(t *testing.T) {
	r := NewToneRewriter()

	out, err := r.Rewrite(context.Background(), "  Delivery to E1   is £2.50.  ", "warm")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if strings.Contains(out, "  ") {
		t.Errorf("double spaces survived: %q", out)
	}
}

func TestRewriteCapsSentences(t *testing.T) {
	r := &ToneRewriter{MaxSentences: 2}

	out, err := r.Rewrite(context.Background(), "One. Two. Three. Four.", "")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if out != "One. Two." {
		t.Errorf("capped output = %q, want %q", out, "One. Two.")
	}
}

func TestRewriteSkipsCTAAfterQuestion(t *testing.T) {
	r := NewToneRewriter()

	out, err := r.Rewrite(context.Background(), "What's your postcode?", "warm")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if strings.Count(out, "?") != 1 {
		t.Errorf("CTA stacked onto a question: %q", out)
	}
}

func TestRewriteEmptyInput(t *testing.T) {
	r := NewToneRewriter()

	out, err := r.Rewrite(context.Background(), "   ", "warm")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if out != "" {
		t.Errorf("blank input produced %q", out)
	}
}

func TestSplitSentencesDecimalSafe(t *testing.T) {
	got := SplitSentences("Wings are £4.50 each. Delivery is £2.50 to E1.")
	want := []string{"Wings are £4.50 each.", "Delivery is £2.50 to E1."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitSentences = %q, want %q", got, want)
	}
}
