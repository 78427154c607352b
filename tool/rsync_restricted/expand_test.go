package rsync_restricted

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExpandOperand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"no braces", "reports/a.log", []string{"reports/a.log"}},
		{"alternatives", "a{b,c}d", []string{"abd", "acd"}},
		{"numeric sequence", "day{1..3}", []string{"day1", "day2", "day3"}},
		{"padded sequence", "{01..03}", []string{"01", "02", "03"}},
		{"letter sequence", "{a..c}", []string{"a", "b", "c"}},
		{"nested", "{x,y{1,2}}", []string{"x", "y1", "y2"}},
		{"unbalanced left alone", "a{b", []string{"a{b"}},
		{"single element left alone", "a{b}", []string{"a{b}"}},
		{"escaped braces not expanded", `a\{b,c\}`, []string{"a{b,c}"}},
		{"escaped dot keeps expansion", `a\.b{1,2}`, []string{"a.b1", "a.b2"}},
		{"escaped dots are no sequence", `{1\.\.3}`, []string{"{1..3}"}},
		{"escapes removed after expansion", `my\ dir/{a,b}`, []string{"my dir/a", "my dir/b"}},
		{"escaped space only", `my\ file`, []string{"my file"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandOperand(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("expansion mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExpandOperand_TooMany(t *testing.T) {
	tests := []string{
		"{1..5000}",
		"{1..100}{1..100}",
		"{1..99999999999}",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := expandOperand(raw)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "too many arguments") {
				t.Fatalf("expected too many arguments error, got %q", err.Error())
			}
		})
	}
}

func TestExpandOperand_AtLimit(t *testing.T) {
	got, err := expandOperand("{1..4096}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != maxBraceWords {
		t.Fatalf("expected %d words, got %d", maxBraceWords, len(got))
	}
}

func TestHasGlobMeta(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"*.log", true},
		{"file?.txt", true},
		{"[ab].txt", true},
		{"plain.txt", false},
		{`escaped\*`, false},
	}
	for _, tt := range tests {
		if got := hasGlobMeta(tt.input); got != tt.want {
			t.Errorf("hasGlobMeta(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
