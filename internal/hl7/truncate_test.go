package hl7

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	cfg := TruncationConfig{
		DefaultLength: 20,
		FieldLengths:  map[string]int{"PID-5": 8},
	}

	t.Run("under the limit is a no-op", func(t *testing.T) {
		if got := cfg.Truncate("ORC-21", "short"); got != "short" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("exactly the limit is a no-op", func(t *testing.T) {
		in := strings.Repeat("x", 20)
		if got := cfg.Truncate("ORC-21", in); got != in {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("field override beats the default", func(t *testing.T) {
		if got := cfg.Truncate("PID-5", "Wolfeschlegelstein"); got != "Wolfesch" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("cut lands on the configured length", func(t *testing.T) {
		got := cfg.Truncate("ORC-21", strings.Repeat("y", 50))
		if utf8.RuneCountInString(got) != 20 {
			t.Fatalf("len = %d, want 20", utf8.RuneCountInString(got))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		in := strings.Repeat("abc^", 30)
		first := cfg.Truncate("ORC-21", in)
		for i := 0; i < 5; i++ {
			if got := cfg.Truncate("ORC-21", in); got != first {
				t.Fatalf("run %d got %q, want %q", i, got, first)
			}
		}
	})

	t.Run("multi-byte runes never split", func(t *testing.T) {
		in := strings.Repeat("ß", 30)
		got := cfg.Truncate("ORC-21", in)
		if !utf8.ValidString(got) {
			t.Fatalf("invalid UTF-8 in %q", got)
		}
		if utf8.RuneCountInString(got) != 20 {
			t.Fatalf("len = %d, want 20", utf8.RuneCountInString(got))
		}
	})

	t.Run("no config means no truncation", func(t *testing.T) {
		none := TruncationConfig{}
		in := strings.Repeat("z", 500)
		if got := none.Truncate("ORC-21", in); got != in {
			t.Fatalf("value was truncated without config")
		}
	})
}

func TestLimitAccountsForEscapedDelimiters(t *testing.T) {
	cfg := TruncationConfig{DefaultLength: 10}

	// Each delimiter in the kept prefix grows to a three-character escape
	// sequence on the wire, so the limit shrinks by two per match.
	if got := cfg.Limit("ORC-21", "a&b^c~d|efghij"); got != 2 {
		t.Fatalf("limit = %d, want 2", got)
	}
	if got := cfg.Limit("ORC-21", "plaintext!"); got != 10 {
		t.Fatalf("limit = %d, want 10", got)
	}
	if got := cfg.Limit("ORC-21", "delimiters past the limit &&&&"); got != 10 {
		t.Fatalf("limit = %d, want 10", got)
	}

	// The escape character itself is encoded as \E\ on the wire.
	if got := cfg.Limit("ORC-21", `a\b\cdefgh`); got != 6 {
		t.Fatalf("limit = %d, want 6", got)
	}

	// The kept prefix is measured in runes. Byte indexing would miss the
	// ampersand hiding past the multi-byte characters.
	narrow := TruncationConfig{DefaultLength: 4}
	if got := narrow.Limit("ORC-21", "ßß&x"); got != 2 {
		t.Fatalf("limit = %d, want 2", got)
	}
}
