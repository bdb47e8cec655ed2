package moderation

import (
	"testing"
	"time"
)

func TestNewFilter(t *testing.T) {
	f := NewFilter()
	if f == nil {
		t.Fatal("NewFilter returned nil")
	}
	if len(f.terms) == 0 {
		t.Fatal("NewFilter created an empty filter")
	}
}

func TestCheck_BannedTerms(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "kill yourself"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"exact match", "badword", true, "badword"},
		{"in sentence", "this is badword here", true, "badword"},
		{"case insensitive", "BADWORD", true, "badword"},
		{"mixed case", "BaDwOrD", true, "badword"},
		{"phrase in sentence", "you should kill yourself now", true, "kill yourself"},
		{"case insensitive phrase", "KILL YOURSELF", true, "kill yourself"},
		{"clean message", "hello world", false, ""},
		{"words separated", "kill and yourself", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Errorf("Check(%q).Blocked = %v, want %v", tt.input, result.Blocked, tt.blocked)
			}
			if tt.blocked && result.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, tt.term)
			}
			if tt.blocked && result.Reason != "banned_term" {
				t.Errorf("Check(%q).Reason = %q, want %q", tt.input, result.Reason, "banned_term")
			}
		})
	}
}

func TestCheck_CleanMessages(t *testing.T) {
	f := NewFilter()

	messages := []string{
		"hello, how are you?",
		"nice weather today",
		"what are your hobbies?",
		"I love programming",
		"do you like music?",
		"let's talk about movies",
		"",
	}

	for _, msg := range messages {
		result := f.Check(msg)
		if result.Blocked {
			t.Errorf("Check(%q) was blocked (term=%q), expected clean", msg, result.Term)
		}
	}
}

func TestNewFilterWithTerms_EmptyAndWhitespace(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "Valid"})

	if len(f.terms) != 1 {
		t.Fatalf("expected 1 term, got %d", len(f.terms))
	}
	if f.terms[0] != "valid" {
		t.Errorf("expected lowercased term %q, got %q", "valid", f.terms[0])
	}
}

// TestPerformance verifies the filter stays well under a millisecond per
// message; the relay runs it inline on the chat path.
func TestPerformance(t *testing.T) {
	f := NewFilter()
	msg := "hey how are you doing today? I love chatting about music and movies."

	const iterations = 1000
	start := time.Now()
	for i := 0; i < iterations; i++ {
		f.Check(msg)
	}
	avgNs := time.Since(start).Nanoseconds() / int64(iterations)

	if avgNs > 1_000_000 {
		t.Errorf("Check latency %d ns exceeds 1ms limit", avgNs)
	}
}

func BenchmarkCheck(b *testing.B) {
	f := NewFilter()
	msg := "hey how are you doing today? I love chatting about music and movies."

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}
