package moderation

import "testing"

func TestCheck_URLSpam(t *testing.T) {
	f := NewFilter()

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"http url", "check out http://spam.example/deal", true},
		{"https url", "visit https://totally.legit.site now", true},
		{"www url", "go to www.freestuff.example today", true},
		{"bare domain with path", "see spamsite.com/offer for more", true},
		{"version string", "we shipped v2.0 yesterday", false},
		{"decimal number", "pi is about 3.14 right", false},
		{"plain text", "no links here, promise", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Errorf("Check(%q).Blocked = %v, want %v (term=%q)",
					tt.input, result.Blocked, tt.blocked, result.Term)
			}
			if tt.blocked && result.Term != "url" {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, "url")
			}
		})
	}
}

func TestCheck_PhoneSpam(t *testing.T) {
	f := NewFilter()

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"dashed", "call me at 555-123-4567 ok", true},
		{"dotted", "text 555.123.4567 anytime", true},
		{"international", "reach me on +1-555-123-4567 please", true},
		{"short number", "I scored 100 points", false},
		{"year", "born in 1995 actually", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Errorf("Check(%q).Blocked = %v, want %v (term=%q)",
					tt.input, result.Blocked, tt.blocked, result.Term)
			}
		})
	}
}

func TestHasCharFlood(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"aaaaa", true},
		{"hellooooo there", true},
		{"aaaa", false},
		{"normal text", false},
		{"", false},
		{"ababababab", false},
	}

	for _, tt := range tests {
		if got := hasCharFlood(tt.input); got != tt.want {
			t.Errorf("hasCharFlood(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestHasWordFlood(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"buy buy buy", true},
		{"BUY buy Buy now", true},
		{"buy buy now", false},
		{"buy now buy now buy", false},
		{"hello", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := hasWordFlood(tt.input); got != tt.want {
			t.Errorf("hasWordFlood(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCheck_SpamReason(t *testing.T) {
	f := NewFilter()

	result := f.Check("spam spam spam")
	if !result.Blocked {
		t.Fatal("expected word flood to be blocked")
	}
	if result.Reason != "spam_pattern" {
		t.Errorf("Reason = %q, want %q", result.Reason, "spam_pattern")
	}
	if result.Term != "word_flood" {
		t.Errorf("Term = %q, want %q", result.Term, "word_flood")
	}
}
