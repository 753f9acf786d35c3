// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package urlx

import (
	"strings"
	"testing"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips www",
			in:   "https://www.example.com/article",
			want: "https://example.com/article",
		},
		{
			name: "lowercases host",
			in:   "https://EXAMPLE.com/Article",
			want: "https://example.com/Article",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/post#section-2",
			want: "https://example.com/post",
		},
		{
			name: "strips text fragment",
			in:   "https://example.com/post#:~:text=quoted%20passage",
			want: "https://example.com/post",
		},
		{
			name: "removes trailing slash",
			in:   "https://example.com/blog/",
			want: "https://example.com/blog",
		},
		{
			name: "removes lone slash path",
			in:   "https://example.com/",
			want: "https://example.com",
		},
		{
			name: "sorts query parameters",
			in:   "https://example.com/p?z=1&a=2&m=3",
			want: "https://example.com/p?a=2&m=3&z=1",
		},
		{
			name: "deletes utm family",
			in:   "https://example.com/p?utm_source=rss&utm_medium=feed&utm_campaign=x&id=7",
			want: "https://example.com/p?id=7",
		},
		{
			name: "utm match is case-insensitive",
			in:   "https://example.com/p?UTM_Source=rss&id=7",
			want: "https://example.com/p?id=7",
		},
		{
			name: "deletes named tracking params",
			in:   "https://example.com/p?ref=hn&source=tw&fbclid=a&gclid=b&msclkid=c&keep=1",
			want: "https://example.com/p?keep=1",
		},
		{
			name: "drops default https port",
			in:   "https://example.com:443/p",
			want: "https://example.com/p",
		},
		{
			name: "keeps explicit non-default port",
			in:   "https://example.com:8443/p",
			want: "https://example.com:8443/p",
		},
		{
			name: "empty query after stripping",
			in:   "https://example.com/p?utm_source=rss",
			want: "https://example.com/p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.in)
			if err != nil {
				t.Fatalf("Canonical(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
			}

			again, err := Canonical(got)
			if err != nil {
				t.Fatalf("Canonical(%q) second pass: %v", got, err)
			}
			if again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestCanonicalWWWEquivalence(t *testing.T) {
	a, err := Canonical("https://www.example.com/story?id=1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Canonical("https://example.com/story?id=1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("www and bare host should canonicalize equal: %q vs %q", a, b)
	}
}

func TestCanonicalErrors(t *testing.T) {
	for _, in := range []string{"", "not a url", "/relative/path", "://missing-scheme"} {
		if _, err := Canonical(in); err == nil {
			t.Errorf("Canonical(%q): expected error", in)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("https://www.example.com/story")
	b := Fingerprint("https://example.com/story/")
	if a != b {
		t.Errorf("equivalent URLs must share a fingerprint: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a))
	}
	if a == Fingerprint("https://example.com/other") {
		t.Error("distinct URLs should not collide")
	}
}

func TestJobID(t *testing.T) {
	got := JobID("https://example.com/a/b?x=1")
	if strings.ContainsAny(got, ":/?=") {
		t.Errorf("JobID contains unsafe characters: %q", got)
	}
	if got != "https-example-com-a-b-x-1" {
		t.Errorf("JobID = %q", got)
	}
	if JobID("https://a.com/x") == JobID("https://a.com/y") {
		t.Error("distinct URLs should yield distinct ids")
	}
}
