// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cookies

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleFile = `# Netscape HTTP Cookie File
# This is a generated file! Do not edit.

.example.com	TRUE	/	TRUE	1767225600	session	abc123
news.ycombinator.com	FALSE	/	FALSE	0	user	pg
`

func TestParse(t *testing.T) {
	got := Parse([]byte(sampleFile))
	want := []Cookie{
		{
			Domain:            ".example.com",
			IncludeSubdomains: true,
			Path:              "/",
			Secure:            true,
			Expires:           1767225600,
			Name:              "session",
			Value:             "abc123",
		},
		{
			Domain: "news.ycombinator.com",
			Path:   "/",
			Name:   "user",
			Value:  "pg",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLenient(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Cookie
	}{
		{
			name: "short line skipped",
			line: "example.com\tTRUE\t/\tFALSE\t0\torphan",
			want: nil,
		},
		{
			name: "bad expiry becomes session cookie",
			line: "example.com\tFALSE\t/\tFALSE\tnever\tk\tv",
			want: []Cookie{{Domain: "example.com", Path: "/", Name: "k", Value: "v"}},
		},
		{
			name: "tab in value preserved",
			line: "example.com\tFALSE\t/\tFALSE\t0\tk\tv1\tv2",
			want: []Cookie{{Domain: "example.com", Path: "/", Name: "k", Value: "v1\tv2"}},
		},
		{
			name: "crlf line ending trimmed",
			line: "example.com\tFALSE\t/\tFALSE\t0\tk\tv\r",
			want: []Cookie{{Domain: "example.com", Path: "/", Name: "k", Value: "v"}},
		},
		{
			name: "lowercase flags accepted",
			line: "example.com\ttrue\t/\ttrue\t0\tk\tv",
			want: []Cookie{{Domain: "example.com", IncludeSubdomains: true, Path: "/", Secure: true, Name: "k", Value: "v"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse([]byte(tt.line + "\n"))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	cookies := []Cookie{
		{Domain: ".wsj.com", IncludeSubdomains: true, Path: "/", Secure: true, Expires: 1767225600, Name: "auth", Value: "t0ken=="},
		{Domain: "example.com", Path: "/articles", Name: "pref", Value: "dark"},
	}
	data := Serialize(cookies)
	if !strings.HasPrefix(string(data), fileHeader) {
		t.Errorf("serialized file missing header, got %q", string(data[:40]))
	}
	if diff := cmp.Diff(cookies, Parse(data)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid file",
			data: sampleFile,
		},
		{
			name:    "empty file",
			data:    "",
			wantErr: true,
		},
		{
			name:    "comments only",
			data:    "# Netscape HTTP Cookie File\n# nothing here\n",
			wantErr: true,
		},
		{
			name:    "blank lines only",
			data:    "\n\n  \n",
			wantErr: true,
		},
		{
			name:    "six fields rejected",
			data:    "example.com\tTRUE\t/\tFALSE\t0\tname\n",
			wantErr: true,
		},
		{
			name:    "one bad line rejects whole file",
			data:    sampleFile + "broken line\n",
			wantErr: true,
		},
		{
			name: "extra fields tolerated",
			data: "example.com\tFALSE\t/\tFALSE\t0\tk\tv\textra\n",
		},
		{
			name: "crlf endings",
			data: "example.com\tFALSE\t/\tFALSE\t0\tk\tv\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
