// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cookies reads and writes Netscape-format cookie files: one
// cookie per line, seven tab-separated fields, # lines as comments. This
// is the format browser extensions export, so paywalled sites can be
// captured with the user's session.
package cookies

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Cookie is one line of a Netscape cookie file. A leading dot on the
// domain is kept verbatim; browsers treat it as the subdomain marker.
type Cookie struct {
	Domain            string
	IncludeSubdomains bool
	Path              string
	Secure            bool
	Expires           int64 // unix seconds, 0 for session cookies
	Name              string
	Value             string
}

const fileHeader = "# Netscape HTTP Cookie File"

// Parse reads cookie lines leniently: comments, blank lines, and lines
// with fewer than seven fields are skipped, unparseable expiries become
// session cookies. Runtime loads must tolerate hand-edited files.
func Parse(data []byte) []Cookie {
	var out []Cookie
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if isSkippable(line) {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			expires = 0
		}
		out = append(out, Cookie{
			Domain:            fields[0],
			IncludeSubdomains: strings.EqualFold(fields[1], "TRUE"),
			Path:              fields[2],
			Secure:            strings.EqualFold(fields[3], "TRUE"),
			Expires:           expires,
			Name:              fields[5],
			Value:             strings.Join(fields[6:], "\t"),
		})
	}
	return out
}

// Serialize renders cookies back into the file format, header included.
func Serialize(cookies []Cookie) []byte {
	var buf bytes.Buffer
	buf.WriteString(fileHeader + "\n")
	for _, c := range cookies {
		fmt.Fprintf(&buf, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain, flag(c.IncludeSubdomains), c.Path, flag(c.Secure), c.Expires, c.Name, c.Value)
	}
	return buf.Bytes()
}

func flag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// Validate enforces the upload contract: at least one cookie line, and
// every non-comment line must carry at least seven tab-separated fields.
// Uploads replace the whole file, so a single truncated line rejects the
// upload rather than silently dropping cookies.
func Validate(data []byte) error {
	lines := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if isSkippable(line) {
			continue
		}
		if got := len(strings.Split(line, "\t")); got < 7 {
			return fmt.Errorf("line %d: %d fields, want at least 7 tab-separated", n, got)
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if lines == 0 {
		return fmt.Errorf("no cookie lines found")
	}
	return nil
}

func isSkippable(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}
