// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pdfmeta embeds and recovers document-information metadata on
// captured PDFs. The Subject field carries the original bookmark URL so a
// rerun can resubmit a file long after its queue record has been pruned.
package pdfmeta

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/ledongthuc/pdf"

	"github.com/ManuGH/papercast/internal/version"
)

// ErrNoSubject is returned when a PDF carries no Subject metadata.
var ErrNoSubject = errors.New("pdfmeta: no subject metadata")

// Info holds the document-information fields written into a capture.
type Info struct {
	Subject  string
	Producer string
	Title    string
}

// Producer returns the capture marker written into every generated PDF.
func Producer(now time.Time) string {
	return fmt.Sprintf("papercast %s (captured %s)", version.Version, now.UTC().Format(time.RFC3339))
}

var (
	reStartXref  = regexp.MustCompile(`startxref\s+(\d+)`)
	reRoot       = regexp.MustCompile(`/Root\s+(\d+)\s+(\d+)\s+R`)
	reSize       = regexp.MustCompile(`/Size\s+(\d+)`)
	reSubjectLit = regexp.MustCompile(`/Subject\s*\(((?:[^()\\]|\\.)*)\)`)
	reSubjectHex = regexp.MustCompile(`/Subject\s*<([0-9A-Fa-f\s]*)>`)
)

// Embed appends an incremental update carrying info to an existing PDF. The
// original bytes are untouched; a fresh document-information object, a
// cross-reference section for it, and a trailer chaining to the previous one
// are written after %%EOF. Readers resolve the newest trailer, so repeated
// embeds override earlier ones.
func Embed(doc []byte, info Info) ([]byte, error) {
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		return nil, errors.New("pdfmeta: not a PDF")
	}

	prev, err := lastInt(reStartXref, doc)
	if err != nil {
		return nil, fmt.Errorf("pdfmeta: startxref: %w", err)
	}
	size, err := lastInt(reSize, doc)
	if err != nil {
		return nil, fmt.Errorf("pdfmeta: trailer /Size: %w", err)
	}
	rootm := reRoot.FindAllSubmatch(doc, -1)
	if rootm == nil {
		return nil, errors.New("pdfmeta: trailer /Root not found")
	}
	root := rootm[len(rootm)-1]

	objNum := size
	var b strings.Builder
	b.WriteByte('\n')
	objOffset := len(doc) + b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n<<\n", objNum)
	writeInfoKey(&b, "Subject", info.Subject)
	writeInfoKey(&b, "Producer", info.Producer)
	writeInfoKey(&b, "Title", info.Title)
	b.WriteString(">>\nendobj\n")

	xrefOffset := len(doc) + b.Len()
	fmt.Fprintf(&b, "xref\n%d 1\n%010d 00000 n \n", objNum, objOffset)
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root %s %s R /Info %d 0 R /Prev %d >>\n",
		size+1, root[1], root[2], objNum, prev)
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	out := make([]byte, 0, len(doc)+b.Len())
	out = append(out, doc...)
	out = append(out, b.String()...)
	return out, nil
}

// ExtractSubject recovers the Subject metadata from a PDF on disk. It prefers
// a structural read of the trailer chain and falls back to a byte scan when
// the file is damaged enough that the reader gives up.
func ExtractSubject(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	if s, err := readerSubject(f, st.Size()); err == nil && s != "" {
		return s, nil
	}

	raw, err := io.ReadAll(io.NewSectionReader(f, 0, st.Size()))
	if err != nil {
		return "", err
	}
	return scanSubject(raw)
}

// readerSubject resolves Info.Subject through the pdf reader. The library
// panics on some malformed inputs, so the call is fenced.
func readerSubject(ra io.ReaderAt, size int64) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(ra, size)
	if err != nil {
		return "", err
	}
	subj := r.Trailer().Key("Info").Key("Subject")
	if subj.Kind() != pdf.String {
		return "", ErrNoSubject
	}
	if t := subj.Text(); t != "" {
		return t, nil
	}
	return subj.RawString(), nil
}

// scanSubject finds the last /Subject string in the raw bytes. Incremental
// updates append, so the final occurrence is the authoritative one.
func scanSubject(raw []byte) (string, error) {
	lit := reSubjectLit.FindAllSubmatchIndex(raw, -1)
	hex := reSubjectHex.FindAllSubmatchIndex(raw, -1)

	litPos, hexPos := -1, -1
	if len(lit) > 0 {
		litPos = lit[len(lit)-1][0]
	}
	if len(hex) > 0 {
		hexPos = hex[len(hex)-1][0]
	}
	switch {
	case litPos < 0 && hexPos < 0:
		return "", ErrNoSubject
	case litPos >= hexPos:
		m := lit[len(lit)-1]
		return decodeTextString(unescapeLiteral(raw[m[2]:m[3]])), nil
	default:
		m := hex[len(hex)-1]
		return decodeTextString(decodeHexString(raw[m[2]:m[3]])), nil
	}
}

// writeInfoKey emits one Info entry. ASCII values go out as escaped literal
// strings; anything else becomes a UTF-16BE hex string with BOM, which is the
// text-string form readers decode losslessly.
func writeInfoKey(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	if isASCII(value) {
		fmt.Fprintf(b, "/%s (%s)\n", key, escapeLiteral(value))
		return
	}
	cps := utf16.Encode([]rune(value))
	fmt.Fprintf(b, "/%s <FEFF", key)
	for _, c := range cps {
		fmt.Fprintf(b, "%04X", c)
	}
	b.WriteString(">\n")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func lastInt(re *regexp.Regexp, doc []byte) (int, error) {
	m := re.FindAllSubmatch(doc, -1)
	if m == nil {
		return 0, errors.New("not found")
	}
	return strconv.Atoi(string(m[len(m)-1][1]))
}

// escapeLiteral encodes s as a PDF literal string body. Bytes outside
// printable ASCII are octal-escaped so the output stays 7-bit clean.
func escapeLiteral(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		switch {
		case c == '(' || c == ')' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c < 0x20 || c > 0x7e:
			fmt.Fprintf(&b, `\%03o`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescapeLiteral(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(b) {
			break
		}
		switch b[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case '\n':
			// escaped newline is a line continuation
		case '\r':
			if i+1 < len(b) && b[i+1] == '\n' {
				i++
			}
		default:
			if b[i] >= '0' && b[i] <= '7' {
				v := int(b[i] - '0')
				for k := 0; k < 2 && i+1 < len(b) && b[i+1] >= '0' && b[i+1] <= '7'; k++ {
					i++
					v = v*8 + int(b[i]-'0')
				}
				out = append(out, byte(v))
			} else {
				out = append(out, b[i])
			}
		}
	}
	return out
}

func decodeHexString(b []byte) []byte {
	out := make([]byte, 0, len(b)/2)
	var hi int
	have := false
	for _, c := range b {
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'a' && c <= 'f':
			v = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v = int(c-'A') + 10
		default:
			continue
		}
		if !have {
			hi = v
			have = true
		} else {
			out = append(out, byte(hi<<4|v))
			have = false
		}
	}
	if have {
		out = append(out, byte(hi<<4))
	}
	return out
}

// decodeTextString applies the PDF text-string rules: a UTF-16BE BOM selects
// UTF-16, anything else is treated as single-byte text.
func decodeTextString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := b[2:]
		if len(u)%2 == 1 {
			u = u[:len(u)-1]
		}
		cps := make([]uint16, len(u)/2)
		for i := range cps {
			cps[i] = uint16(u[2*i])<<8 | uint16(u[2*i+1])
		}
		return string(utf16.Decode(cps))
	}
	return string(b)
}
