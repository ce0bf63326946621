package sheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/simsync/internal/ingest"
)

// sniffBytes is how much of a text file is inspected to pick the encoding
// and the delimiter.
const sniffBytes = 64 << 10

// ReadCSV reads a delimited text export. The delimiter (comma, semicolon or
// tab) is sniffed from the first line. UTF-8 input may carry a BOM; input
// that is not valid UTF-8 is decoded as Windows-1252, the encoding legacy
// Excel CSV exports use. Malformed lines become rows with Err set.
func ReadCSV(r io.Reader, name string, opts Options) (ingest.Sheet, error) {
	return readDelimited(r, name, 0, opts)
}

func readDelimited(r io.Reader, name string, comma rune, opts Options) (ingest.Sheet, error) {
	lr := newLimitReader(r, opts.maxBytes())
	br := bufio.NewReaderSize(lr, sniffBytes)
	head, err := br.Peek(sniffBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return ingest.Sheet{}, fmt.Errorf("read %s: %w", name, err)
	}
	if lr.exceeded() {
		return ingest.Sheet{}, fmt.Errorf("read %s: %w", name, ErrFileTooLarge)
	}

	var text io.Reader
	if looksUTF8(head) {
		text = transform.NewReader(br, unicode.UTF8BOM.NewDecoder())
	} else {
		text = transform.NewReader(br, charmap.Windows1252.NewDecoder())
	}
	if comma == 0 {
		comma = sniffDelimiter(head)
	}

	cr := csv.NewReader(text)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	// raw is indexed by source line so row numbers survive the blank
	// lines encoding/csv skips.
	var raw [][]string
	rowErrs := make(map[int]error)
	place := func(line int, rec []string) {
		for len(raw) < line {
			raw = append(raw, nil)
		}
		raw[line-1] = rec
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if lr.exceeded() {
			return ingest.Sheet{}, fmt.Errorf("read %s: %w", name, ErrFileTooLarge)
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return ingest.Sheet{}, fmt.Errorf("read %s: %w", name, err)
			}
			place(pe.StartLine, nil)
			rowErrs[pe.StartLine-1] = pe
			continue
		}
		line, _ := cr.FieldPos(0)
		place(line, rec)
	}
	if lr.exceeded() {
		return ingest.Sheet{}, fmt.Errorf("read %s: %w", name, ErrFileTooLarge)
	}

	return buildSheet(name, raw, rowErrs), nil
}

// looksUTF8 reports whether head is valid UTF-8, ignoring a rune cut off
// by the sniff window.
func looksUTF8(head []byte) bool {
	if utf8.Valid(head) {
		return true
	}
	for i := 1; i < utf8.UTFMax && i < len(head); i++ {
		if utf8.Valid(head[:len(head)-i]) && !utf8.FullRune(head[len(head)-i:]) {
			return true
		}
	}
	return false
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab on
// the first line, outside quotes. Comma wins ties.
func sniffDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexAny(head, "\r\n"); i >= 0 {
		line = head[:i]
	}

	counts := map[byte]int{}
	quoted := false
	for _, b := range line {
		switch {
		case b == '"':
			quoted = !quoted
		case !quoted && (b == ',' || b == ';' || b == '\t'):
			counts[b]++
		}
	}

	best := byte(',')
	for _, d := range []byte{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return rune(best)
}
