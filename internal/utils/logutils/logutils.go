package logutils

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatPrinter implements fmt.Stringer by printing an arbitrary object with
// a given format verb. The formatting only happens if the log entry is
// actually written.
type FormatPrinter struct {
	verb  string
	item  any
	limit int
}

func (v FormatPrinter) String() string {
	s := fmt.Sprintf(v.verb, v.item)
	if v.limit > 0 && len(s) > v.limit {
		return fmt.Sprintf("%s... (%s more)", s[:v.limit], humanize.Bytes(uint64(len(s)-v.limit)))
	}
	return s
}

func Format(verb string, item any) FormatPrinter {
	return FormatPrinter{verb: verb, item: item}
}

// FormatTruncated is like Format, but cuts the output after limit bytes.
// File contents can make API payloads arbitrarily large.
func FormatTruncated(verb string, item any, limit int) FormatPrinter {
	return FormatPrinter{verb: verb, item: item, limit: limit}
}
