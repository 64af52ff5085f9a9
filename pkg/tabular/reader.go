// Package tabular reads and writes delimited text files with a header row.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
)

// Encoding of a source file.
type Encoding string

const (
	UTF8   Encoding = "utf-8"
	Latin1 Encoding = "latin-1"
)

// Options control how a file is parsed.
type Options struct {
	Comma    rune
	Encoding Encoding
	// Required lists columns that must be present in the header.
	Required []string
}

// Row is one record addressed by column name.
type Row struct {
	header  map[string]int
	columns []string
	fields  []string
}

// Get returns the named column, or "" when the column is absent.
func (r Row) Get(name string) string {
	i, ok := r.header[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// Columns returns the file's trimmed header in order.
func (r Row) Columns() []string {
	return r.columns
}

// Has reports whether the file has the named column.
func (r Row) Has(name string) bool {
	_, ok := r.header[name]
	return ok
}

// Stats describe one read.
type Stats struct {
	// Columns is the trimmed header in file order.
	Columns  []string
	Rows     int
	BadLines int
}

// ReadFile streams every well-formed row of path to fn. Rows whose field count
// differs from the header, or that fail to parse, are skipped and counted.
func ReadFile(path string, opts Options, fn func(Row) error) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Stats{}, bperrors.NewMissingSource("", path, err)
		}
		return Stats{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	stats, err := Read(f, opts, fn)
	if err != nil {
		var pe *bperrors.PipelineError
		if errors.As(err, &pe) {
			pe.Message = fmt.Sprintf("%s: %s", path, pe.Message)
			return stats, pe
		}
		return stats, fmt.Errorf("reading %s: %w", path, err)
	}
	return stats, nil
}

// Read is ReadFile over an io.Reader.
func Read(src io.Reader, opts Options, fn func(Row) error) (Stats, error) {
	var stats Stats
	if opts.Encoding == Latin1 {
		src = transform.NewReader(src, charmap.ISO8859_1.NewDecoder())
	}

	r := csv.NewReader(src)
	if opts.Comma != 0 {
		r.Comma = opts.Comma
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	headerRow, err := r.Read()
	if err == io.EOF {
		return stats, bperrors.NewMissingSource("", "header row", err)
	}
	if err != nil {
		return stats, fmt.Errorf("reading header: %w", err)
	}
	header := indexHeader(headerRow)
	stats.Columns = make([]string, len(headerRow))
	for i, c := range headerRow {
		stats.Columns[i] = cleanName(c)
	}
	for _, col := range opts.Required {
		if _, ok := header[col]; !ok {
			return stats, bperrors.NewMissingSource("", fmt.Sprintf("column %q", col), nil)
		}
	}

	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				stats.BadLines++
				continue
			}
			return stats, err
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		if len(fields) != len(headerRow) {
			stats.BadLines++
			continue
		}
		stats.Rows++
		if err := fn(Row{header: header, columns: stats.Columns, fields: fields}); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func indexHeader(cols []string) map[string]int {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		name := cleanName(c)
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	return idx
}

func cleanName(c string) string {
	return strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
}
