package ingest

import (
	"errors"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/otherjamesbrown/bookpipe/pkg/fields"
	"github.com/otherjamesbrown/bookpipe/pkg/tabular"
)

// Source names used in profiles.
const (
	SourceCatalog        = "catalog"
	SourceCommunityBooks = "community_books"
	SourceRatings        = "ratings"
	SourceActors         = "users"
)

// Profile describes one raw input file before any cleaning.
type Profile struct {
	Source   string          `json:"source" yaml:"source"`
	Path     string          `json:"path" yaml:"path"`
	Present  bool            `json:"present" yaml:"present"`
	Rows     int             `json:"rows" yaml:"rows"`
	BadLines int             `json:"bad_lines" yaml:"bad_lines"`
	Columns  []ColumnProfile `json:"columns,omitempty" yaml:"columns,omitempty"`
	Scores   *ScoreProfile   `json:"scores,omitempty" yaml:"scores,omitempty"`
}

// Column returns the named column profile, or nil.
func (p Profile) Column(name string) *ColumnProfile {
	for i := range p.Columns {
		if p.Columns[i].Name == name {
			return &p.Columns[i]
		}
	}
	return nil
}

// ColumnProfile counts missing values in one column. Numeric is set when every
// present value parses as a number.
type ColumnProfile struct {
	Name    string          `json:"name" yaml:"name"`
	Missing int             `json:"missing" yaml:"missing"`
	Numeric *NumericSummary `json:"numeric,omitempty" yaml:"numeric,omitempty"`
}

// NumericSummary is the basic description of a numeric column. StdDev is the
// sample deviation and is zero for a single value.
type NumericSummary struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"std" yaml:"std"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
}

// ScoreProfile is the rating value distribution of the ratings dump. Implicit
// events carry a zero score.
type ScoreProfile struct {
	Distribution map[string]int `json:"distribution" yaml:"distribution"`
	Explicit     int            `json:"explicit" yaml:"explicit"`
	Implicit     int            `json:"implicit" yaml:"implicit"`
}

// ProfileCatalog profiles the catalog export.
func ProfileCatalog(path string) (Profile, error) {
	return profileFile(SourceCatalog, path, catalogOptions, nil)
}

// ProfileCommunityBooks profiles the community books dump.
func ProfileCommunityBooks(path string) (Profile, error) {
	return profileFile(SourceCommunityBooks, path, communityBookOptions, nil)
}

// ProfileActors profiles the community users dump.
func ProfileActors(path string) (Profile, error) {
	return profileFile(SourceActors, path, actorOptions, nil)
}

// ProfileRatings profiles the community ratings dump, including its score
// distribution.
func ProfileRatings(path string) (Profile, error) {
	scores := &ScoreProfile{Distribution: make(map[string]int)}
	p, err := profileFile(SourceRatings, path, ratingOptions, func(r tabular.Row) {
		raw := strings.TrimSpace(r.Get(ColBookRating))
		scores.Distribution[raw]++
		if v, ok := fields.Float(raw); ok && v == 0 {
			scores.Implicit++
		} else if ok {
			scores.Explicit++
		}
	})
	if p.Present {
		p.Scores = scores
	}
	return p, err
}

// profileFile reads path once. A file that does not exist yields a profile
// with Present unset and no error. Required columns are not enforced.
func profileFile(source, path string, opts tabular.Options, each func(tabular.Row)) (Profile, error) {
	p := Profile{Source: source, Path: path}
	opts.Required = nil

	var cols []*columnAcc
	stats, err := tabular.ReadFile(path, opts, func(r tabular.Row) error {
		if cols == nil {
			cols = newColumnAccs(r)
		}
		for _, c := range cols {
			c.add(r.Get(c.name))
		}
		if each != nil {
			each(r)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	p.Present = true
	p.Rows = stats.Rows
	p.BadLines = stats.BadLines
	if err != nil {
		return p, err
	}

	if cols == nil {
		for _, name := range stats.Columns {
			cols = append(cols, &columnAcc{name: name})
		}
	}
	for _, c := range cols {
		p.Columns = append(p.Columns, c.profile())
	}
	return p, nil
}

func newColumnAccs(r tabular.Row) []*columnAcc {
	names := r.Columns()
	out := make([]*columnAcc, len(names))
	for i, name := range names {
		out[i] = &columnAcc{name: name, min: math.Inf(1), max: math.Inf(-1)}
	}
	return out
}

// columnAcc accumulates one column with Welford's running mean and variance.
type columnAcc struct {
	name       string
	missing    int
	nonNumeric bool
	n          int
	mean, m2   float64
	min, max   float64
}

func (c *columnAcc) add(raw string) {
	if fields.IsNull(raw) {
		c.missing++
		return
	}
	if c.nonNumeric {
		return
	}
	v, ok := fields.Float(raw)
	if !ok {
		c.nonNumeric = true
		return
	}
	c.n++
	d := v - c.mean
	c.mean += d / float64(c.n)
	c.m2 += d * (v - c.mean)
	c.min = math.Min(c.min, v)
	c.max = math.Max(c.max, v)
}

func (c *columnAcc) profile() ColumnProfile {
	cp := ColumnProfile{Name: c.name, Missing: c.missing}
	if c.nonNumeric || c.n == 0 {
		return cp
	}
	ns := &NumericSummary{Count: c.n, Mean: c.mean, Min: c.min, Max: c.max}
	if c.n > 1 {
		ns.StdDev = math.Sqrt(c.m2 / float64(c.n-1))
	}
	cp.Numeric = ns
	return cp
}

// SortedScores returns the distribution keys in numeric order, then any
// non-numeric values in lexical order.
func (s *ScoreProfile) SortedScores() []string {
	keys := make([]string, 0, len(s.Distribution))
	for k := range s.Distribution {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aok := fields.Float(keys[i])
		b, bok := fields.Float(keys[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
