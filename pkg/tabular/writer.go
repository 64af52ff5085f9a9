package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// WriteFile writes header and rows as comma-separated UTF-8, replacing path.
// The file is written to a temporary name first so readers never see a
// partial table.
func WriteFile(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Float formats v with the shortest exact representation.
func Float(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FloatPtr formats v, or "" when nil.
func FloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return Float(*v)
}

// Int formats v.
func Int(v int64) string {
	return strconv.FormatInt(v, 10)
}

// IntPtr formats v, or "" when nil.
func IntPtr(v *int64) string {
	if v == nil {
		return ""
	}
	return Int(*v)
}

// StringPtr returns *v, or "" when nil.
func StringPtr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Bool formats v as True or False.
func Bool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
