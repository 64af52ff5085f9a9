package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/bookpipe/config"
)

// WriteOutput renders v as JSON, or as YAML for every other format.
func WriteOutput(w io.Writer, format config.OutputFormat, v interface{}) error {
	return writeOutput(w, format, v, nil)
}

// writeOutput renders v as JSON or YAML, or calls text for the text format.
// A nil text falls back to YAML.
func writeOutput(w io.Writer, format config.OutputFormat, v interface{}, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		return writeYAML(w, v)
	default:
		if text == nil {
			return writeYAML(w, v)
		}
		return text(w)
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// formatCounters renders counters as sorted key=value pairs.
func formatCounters(counters map[string]int64) string {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, counters[name])
	}
	return strings.Join(parts, " ")
}

// formatDuration formats a duration as a short human-readable string.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%.1fm", float64(ms)/60000)
}

// readLine reads one line from r without the trailing newline.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading input: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && err == io.EOF {
		return "", fmt.Errorf("no input provided")
	}
	return line, nil
}
