package cmd

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/bookpipe/config"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestWriteOutput(t *testing.T) {
	v := sample{Name: "books", Count: 3}
	text := func(w io.Writer) error {
		_, err := io.WriteString(w, "books=3\n")
		return err
	}

	tests := []struct {
		name   string
		format config.OutputFormat
		text   func(io.Writer) error
		want   string
	}{
		{"json", config.OutputFormatJSON, text, "{\n  \"name\": \"books\",\n  \"count\": 3\n}\n"},
		{"yaml", config.OutputFormatYAML, text, "name: books\ncount: 3\n"},
		{"text", config.OutputFormatText, text, "books=3\n"},
		{"text without renderer", config.OutputFormatText, nil, "name: books\ncount: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeOutput(&buf, tt.format, v, tt.text))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriteOutput_TextError(t *testing.T) {
	boom := errors.New("boom")
	err := writeOutput(io.Discard, config.OutputFormatText, nil, func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestFormatCounters(t *testing.T) {
	assert.Equal(t, "", formatCounters(nil))
	assert.Equal(t, "dropped=1 input_rows=5 output_rows=4",
		formatCounters(map[string]int64{"output_rows": 4, "input_rows": 5, "dropped": 1}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1.5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestReadLine(t *testing.T) {
	line, err := readLine(strings.NewReader("secret\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret", line)

	line, err = readLine(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", line)

	_, err = readLine(strings.NewReader(""))
	assert.Error(t, err)
}
