package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/otherjamesbrown/bookpipe/config"
	"github.com/otherjamesbrown/bookpipe/credentials"
	"github.com/otherjamesbrown/bookpipe/pkg/logging"
)

const testBooksCSV = `bookID,title,authors,average_rating,isbn,isbn13,language_code,num_pages,ratings_count,publication_date,publisher
1,Harry Potter,J.K. Rowling,4.47,0439708184,,eng,320,4780000,9/1/2003,Scholastic
2,Quiet Book,Jane Doe,3.9,0140449132,,eng,200,120,1/1/2000,Penguin Classics
3,Nobody,Nobody,3.0,,,eng,5,10,1/1/2000,Small Press
`

func testRatingsCSV() string {
	var b strings.Builder
	b.WriteString("\"User-ID\";\"ISBN\";\"Book-Rating\"\n")
	for i := 1; i <= 12; i++ {
		b.WriteString("\"" + strconv.Itoa(i) + "\";\"0439708184\";\"9\"\n")
	}
	for i := 1; i <= 3; i++ {
		b.WriteString("\"" + strconv.Itoa(i) + "\";\"0140449132\";\"7\"\n")
	}
	return b.String()
}

func testUsersCSV() string {
	var b strings.Builder
	b.WriteString("\"User-ID\";\"Location\";\"Age\"\n")
	for i := 1; i <= 12; i++ {
		b.WriteString("\"" + strconv.Itoa(i) + "\";\"london, england\";\"30\"\n")
	}
	return b.String()
}

// newTestDeps returns deps whose paths all live under a temp dir, with the
// raw inputs written when withInputs is set.
func newTestDeps(t *testing.T, withInputs bool) *CommandDeps {
	t.Helper()
	keyring.MockInit()
	dir := t.TempDir()
	t.Setenv("BOOKPIPE_CONFIG_DIR", filepath.Join(dir, "home"))
	t.Setenv(credentials.EnvPassword, "")
	t.Setenv(credentials.EnvPassphrase, "")
	t.Setenv(credentials.EnvEncryptionKey, "")

	cfg := config.DefaultConfig()
	cfg.Paths.RawDir = filepath.Join(dir, "raw")
	cfg.Paths.ProcessedDir = filepath.Join(dir, "processed")
	cfg.Paths.OutputDir = filepath.Join(dir, "output")
	cfg.Paths.Database = filepath.Join(dir, "processed", "bookpipe.db")
	cfg.OutputFormat = config.OutputFormatJSON
	cfg.Timeout = time.Minute

	if withInputs {
		require.NoError(t, os.MkdirAll(cfg.Paths.RawDir, 0o755))
		write := func(name, data string) {
			require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.RawDir, name), []byte(data), 0o644))
		}
		write(cfg.Paths.CatalogFile, testBooksCSV)
		write(cfg.Paths.RatingsFile, testRatingsCSV())
		write(cfg.Paths.UsersFile, testUsersCSV())
	}

	deps := DefaultDeps()
	deps.Config = cfg
	deps.Logger = logging.NewNopLogger()
	deps.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return deps
}

// execute runs c with args and returns what it wrote to stdout.
func execute(t *testing.T, c *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetIn(strings.NewReader(stdin))
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}
