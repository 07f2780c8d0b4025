package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  dsn: " + filepath.Join(dir, "cli.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "quickfeed dev\n", out)
}

func TestImportExport(t *testing.T) {
	cfg := writeConfig(t)
	opmlPath := filepath.Join(t.TempDir(), "in.opml")
	doc := `<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="News"><outline text="Daily" type="rss" xmlUrl="https://news.example.com/rss"/></outline>
</body></opml>`
	require.NoError(t, os.WriteFile(opmlPath, []byte(doc), 0o600))

	out, err := run(t, "--config", cfg, "import-opml", opmlPath)
	require.NoError(t, err)
	assert.Equal(t, "Imported 1 feeds, skipped 0, failed 0\n", out)

	out, err = run(t, "--config", cfg, "import-opml", opmlPath)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped 1")

	out, err = run(t, "--config", cfg, "export-opml")
	require.NoError(t, err)
	assert.Contains(t, out, `xmlUrl="https://news.example.com/rss"`)
	assert.Contains(t, out, `text="News"`)

	_, err = run(t, "--config", cfg, "import-opml", filepath.Join(t.TempDir(), "missing.opml"))
	assert.Error(t, err)
}

func TestRefreshWithoutFeeds(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "refresh")
	require.NoError(t, err)
	assert.Equal(t, "Done: 0 feeds, 0 new articles, 0 failed\n", out)
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := run(t, "--config", path, "refresh")
	assert.Error(t, err)
}
