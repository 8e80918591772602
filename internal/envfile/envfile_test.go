package envfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Setenv("PWD", dir)
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"",
		"SMOLPC_WORKER_PATH=/opt/gimp-mcp",
		"export SMOLPC_OLLAMA_MODEL = llava # local model",
		`SMOLPC_GREETING="hello\nworld \"quoted\""`,
		`SMOLPC_LITERAL='a\nb # kept'`,
		"SMOLPC_EMPTY=",
		"=no key",
		"BAD KEY=value",
		"just text",
	}, "\n")

	vars, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Var{
		{Key: "SMOLPC_WORKER_PATH", Value: "/opt/gimp-mcp"},
		{Key: "SMOLPC_OLLAMA_MODEL", Value: "llava"},
		{Key: "SMOLPC_GREETING", Value: "hello\nworld \"quoted\""},
		{Key: "SMOLPC_LITERAL", Value: `a\nb # kept`},
		{Key: "SMOLPC_EMPTY", Value: ""},
	}, vars)
}

func TestLoadPathKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "SMOLPC_ENVFILE_SET=from-file\nSMOLPC_ENVFILE_NEW=added\n")
	t.Setenv("SMOLPC_ENVFILE_SET", "from-env")
	unsetenv(t, "SMOLPC_ENVFILE_NEW")

	res := LoadPath(path)
	require.NoError(t, res.Err)
	assert.True(t, res.Loaded)
	assert.Equal(t, 1, res.Keys)
	assert.Equal(t, "from-env", os.Getenv("SMOLPC_ENVFILE_SET"))
	assert.Equal(t, "added", os.Getenv("SMOLPC_ENVFILE_NEW"))
}

func TestLoadReadsCheckoutThenDataDir(t *testing.T) {
	checkout := t.TempDir()
	dataDir := t.TempDir()
	nested := filepath.Join(checkout, "src", "gimp_mcp")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	writeFile(t, filepath.Join(checkout, ".env"), "SMOLPC_DATA_DIR="+dataDir+"\nSMOLPC_ENVFILE_A=checkout\n")
	writeFile(t, filepath.Join(dataDir, ".env"), "SMOLPC_ENVFILE_A=data\nSMOLPC_ENVFILE_B=data\n")
	for _, key := range []string{OverrideVar, "SMOLPC_DATA_DIR", "SMOLPC_ENVFILE_A", "SMOLPC_ENVFILE_B"} {
		unsetenv(t, key)
	}
	chdir(t, nested)

	results := Load()
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(dataDir, ".env"), results[1].Path)
	for _, res := range results {
		require.NoError(t, res.Err)
	}
	assert.Equal(t, 2, results[0].Keys)
	assert.Equal(t, 1, results[1].Keys)
	assert.Equal(t, "checkout", os.Getenv("SMOLPC_ENVFILE_A"))
	assert.Equal(t, "data", os.Getenv("SMOLPC_ENVFILE_B"))
}

func TestLoadSkipsMissingDataDirFile(t *testing.T) {
	unsetenv(t, OverrideVar)
	t.Setenv("SMOLPC_DATA_DIR", t.TempDir())
	chdir(t, t.TempDir())

	assert.Empty(t, Load())
}

func TestLoadOverride(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	t.Setenv(OverrideVar, missing)

	results := Load()
	require.Len(t, results, 1)
	assert.Equal(t, missing, results[0].Path)
	assert.ErrorIs(t, results[0].Err, os.ErrNotExist)
	assert.False(t, results[0].Loaded)
}
