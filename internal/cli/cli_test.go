package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexcore/internal/config"
	"github.com/devrev/pairdb/indexcore/internal/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return buf.String(), err
}

func TestFilterLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.bloom")

	out, err := execute(t, "filter", "create", path, "--expected", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "Created "+path)

	out, err = execute(t, "filter", "check", path, "42", "name")
	require.NoError(t, err)
	assert.Contains(t, out, "Absent")

	out, err = execute(t, "filter", "put", path, "42", "name")
	require.NoError(t, err)
	assert.Contains(t, out, "Inserted")

	out, err = execute(t, "filter", "put", path, "42", "name")
	require.NoError(t, err)
	assert.Contains(t, out, "Possibly present already")

	out, err = execute(t, "filter", "check", path, "42", "name")
	require.NoError(t, err)
	assert.Contains(t, out, "Maybe present")

	out, err = execute(t, "filter", "check", path, "42", "name", "--value", "jeff")
	require.NoError(t, err)
	assert.Contains(t, out, "Absent", "a value extends the key")

	out, err = execute(t, "filter", "stat", path, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(100), data["expected_insertions"])
	assert.Equal(t, float64(1), data["approximate_count"])
}

func TestFilterCreate_RefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bloom")

	_, err := execute(t, "filter", "create", path)
	require.NoError(t, err)

	_, err = execute(t, "filter", "create", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "filter", "create", path, "--force", "--expected", "10")
	assert.NoError(t, err)
}

func TestFilterCommands_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "filter", "check", filepath.Join(dir, "missing.bloom"), "1", "name")
	assert.Equal(t, errors.ErrCodeFilterIO, errors.GetCode(err))

	corrupt := filepath.Join(dir, "corrupt.bloom")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a filter"), 0644))
	_, err = execute(t, "filter", "stat", corrupt)
	assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))

	_, err = execute(t, "filter", "put", corrupt, "abc", "name")
	assert.ErrorContains(t, err, "invalid record")
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	_, err = execute(t, "filter", "stat", corrupt, "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestIndexStat(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "index.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("node:\n  id: n1\nstorage:\n  data_dir: "+dir+"\n"), 0644))

	out, err := execute(t, "--config", cfgPath, "index", "stat")
	require.NoError(t, err)
	assert.Contains(t, out, "primary: path="+filepath.Join(dir, "filters", "primary.bloom"))
	assert.Contains(t, out, "search:")

	_, err = os.Stat(filepath.Join(dir, "filters", "primary.bloom"))
	assert.True(t, os.IsNotExist(err), "inspecting an empty index writes nothing")
}

func TestRootOptions_Resolve(t *testing.T) {
	opts := &RootOptions{Format: "text", LogLevel: "debug", Logger: zap.NewNop()}
	require.NoError(t, opts.resolve())
	assert.Equal(t, "indexctl", opts.Config.Node.ID)
	assert.Equal(t, "debug", opts.Config.Logging.Level)

	opts = &RootOptions{Format: "text", LogLevel: "loud", Config: config.Default("n")}
	assert.Error(t, opts.resolve())

	_, err := initLogger(config.LoggingConfig{Level: "info", Format: "console"})
	assert.NoError(t, err)
}
