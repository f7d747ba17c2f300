package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/instarelay/internal/model"
)

// setupEnv points the storage settings at a fresh SQLite file and returns an
// env file path that does not exist, so no local .env leaks into the test.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "relay.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("SOURCE_BASE_URL", "")
	return filepath.Join(dir, "missing.env")
}

func execute(t *testing.T, envFile, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", envFile}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestAccountsLifecycle(t *testing.T) {
	env := setupEnv(t)

	out, err := execute(t, env, "", "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No accounts configured.")

	out, err = execute(t, env, "", "accounts", "add", "@Alice", "@alice_mirror")
	require.NoError(t, err)
	assert.Equal(t, "Added @alice -> @alice_mirror\n", out)

	_, err = execute(t, env, "", "accounts", "add", "bob", "-100200")
	require.NoError(t, err)

	out, err = execute(t, env, "", "accounts", "disable", "BOB")
	require.NoError(t, err)
	assert.Equal(t, "@bob disabled\n", out)

	out, err = execute(t, env, "", "--format", "json", "accounts", "list")
	require.NoError(t, err)
	var accounts []model.Account
	require.NoError(t, json.Unmarshal([]byte(out), &accounts))
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.True(t, accounts[0].Enabled)
	assert.Equal(t, "bob", accounts[1].Username)
	assert.False(t, accounts[1].Enabled)

	out, err = execute(t, env, "", "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "@alice_mirror")

	_, err = execute(t, env, "", "accounts", "remove", "alice")
	require.NoError(t, err)

	_, err = execute(t, env, "", "accounts", "remove", "alice")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, env, "", "accounts", "enable", "carol")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAccountsAddRejectsEmptyUsername(t *testing.T) {
	env := setupEnv(t)

	_, err := execute(t, env, "", "accounts", "add", "@", "@ch")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAccountsImportExport(t *testing.T) {
	env := setupEnv(t)

	doc := "channels:\n  - channel: \"@space\"\n    accounts:\n      - username: nasa\n      - username: spacex\n        enabled: false\n"
	out, err := execute(t, env, doc, "accounts", "import", "-")
	require.NoError(t, err)
	assert.Equal(t, "Imported 2 of 2 accounts\n", out)

	file := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(file, []byte("accounts:\n  - username: esa\n    channel_id: \"@eu\"\n"), 0o644))
	_, err = execute(t, env, "", "accounts", "import", file)
	require.NoError(t, err)

	out, err = execute(t, env, "", "accounts", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "@space")
	assert.Contains(t, out, "username: nasa")
	assert.Contains(t, out, "username: esa")

	exported := filepath.Join(t.TempDir(), "out.yaml")
	out, err = execute(t, env, "", "accounts", "export", "-o", exported)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 3 accounts")
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "username: spacex")

	_, err = execute(t, env, "accounts: [", "accounts", "import", "-")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatusCommand(t *testing.T) {
	env := setupEnv(t)

	out, err := execute(t, env, "", "status")
	require.NoError(t, err)
	assert.Equal(t, "Accounts: 0 (0 enabled)\n\n", out)

	_, err = execute(t, env, "", "accounts", "add", "alice", "@a")
	require.NoError(t, err)
	_, err = execute(t, env, "", "accounts", "add", "bob", "@b")
	require.NoError(t, err)
	_, err = execute(t, env, "", "accounts", "disable", "bob")
	require.NoError(t, err)

	out, err = execute(t, env, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Accounts: 2 (1 enabled)")
	assert.Contains(t, out, "LAST POST")

	out, err = execute(t, env, "", "--format", "json", "status")
	require.NoError(t, err)
	var status model.CycleStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 2, status.TotalAccounts)
	assert.Equal(t, 1, status.EnabledAccounts)
	assert.Equal(t, "@a", status.Accounts["alice"].ChannelID)
	assert.Empty(t, status.Accounts["alice"].LastPostID)
}

func TestInvalidFormat(t *testing.T) {
	env := setupEnv(t)

	_, err := execute(t, env, "", "--format", "xml", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunRejectsMissingConfig(t *testing.T) {
	env := setupEnv(t)

	_, err := execute(t, env, "", "run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")

	_, err = execute(t, env, "", "once")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStorageCommandsRejectUnknownDriver(t *testing.T) {
	env := setupEnv(t)
	t.Setenv("DB_DRIVER", "mongo")

	_, err := execute(t, env, "", "accounts", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
