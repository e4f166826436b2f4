package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "mail": {
    "default_account": "work",
    "accounts": {
      "work": {
        "name": "Work Account",
        "email": "user@example.com",
        "imap": {"host": "imap.example.com", "port": 993, "username": "user", "ssl": true}
      },
      "home": {
        "email": "me@home.example",
        "imap": {"host": "imap.home.example", "port": 143, "username": "me", "auth_mechanism": "PLAIN"}
      }
    },
    "retrieve": {"seen": "unseen", "selection": "newest", "limit": 25}
  }
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigFile_JSON(t *testing.T) {
	cfg, err := LoadConfigFile(writeFile(t, "config.json", sampleJSON))
	require.NoError(t, err)

	assert.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "unseen", cfg.Retrieve.Seen)
	assert.Equal(t, "newest", cfg.Retrieve.Selection)
	assert.Equal(t, 25, cfg.Retrieve.Limit)

	// defaults
	assert.Equal(t, "INBOX", cfg.Retrieve.Folder)
	assert.Equal(t, "all", cfg.Retrieve.Answered)
	assert.Equal(t, 10, cfg.Relocate.BatchSize)
	assert.Equal(t, "mailrows.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)

	acc, err := cfg.GetAccount("")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", acc.Email)
	assert.True(t, acc.IMAP.SSL)

	acc, err = cfg.GetAccount("me@home.example")
	require.NoError(t, err)
	assert.Equal(t, "home", acc.Name)
	assert.Equal(t, "PLAIN", acc.IMAP.AuthMechanism)
}

func TestLoadConfigFile_YAML(t *testing.T) {
	yaml := `
mail:
  accounts:
    personal:
      email: me@example.com
      imap:
        host: imap.example.com
        port: 993
        username: me
  relocate:
    batch_size: 25
`
	cfg, err := LoadConfigFile(writeFile(t, "config.yaml", yaml))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Relocate.BatchSize)

	acc, err := cfg.GetAccount("personal")
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", acc.IMAP.Host)
}

func TestLoadConfigFile_EnvOverrides(t *testing.T) {
	t.Setenv("EMX_MAIL_DB", "/tmp/override.db")
	t.Setenv("EMX_MAIL_LOG_LEVEL", "debug")
	t.Setenv("EMX_MAIL_MARK_AS_READ", "true")

	cfg, err := LoadConfigFile(writeFile(t, "config.json", sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Retrieve.MarkAsRead)
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing accounts", `{"mail": {}}`},
		{"missing email", `{"mail": {"accounts": {"a": {"imap": {"host": "h"}}}}}`},
		{"missing imap", `{"mail": {"accounts": {"a": {"email": "a@b.c"}}}}`},
		{"unknown default", `{"mail": {"default_account": "x", "accounts": {"a": {"email": "a@b.c", "imap": {"host": "h"}}}}}`},
		{"bad batch size", `{"mail": {"relocate": {"batch_size": 0}, "accounts": {"a": {"email": "a@b.c", "imap": {"host": "h"}}}}}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFile(writeFile(t, "config.json", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_FromEnvPath(t *testing.T) {
	if HasEmxConfig() {
		t.Skip("emx-config on PATH takes precedence")
	}
	t.Setenv(EnvConfigJSONPath, writeFile(t, "config.json", sampleJSON))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "work", cfg.DefaultAccount)

	t.Setenv(EnvConfigJSONPath, "")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestSaveConfig_ExampleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, SaveConfig(path, ExampleRootConfig()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	acc, err := cfg.GetAccount("")
	require.NoError(t, err)
	assert.Equal(t, "Work Account", acc.Name)
	assert.Equal(t, 50, cfg.Retrieve.Limit)
}

func TestGetAccount_NotFound(t *testing.T) {
	cfg, err := LoadConfigFile(writeFile(t, "config.json", sampleJSON))
	require.NoError(t, err)

	_, err = cfg.GetAccount("nobody")
	assert.Error(t, err)

	_, err = (&Config{}).GetAccount("")
	assert.Error(t, err)
}

func TestEnvOverrides_Sorted(t *testing.T) {
	overrides := EnvOverrides()
	require.Len(t, overrides, len(envBindings))
	for i := 1; i < len(overrides); i++ {
		assert.Less(t, overrides[i-1].Key, overrides[i].Key)
	}
	assert.Contains(t, overrides, EnvOverride{Key: "mail.store.path", Env: "EMX_MAIL_DB"})
}
