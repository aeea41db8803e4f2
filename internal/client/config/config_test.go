package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://localhost:3000", c.ServerURL)
	assert.Equal(t, "session.db", c.TokenDBPath)
	assert.Equal(t, 10*time.Second, c.RequestTimeout)
	assert.NoError(t, c.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server_url":"http://json:1","request_timeout":"3s","token_db_path":"j.db"}`), 0o600))

	cfg, err := Load([]string{"-c", path, "-s", "http://flag:2", "-unknown", "x"})
	require.NoError(t, err)

	want := &Config{
		ServerURL:      "http://flag:2",
		TokenDBPath:    "j.db",
		RequestTimeout: 3 * time.Second,
		LogLevel:       "warn",
	}
	assert.Empty(t, cmp.Diff(want, cfg))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load([]string{"-timeout", "abc"})
	assert.Error(t, err)

	_, err = Load([]string{"-s", "localhost:3000"})
	assert.Error(t, err)

	_, err = Load([]string{"-c", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *Config
		wantErr  bool
	}{
		{name: "all flags", args: []string{"-s", "http://h:1", "-db", "x.db", "-timeout", "2s", "-l", "debug"},
			expected: &Config{ServerURL: "http://h:1", TokenDBPath: "x.db", RequestTimeout: 2 * time.Second, LogLevel: "debug"}},
		{name: "bad duration", args: []string{"-timeout", "abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{}
			err := parseFlags(c, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, c))
		})
	}
}
