package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
logLevel: debug
dlvToolPath: /usr/local/bin/dlv
apiVersion: 1
disconnectTimeout: 10s
gopath: /home/dev/go
goroot: /opt/go
`)
	cfg, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/usr/local/bin/dlv", cfg.DlvToolPath)
	assert.Equal(t, 1, cfg.APIVersion)
	assert.Equal(t, 10*time.Second, cfg.DisconnectTimeout)
	// 未配置的字段使用默认值
	assert.Equal(t, 30*time.Second, cfg.LaunchTimeout)
	assert.Equal(t, "/home/dev/go", cfg.GOPATH)
	assert.Equal(t, "/opt/go", cfg.GOROOT)
}

func TestLoad_Default(t *testing.T) {
	t.Setenv("GOPATH", "/env/go")
	t.Setenv("GOROOT", "/env/goroot")
	cfg, err := Load("")
	require.Nil(t, err)
	assert.Equal(t, "8889", cfg.Port)
	assert.Equal(t, 2, cfg.APIVersion)
	assert.Equal(t, "/env/go", cfg.GOPATH)
	assert.Equal(t, "/env/goroot", cfg.GOROOT)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "apiVersion: 3\n"))
	assert.NotNil(t, err)

	_, err = Load(writeConfig(t, "port: [\n"))
	assert.NotNil(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
}
