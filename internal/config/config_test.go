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
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFrom(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, `
version: 1
aws:
  profile: production
  region: eu-west-1
restore:
  backup_dir: /var/lib/ec2-restore/backups
  max_amis: 10
  log_level: debug
encryption:
  method: age
  recipient: age1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq
  private_key_path: /etc/ec2-restore/age.key
systems_manager:
  enabled: true
  output_s3_bucket: ssm-output
  commands:
    - name: start application
      command: systemctl start myapp
      timeout: 120
    - name: health check
      command: curl -fsS localhost:8080/healthz
      wait_for_completion: false
`))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AWS.Profile)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "/var/lib/ec2-restore/backups", cfg.Restore.BackupDir)
	assert.Equal(t, 10, cfg.Restore.MaxImages)
	assert.Equal(t, "debug", cfg.Restore.LogLevel)

	require.NotNil(t, cfg.Encryption)
	assert.Equal(t, "age", cfg.Encryption.Method)

	require.NotNil(t, cfg.SystemsManager)
	assert.Equal(t, "AWS-RunShellScript", cfg.SystemsManager.DocumentName, "document name defaults")
	require.Len(t, cfg.SystemsManager.Commands, 2)

	first := cfg.SystemsManager.Commands[0]
	assert.True(t, first.Wait(), "wait_for_completion defaults to true")
	assert.Equal(t, 2*time.Minute, first.Timeout())

	second := cfg.SystemsManager.Commands[1]
	assert.False(t, second.Wait())
	assert.Equal(t, 5*time.Minute, second.Timeout(), "timeout defaults")
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, `
version: 1
aws:
  region: us-east-1
`))
	require.NoError(t, err)

	assert.Equal(t, "backups", cfg.Restore.BackupDir)
	assert.Equal(t, ".", cfg.Restore.ReportDir)
	assert.Equal(t, 5, cfg.Restore.MaxImages)
	assert.Equal(t, "info", cfg.Restore.LogLevel)
	assert.Equal(t, "ec2-restore.log", cfg.Restore.LogFile)
	assert.Nil(t, cfg.Encryption)
	assert.Nil(t, cfg.SystemsManager)
}

func TestLoadFromValidation(t *testing.T) {
	t.Run("unsupported encryption method", func(t *testing.T) {
		_, err := LoadFrom(writeConfig(t, `
encryption:
  method: gpg
  recipient: someone
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported encryption method")
	})

	t.Run("encryption without recipient", func(t *testing.T) {
		_, err := LoadFrom(writeConfig(t, `
encryption:
  method: age
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no recipient")
	})

	t.Run("enabled ssm without commands", func(t *testing.T) {
		_, err := LoadFrom(writeConfig(t, `
systems_manager:
  enabled: true
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no commands")
	})

	t.Run("ssm command without command line", func(t *testing.T) {
		_, err := LoadFrom(writeConfig(t, `
systems_manager:
  enabled: true
  commands:
    - name: broken
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "command 1")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
