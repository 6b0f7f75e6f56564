package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config matches the structure of the config.yaml file.
type Config struct {
	Version        int             `yaml:"version"`
	AWS            AWS             `yaml:"aws"`
	Restore        Restore         `yaml:"restore"`
	Encryption     *Encryption     `yaml:"encryption,omitempty"`
	SystemsManager *SystemsManager `yaml:"systems_manager,omitempty"`
}

type AWS struct {
	Profile      string `yaml:"profile"`
	Region       string `yaml:"region"`
	AccessKeyEnv string `yaml:"access_key_env,omitempty"`
	SecretKeyEnv string `yaml:"secret_key_env,omitempty"`
}

type Restore struct {
	BackupDir      string `yaml:"backup_dir"`
	ReportDir      string `yaml:"report_dir"`
	MaxImages      int    `yaml:"max_amis"`
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
}

type Encryption struct {
	Method         string `yaml:"method"`
	Recipient      string `yaml:"recipient"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

type SystemsManager struct {
	Enabled        bool      `yaml:"enabled"`
	DocumentName   string    `yaml:"document_name"`
	OutputS3Bucket string    `yaml:"output_s3_bucket,omitempty"`
	OutputS3Prefix string    `yaml:"output_s3_prefix,omitempty"`
	Commands       []Command `yaml:"commands"`
}

type Command struct {
	Name              string `yaml:"name"`
	Command           string `yaml:"command"`
	TimeoutSeconds    int    `yaml:"timeout"`
	WaitForCompletion *bool  `yaml:"wait_for_completion,omitempty"`
}

// Wait reports whether the command should be polled to completion.
// Unset means wait.
func (c *Command) Wait() bool {
	return c.WaitForCompletion == nil || *c.WaitForCompletion
}

// Timeout returns the command's completion budget.
func (c *Command) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultPath returns the user-level config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ec2-restore", "config.yaml"), nil
}

// Load finds, reads, and parses the configuration file at the default
// location.
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at %s. Please run 'ec2-restore init'", configPath)
	}
	return LoadFrom(configPath)
}

// LoadFrom reads and parses the configuration file at path, applying
// defaults and validating the result.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file at %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Restore.BackupDir == "" {
		c.Restore.BackupDir = "backups"
	}
	if c.Restore.ReportDir == "" {
		c.Restore.ReportDir = "."
	}
	if c.Restore.MaxImages <= 0 {
		c.Restore.MaxImages = 5
	}
	if c.Restore.LogLevel == "" {
		c.Restore.LogLevel = "info"
	}
	if c.Restore.LogFile == "" {
		c.Restore.LogFile = "ec2-restore.log"
	}
	if c.SystemsManager != nil && c.SystemsManager.DocumentName == "" {
		c.SystemsManager.DocumentName = "AWS-RunShellScript"
	}
}

func (c *Config) validate() error {
	if c.Encryption != nil {
		if c.Encryption.Method != "age" {
			return fmt.Errorf("unsupported encryption method %q, only \"age\" is supported", c.Encryption.Method)
		}
		if c.Encryption.Recipient == "" {
			return fmt.Errorf("encryption is enabled but no recipient is configured")
		}
	}
	if c.SystemsManager != nil && c.SystemsManager.Enabled {
		if len(c.SystemsManager.Commands) == 0 {
			return fmt.Errorf("systems_manager is enabled but no commands are configured")
		}
		for i, cmd := range c.SystemsManager.Commands {
			if cmd.Command == "" {
				return fmt.Errorf("systems_manager command %d has no command line", i+1)
			}
		}
	}
	return nil
}
