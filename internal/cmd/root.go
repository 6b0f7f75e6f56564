package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ec2restore.io/ec2-restore-cli/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ec2-restore",
	Short: "Restore EC2 instances from their images",
	Long: `ec2-restore rebuilds EC2 instances from AMIs taken of them.

An instance can be replaced wholesale, terminating it and launching a
replacement from the image, or repaired in place by swapping selected
EBS volumes for fresh ones created from the image's snapshots. Every
run writes a backup record and takes safety snapshots of all attached
volumes before anything is touched.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.ec2-restore/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

// newLogger builds the file-backed logger the workflows log to. The
// console stays reserved for prompts, tables, and progress lines.
func newLogger(cfg *config.Restore) (*log.Logger, error) {
	logger := log.New()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	if cfg.LogFile != "" {
		if dir := filepath.Dir(cfg.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(file)
	}
	return logger, nil
}
