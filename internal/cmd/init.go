package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ec2restore.io/ec2-restore-cli/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the ec2-restore configuration",
	Long: `Initializes ec2-restore for the current user.

This command creates a '~/.ec2-restore' directory with a default
'config.yaml'. It prompts for the AWS profile and region and can
generate an age key pair for encrypting backup records at rest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runInit()
		if errors.Is(err, ErrAborted) {
			fmt.Println("Setup aborted.")
			return nil
		}
		return err
	},
}

func runInit() error {
	fmt.Println("Setting up ec2-restore...")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not get user home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".ec2-restore")

	// Create directories
	if err := os.MkdirAll(filepath.Join(baseDir, "keys"), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", baseDir, err)
	}

	// Check for existing config
	cfgPath := filepath.Join(baseDir, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("a config file already exists at %s", cfgPath)
	}

	reader := bufio.NewReader(os.Stdin)

	// Interactive prompts
	profile, err := promptWithDefault(reader, "AWS profile", "default")
	if err != nil {
		return err
	}
	region, err := promptWithDefault(reader, "AWS region", "eu-west-1")
	if err != nil {
		return err
	}
	maxImages, err := promptIntWithDefault(reader, "Images to offer per restore", 5)
	if err != nil {
		return err
	}

	cfg := config.Config{
		Version: 1,
		AWS: config.AWS{
			Profile: profile,
			Region:  region,
		},
		Restore: config.Restore{
			BackupDir: filepath.Join(baseDir, "backups"),
			ReportDir: filepath.Join(baseDir, "reports"),
			MaxImages: maxImages,
			LogLevel:  "info",
			LogFile:   filepath.Join(baseDir, "ec2-restore.log"),
		},
	}

	// Backup record encryption
	encrypt, err := promptWithDefault(reader, "Encrypt backup records? (yes/no)", "no")
	if err != nil {
		return err
	}
	if strings.ToLower(encrypt) == "yes" {
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return fmt.Errorf("failed to generate age key pair: %w", err)
		}
		keyPath := filepath.Join(baseDir, "keys", "backup.key")
		content := fmt.Sprintf("# created by ec2-restore init\n# public key: %s\n%s\n", identity.Recipient(), identity)
		if err := os.WriteFile(keyPath, []byte(content), 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		cfg.Encryption = &config.Encryption{
			Method:         "age",
			Recipient:      identity.Recipient().String(),
			PrivateKeyPath: keyPath,
		}
		fmt.Printf("✓ Wrote backup encryption key to %s\n", keyPath)
	}

	// Marshal and write config
	yamlData, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(cfgPath, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("✓ Wrote config to %s\n", cfgPath)
	fmt.Println("\nSetup complete. Review config.yaml, then run 'ec2-restore restore --instance-id <id>'.")

	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
