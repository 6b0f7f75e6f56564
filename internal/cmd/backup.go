package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ec2restore.io/ec2-restore-cli/internal/backup"
	"ec2restore.io/ec2-restore-cli/internal/config"
	"ec2restore.io/ec2-restore-cli/internal/crypto"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage instance backup records",
	Long:  `List and view the backup records written before each restore.`,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		recorder, err := newRecorderFromConfig(cfg)
		if err != nil {
			return err
		}

		entries, err := recorder.List()
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No backup records found.")
			return nil
		}

		fmt.Printf("%-20s  %-19s  %-10s  %s\n", "Instance", "Timestamp", "Encrypted", "Path")
		fmt.Println(strings.Repeat("-", 96))
		for _, e := range entries {
			encrypted := "no"
			if e.Encrypted {
				encrypted = "yes"
			}
			fmt.Printf("%-20s  %-19s  %-10s  %s\n",
				e.InstanceID,
				e.Timestamp.Format("2006-01-02 15:04:05"),
				encrypted,
				e.Path,
			)
		}
		return nil
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show <instance-id>",
	Short: "Display the latest backup record for an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		recorder, err := newRecorderFromConfig(cfg)
		if err != nil {
			return err
		}

		record, err := recorder.Latest(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// ageKeyEnv names the environment variable consulted for an age
// private key when the config does not point at a key file.
const ageKeyEnv = "EC2_RESTORE_AGE_KEY"

// newRecorderFromConfig builds a read-capable recorder: the decryption
// key is wired in when configured so encrypted records can be shown.
func newRecorderFromConfig(cfg *config.Config) (*backup.Recorder, error) {
	logger, err := newLogger(&cfg.Restore)
	if err != nil {
		return nil, err
	}

	var opts []backup.Opt
	if cfg.Encryption != nil {
		switch {
		case cfg.Encryption.PrivateKeyPath != "":
			decryptor, err := crypto.NewAgeDecryptor(cfg.Encryption.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load backup decryption key: %w", err)
			}
			opts = append(opts, backup.WithDecryptor(decryptor))
		case os.Getenv(ageKeyEnv) != "":
			decryptor, err := crypto.NewAgeDecryptorFromEnv(ageKeyEnv)
			if err != nil {
				return nil, fmt.Errorf("failed to load backup decryption key: %w", err)
			}
			opts = append(opts, backup.WithDecryptor(decryptor))
		}
	}
	return backup.NewRecorder(cfg.Restore.BackupDir, logger, opts...), nil
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
}
