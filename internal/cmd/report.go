package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ec2restore.io/ec2-restore-cli/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Manage restore reports",
	Long:  `List and view the change reports written after each restore.`,
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restore reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		summaries, err := report.List(cfg.Restore.ReportDir)
		if err != nil {
			return fmt.Errorf("failed to list reports: %w", err)
		}
		if len(summaries) == 0 {
			fmt.Println("No reports found.")
			return nil
		}

		fmt.Printf("%-20s  %-19s  %-8s  %-20s  %s\n", "Instance", "Timestamp", "Type", "Name", "Changes")
		fmt.Println(strings.Repeat("-", 84))
		for _, s := range summaries {
			changes := "none"
			if s.HasChanges {
				changes = "yes"
			}
			fmt.Printf("%-20s  %-19s  %-8s  %-20s  %s\n",
				s.InstanceID,
				s.Timestamp.Format("2006-01-02 15:04:05"),
				s.RestoreType,
				s.InstanceName,
				changes,
			)
		}
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <instance-id|file>",
	Short: "Display a restore report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		rpt, path, err := findReport(cfg.Restore.ReportDir, args[0])
		if err != nil {
			return err
		}

		showJSON, _ := cmd.Flags().GetBool("json")
		if showJSON {
			data, err := json.MarshalIndent(rpt, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Report: %s\n", path)
		fmt.Printf("Timestamp: %s\n", rpt.Timestamp.Format("2006-01-02 15:04:05 UTC"))
		fmt.Printf("Restore Type: %s\n", rpt.RestoreType)
		fmt.Printf("Instance: %s (%s)\n", rpt.InstanceName, rpt.InstanceID)
		if rpt.NewInstanceID != nil {
			fmt.Printf("Replacement: %s\n", *rpt.NewInstanceID)
		}
		fmt.Println()

		if rpt.Changes == nil {
			fmt.Println("No changes recorded.")
			return nil
		}
		if len(rpt.Changes.Volumes) > 0 {
			fmt.Println("Volume changes:")
			fmt.Printf("  %-12s %-24s %s\n", "Device", "Old", "New")
			for _, vc := range rpt.Changes.Volumes {
				old := vc.OldVolumeID
				if old == "" {
					old = "(none)"
				}
				newID := vc.NewVolumeID
				if newID == "" {
					newID = "(removed)"
				}
				fmt.Printf("  %-12s %-24s %s\n", vc.Device, old, newID)
			}
			fmt.Println()
		}
		if len(rpt.Changes.State) > 0 {
			fmt.Println("State changes:")
			fields := make([]string, 0, len(rpt.Changes.State))
			for field := range rpt.Changes.State {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			for _, field := range fields {
				change := rpt.Changes.State[field]
				fmt.Printf("  %-16s %s -> %s\n", field, change.Old, change.New)
			}
		}
		return nil
	},
}

// findReport resolves a report by file path, exact instance id (newest
// report wins), or instance id prefix.
func findReport(dir, key string) (*report.Report, string, error) {
	if _, err := os.Stat(key); err == nil {
		rpt, err := report.Load(key)
		return rpt, key, err
	}

	summaries, err := report.List(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list reports: %w", err)
	}

	for _, s := range summaries {
		if s.InstanceID == key {
			rpt, err := report.Load(s.Path)
			return rpt, s.Path, err
		}
	}

	var matches []*report.Summary
	instances := make(map[string]struct{})
	for _, s := range summaries {
		if strings.HasPrefix(s.InstanceID, key) || strings.Contains(filepath.Base(s.Path), key) {
			matches = append(matches, s)
			instances[s.InstanceID] = struct{}{}
		}
	}
	if len(matches) == 0 {
		return nil, "", fmt.Errorf("report not found: %s", key)
	}
	if len(instances) > 1 {
		return nil, "", fmt.Errorf("ambiguous report key %q matches %d instances", key, len(instances))
	}

	rpt, err := report.Load(matches[0].Path)
	return rpt, matches[0].Path, err
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)

	reportShowCmd.Flags().Bool("json", false, "Output report as JSON")
}
