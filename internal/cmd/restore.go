package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ec2restore.io/ec2-restore-cli/internal/backup"
	"ec2restore.io/ec2-restore-cli/internal/cloud"
	"ec2restore.io/ec2-restore-cli/internal/config"
	"ec2restore.io/ec2-restore-cli/internal/crypto"
	"ec2restore.io/ec2-restore-cli/internal/report"
	"ec2restore.io/ec2-restore-cli/internal/restore"
	"ec2restore.io/ec2-restore-cli/internal/ssm"
)

var (
	flagInstanceID   string
	flagInstanceName string
	flagInstanceIDs  string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore an instance from one of its images",
	Long: `Restores an EC2 instance from an AMI taken of it.

This command performs the following steps:
1. Resolves the target instance(s) and lists the available images.
2. Prompts for the source image, the restore mode, and (for volume
   mode) the devices to restore. Any prompt accepts q/quit to abort.
3. Writes a backup record of the instance and takes safety snapshots
   of every attached volume.
4. Runs the restore: full replaces the whole instance, volume swaps
   the selected devices for fresh volumes built from the image.
5. Writes a change report and, when configured, pushes a completion
   metric and runs post-restore commands on the instance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runRestore()
		if errors.Is(err, ErrAborted) {
			fmt.Println("Restore aborted.")
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVar(&flagInstanceID, "instance-id", "", "Instance id to restore")
	restoreCmd.Flags().StringVar(&flagInstanceName, "instance-name", "", "Name tag of the instance to restore")
	restoreCmd.Flags().StringVar(&flagInstanceIDs, "instance-ids", "", "Comma-separated instance ids for a batch restore")
}

func runRestore() error {
	ctx := context.Background()

	// 1. Load configuration and set up logging
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(&cfg.Restore)
	if err != nil {
		return err
	}
	runID := uuid.New().String()

	// 2. Build the EC2-backed client
	awsCfg, err := cloud.LoadAWSConfig(ctx, &cfg.AWS)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	client := cloud.NewEC2Client(ec2.NewFromConfig(awsCfg), logger)

	// 3. Resolve the target instances
	targets, err := resolveTargets(ctx, client)
	if err != nil {
		return err
	}

	// 4. Backup recorder, encrypting records when configured
	var recorderOpts []backup.Opt
	if cfg.Encryption != nil {
		encryptor, err := crypto.NewAgeEncryptor(cfg.Encryption.Recipient)
		if err != nil {
			return fmt.Errorf("failed to set up backup encryption: %w", err)
		}
		recorderOpts = append(recorderOpts, backup.WithEncryptor(encryptor))
	}
	recorder := backup.NewRecorder(cfg.Restore.BackupDir, logger, recorderOpts...)

	orch := restore.NewOrchestrator(client, recorder, logger, restore.WithRunID(runID))
	runner := newCommandRunner(cfg, awsCfg, logger, runID)

	// 5. Restore each target, prompting between batch failures
	reader := bufio.NewReader(os.Stdin)
	for i, target := range targets {
		err := restoreOne(ctx, reader, cfg, client, orch, runner, logger, target)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrAborted) {
			return err
		}
		if !restore.IsPrecondition(err) && !cloud.IsTimeout(err) {
			return err
		}

		fmt.Printf("✗ Restore of %s failed: %v\n", target, err)
		if i == len(targets)-1 {
			continue
		}
		cont, perr := promptConfirm(reader, "Continue with the remaining instances?")
		if perr != nil {
			return perr
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// resolveTargets turns the selector flags into a list of instance ids.
func resolveTargets(ctx context.Context, client cloud.Client) ([]string, error) {
	set := 0
	for _, flag := range []string{flagInstanceID, flagInstanceName, flagInstanceIDs} {
		if flag != "" {
			set++
		}
	}
	if set == 0 {
		return nil, fmt.Errorf("one of --instance-id, --instance-name or --instance-ids is required")
	}
	if set > 1 {
		return nil, fmt.Errorf("--instance-id, --instance-name and --instance-ids are mutually exclusive")
	}

	switch {
	case flagInstanceID != "":
		return []string{flagInstanceID}, nil
	case flagInstanceName != "":
		inst, err := client.InstanceByName(ctx, flagInstanceName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve instance name %q: %w", flagInstanceName, err)
		}
		return []string{inst.ID}, nil
	default:
		ids := splitIDs(flagInstanceIDs)
		if len(ids) == 0 {
			return nil, fmt.Errorf("--instance-ids needs at least one instance id")
		}
		return ids, nil
	}
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// newCommandRunner wires the Systems Manager add-on when enabled.
func newCommandRunner(cfg *config.Config, awsCfg aws.Config, logger log.FieldLogger, runID string) *ssm.Runner {
	sm := cfg.SystemsManager
	if sm == nil || !sm.Enabled {
		return nil
	}
	opts := []ssm.Opt{ssm.WithRunID(runID)}
	if sm.OutputS3Bucket != "" {
		opts = append(opts, ssm.WithObjectStore(s3.NewFromConfig(awsCfg)))
	}
	return ssm.NewRunner(awsssm.NewFromConfig(awsCfg), sm, logger, opts...)
}

func restoreOne(ctx context.Context, reader *bufio.Reader, cfg *config.Config, client cloud.Client, orch *restore.Orchestrator, runner *ssm.Runner, logger log.FieldLogger, instanceID string) error {
	inst, err := client.Instance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	name := inst.Name()
	if name == "" {
		name = instanceID
	}
	fmt.Printf("\nRestoring %s (%s, %s)\n", name, instanceID, inst.State)

	// 1. Pick the source image
	images, err := client.Images(ctx, name, cfg.Restore.MaxImages)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(images) == 0 {
		return &restore.PreconditionError{Reason: fmt.Sprintf("no images found for %q", name)}
	}

	fmt.Printf("\n%-4s %-24s %-20s %s\n", "#", "Image", "Created", "Description")
	fmt.Println(strings.Repeat("-", 78))
	for i, img := range images {
		fmt.Printf("%-4d %-24s %-20s %s\n", i+1, img.ID, img.CreationDate.Format("2006-01-02 15:04:05"), img.Description)
	}
	choice, err := promptIndex(reader, "Select image", len(images))
	if err != nil {
		return err
	}
	image := images[choice-1]

	// 2. Pick the restore mode and run the workflow
	mode, err := promptMode(reader)
	if err != nil {
		return err
	}

	var rpt *report.Report
	switch mode {
	case report.TypeFull:
		rpt, err = runFullRestore(ctx, reader, orch, instanceID, image)
	case report.TypeVolume:
		rpt, err = runVolumeRestore(ctx, reader, client, orch, instanceID, image)
	}
	if err != nil {
		return err
	}

	// 3. Record what changed
	path, err := report.Write(rpt, cfg.Restore.ReportDir)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Printf("✓ Report saved to %s\n", path)

	// 4. Completion metric, best effort
	if cfg.Restore.PushgatewayURL != "" {
		if err := restore.PushCompletion(cfg.Restore.PushgatewayURL, instanceID, rpt.RestoreType); err != nil {
			logger.WithError(err).Warn("failed to push completion metric")
		}
	}

	// 5. Post-restore commands on the live instance
	if runner != nil {
		targetID := instanceID
		if rpt.NewInstanceID != nil {
			targetID = *rpt.NewInstanceID
		}
		results, err := runner.Run(ctx, targetID)
		if err != nil {
			return fmt.Errorf("post-restore commands: %w", err)
		}
		if len(results) > 0 {
			fmt.Printf("✓ %d post-restore command(s) completed\n", len(results))
		}
	}
	return nil
}

func promptMode(reader *bufio.Reader) (string, error) {
	for {
		input, err := promptLine(reader, "Restore mode (full/volume) [full]")
		if err != nil {
			return "", err
		}
		switch strings.ToLower(input) {
		case "", report.TypeFull:
			return report.TypeFull, nil
		case report.TypeVolume:
			return report.TypeVolume, nil
		}
		fmt.Println(`Please answer "full" or "volume".`)
	}
}

func runFullRestore(ctx context.Context, reader *bufio.Reader, orch *restore.Orchestrator, instanceID string, image cloud.Image) (*report.Report, error) {
	fmt.Printf("\nFull restore TERMINATES %s and launches a replacement from %s.\n", instanceID, image.ID)
	ok, err := promptConfirm(reader, "Proceed with full restore?")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAborted
	}

	res, err := orch.RestoreFull(ctx, instanceID, image.ID)
	if err != nil {
		if res != nil {
			printSnapshots(res.SafetySnapshots)
		}
		return nil, err
	}

	fmt.Printf("✓ Instance restored as %s\n", res.NewInstanceID)
	return report.Diff(report.TypeFull, res.Before, res.After), nil
}

func runVolumeRestore(ctx context.Context, reader *bufio.Reader, client cloud.Client, orch *restore.Orchestrator, instanceID string, image cloud.Image) (*report.Report, error) {
	templates, err := client.ImageVolumes(ctx, image.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate image volumes: %w", err)
	}
	if len(templates) == 0 {
		return nil, &restore.PreconditionError{Reason: fmt.Sprintf("image %s has no volumes", image.ID)}
	}

	fmt.Printf("\nVolumes in %s:\n", image.ID)
	fmt.Printf("%-4s %-12s %-24s %s\n", "#", "Device", "Snapshot", "Size")
	fmt.Println(strings.Repeat("-", 56))
	for i, tpl := range templates {
		snap := tpl.SnapshotID
		if snap == "" {
			snap = "(none)"
		}
		fmt.Printf("%-4d %-12s %-24s %d GiB\n", i+1, tpl.Device, snap, tpl.SizeGiB)
	}
	devices, err := promptDevices(reader, templates)
	if err != nil {
		return nil, err
	}

	current, err := client.InstanceVolumes(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attached volumes: %w", err)
	}
	fmt.Println("\nCurrently attached:")
	fmt.Printf("%-12s %-24s %-12s %s\n", "Device", "Volume", "State", "Size")
	fmt.Println(strings.Repeat("-", 60))
	for _, vol := range current {
		fmt.Printf("%-12s %-24s %-12s %d GiB\n", vol.Device, vol.ID, vol.State, vol.SizeGiB)
	}

	scope := "all devices"
	if len(devices) > 0 {
		scope = strings.Join(devices, ", ")
	}
	ok, err := promptConfirm(reader, fmt.Sprintf("Swap %s on %s?", scope, instanceID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAborted
	}

	res, err := orch.RestoreVolumes(ctx, instanceID, image.ID, devices)
	if err != nil {
		if res != nil {
			printSnapshots(res.SafetySnapshots)
		}
		return nil, err
	}

	fmt.Printf("\n%-12s %-24s %s\n", "Device", "Old Volume", "New Volume")
	fmt.Println(strings.Repeat("-", 62))
	for _, swap := range res.Swapped {
		old := swap.OldVolumeID
		if old == "" {
			old = "(none)"
		}
		fmt.Printf("%-12s %-24s %s\n", swap.Device, old, swap.NewVolumeID)
	}
	return report.Diff(report.TypeVolume, res.Before, res.After), nil
}

// promptDevices reads the device selection: "all", or a comma-separated
// list of the indexes shown next to the image volumes.
func promptDevices(reader *bufio.Reader, templates []cloud.TemplateVolume) ([]string, error) {
	for {
		input, err := promptLine(reader, `Devices to restore ("all" or indexes like 1,3)`)
		if err != nil {
			return nil, err
		}
		if input == "" || strings.EqualFold(input, "all") {
			return nil, nil
		}
		indexes, err := parseIndexes(input, len(templates))
		if err != nil {
			fmt.Printf("Invalid selection: %v\n", err)
			continue
		}
		devices := make([]string, 0, len(indexes))
		for _, idx := range indexes {
			devices = append(devices, templates[idx-1].Device)
		}
		return devices, nil
	}
}

// printSnapshots lists the safety snapshots a failed restore left
// behind; they are the substrate for manual recovery.
func printSnapshots(snapshots map[string]string) {
	if len(snapshots) == 0 {
		return
	}
	fmt.Println("Safety snapshots retained:")
	devices := make([]string, 0, len(snapshots))
	for device := range snapshots {
		devices = append(devices, device)
	}
	sort.Strings(devices)
	for _, device := range devices {
		fmt.Printf("  %-12s %s\n", device, snapshots[device])
	}
}
