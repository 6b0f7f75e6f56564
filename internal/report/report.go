package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
)

// Restore types recorded in reports.
const (
	TypeFull   = "full"
	TypeVolume = "volume"
)

// Report is the change summary written after a restore.
type Report struct {
	Timestamp    time.Time `json:"timestamp"`
	RestoreType  string    `json:"restore_type"`
	InstanceName string    `json:"instance_name"`
	InstanceID   string    `json:"instance_id"`
	// NewInstanceID is null for in-place restores.
	NewInstanceID *string  `json:"new_instance_id"`
	Changes       *Changes `json:"changes,omitempty"`
}

// Changes groups what differed between the pre- and post-restore
// descriptions. Empty sections are omitted entirely.
type Changes struct {
	Volumes []VolumeChange         `json:"volumes,omitempty"`
	State   map[string]FieldChange `json:"state,omitempty"`
}

// VolumeChange records one device whose volume identity changed. A
// device only present on one side leaves the other id empty.
type VolumeChange struct {
	Device      string `json:"device"`
	OldVolumeID string `json:"old_volume_id,omitempty"`
	NewVolumeID string `json:"new_volume_id,omitempty"`
}

// FieldChange records one instance attribute that differs.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Diff compares the pre-restore and post-restore descriptions of an
// instance and builds the report. For a full restore, after describes
// the replacement instance.
func Diff(restoreType string, before, after *cloud.Instance) *Report {
	report := &Report{
		Timestamp:    time.Now().UTC(),
		RestoreType:  restoreType,
		InstanceName: before.Name(),
		InstanceID:   before.ID,
	}
	if report.InstanceName == "" {
		report.InstanceName = after.Name()
	}
	if after.ID != before.ID {
		id := after.ID
		report.NewInstanceID = &id
	}

	changes := &Changes{
		Volumes: compareVolumes(before, after),
		State:   compareState(before, after),
	}
	if len(changes.Volumes) > 0 || len(changes.State) > 0 {
		report.Changes = changes
	}
	return report
}

// compareVolumes diffs the block-device mappings by device name.
func compareVolumes(before, after *cloud.Instance) []VolumeChange {
	old := before.DeviceVolumes()
	current := after.DeviceVolumes()

	devices := make([]string, 0, len(old)+len(current))
	seen := make(map[string]struct{})
	for device := range old {
		devices = append(devices, device)
		seen[device] = struct{}{}
	}
	for device := range current {
		if _, ok := seen[device]; !ok {
			devices = append(devices, device)
		}
	}
	sort.Strings(devices)

	var changes []VolumeChange
	for _, device := range devices {
		if old[device] == current[device] {
			continue
		}
		changes = append(changes, VolumeChange{
			Device:      device,
			OldVolumeID: old[device],
			NewVolumeID: current[device],
		})
	}
	return changes
}

func compareState(before, after *cloud.Instance) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	record := func(field, old, current string) {
		if old != current {
			changes[field] = FieldChange{Old: old, New: current}
		}
	}
	record("instance_id", before.ID, after.ID)
	record("state", string(before.State), string(after.State))
	record("instance_type", before.Type, after.Type)
	record("image_id", before.ImageID, after.ImageID)
	record("private_ip", before.PrivateIP, after.PrivateIP)

	if len(changes) == 0 {
		return nil
	}
	return changes
}

// Write stores the report under dir and returns the file path.
func Write(report *Report, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	filename := fmt.Sprintf("restore_report_%s_%s.json", report.InstanceID, report.Timestamp.Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return path, nil
}

// Load loads a report from a JSON file.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	return &report, nil
}

// List returns all reports in the given directory, sorted by timestamp
// (newest first).
func List(dir string) ([]*Summary, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reports directory: %w", err)
	}

	var reports []*Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "restore_report_") || filepath.Ext(name) != ".json" {
			continue
		}

		path := filepath.Join(dir, name)
		report, err := Load(path)
		if err != nil {
			continue // Skip invalid reports
		}

		reports = append(reports, &Summary{
			Timestamp:    report.Timestamp,
			RestoreType:  report.RestoreType,
			InstanceID:   report.InstanceID,
			InstanceName: report.InstanceName,
			HasChanges:   report.Changes != nil,
			Path:         path,
		})
	}

	// Newest first
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.After(reports[j].Timestamp)
	})
	return reports, nil
}

// Summary is a lightweight summary for listing reports.
type Summary struct {
	Timestamp    time.Time
	RestoreType  string
	InstanceID   string
	InstanceName string
	HasChanges   bool
	Path         string
}
