package restore

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
)

// VolumeSwap records one device whose volume was replaced.
type VolumeSwap struct {
	Device      string
	OldVolumeID string
	NewVolumeID string
	SnapshotID  string // image snapshot the replacement was created from
}

// VolumeResult is the outcome of a volume-level restore.
type VolumeResult struct {
	BackupPath      string
	Before          *cloud.Instance
	After           *cloud.Instance
	SafetySnapshots map[string]string // device → snapshot id
	Swapped         []VolumeSwap
}

// recovery is the accumulated reversible state of one volume restore.
// Rollback is computed from it alone, never from assumptions about how
// far the workflow got.
type recovery struct {
	originalState cloud.InstanceState
	snapshots     map[string]string // device → safety snapshot
	created       []string          // replacement volume ids, creation order
	detached      map[string]string // device → original volume detach was issued for
}

// RestoreVolumes swaps the selected devices of an instance for fresh
// volumes created from the image's template snapshots. An empty device
// selection means every device the image carries. Devices outside the
// selection are never mutated, but every attached volume gets a safety
// snapshot first. Any failure after the snapshots triggers rollback
// before the original error is returned.
func (o *Orchestrator) RestoreVolumes(ctx context.Context, instanceID, imageID string, devices []string) (*VolumeResult, error) {
	logger := o.logger.WithFields(log.Fields{"instance": instanceID, "image": imageID, "workflow": "volume"})

	inst, backupPath, err := o.capture(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State != cloud.InstanceRunning && inst.State != cloud.InstanceStopped {
		return nil, &PreconditionError{Reason: fmt.Sprintf("instance %s is %s, volume restore needs running or stopped", instanceID, inst.State)}
	}

	templates, err := o.client.ImageVolumes(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate image volumes: %w", err)
	}
	selected, err := selectTemplates(imageID, templates, devices)
	if err != nil {
		return nil, err
	}

	result := &VolumeResult{BackupPath: backupPath, Before: inst}
	rec := &recovery{
		originalState: inst.State,
		detached:      make(map[string]string),
	}

	snapshots, err := o.snapshotAll(ctx, inst, fmt.Sprintf("volume restore of %s", instanceID))
	result.SafetySnapshots = snapshots
	rec.snapshots = snapshots
	if err != nil {
		// Nothing has been mutated yet; the snapshots simply remain.
		return result, err
	}

	swapped, err := o.swapVolumes(ctx, inst, selected, rec)
	result.Swapped = swapped
	if err != nil {
		o.rollback(ctx, inst, rec, logger)
		return result, err
	}

	after, err := o.client.Instance(ctx, instanceID)
	if err != nil {
		return result, fmt.Errorf("failed to describe instance after restore: %w", err)
	}
	result.After = after
	logger.Info("volume restore complete")
	return result, nil
}

// selectTemplates filters the image's template volumes down to the
// requested devices, in device-name order. An unknown device or one
// without a source snapshot fails the whole selection rather than
// restoring partially.
func selectTemplates(imageID string, templates []cloud.TemplateVolume, devices []string) ([]cloud.TemplateVolume, error) {
	byDevice := make(map[string]cloud.TemplateVolume, len(templates))
	for _, tpl := range templates {
		byDevice[tpl.Device] = tpl
	}

	var selected []cloud.TemplateVolume
	if len(devices) == 0 {
		for _, tpl := range templates {
			if tpl.SnapshotID == "" {
				continue // ephemeral mapping, nothing to restore from
			}
			selected = append(selected, tpl)
		}
	} else {
		seen := make(map[string]struct{}, len(devices))
		for _, device := range devices {
			if _, dup := seen[device]; dup {
				continue
			}
			seen[device] = struct{}{}
			tpl, ok := byDevice[device]
			if !ok {
				return nil, &PreconditionError{Reason: fmt.Sprintf("image %s has no volume for device %s", imageID, device)}
			}
			if tpl.SnapshotID == "" {
				return nil, &PreconditionError{Reason: fmt.Sprintf("image volume for device %s has no source snapshot", device)}
			}
			selected = append(selected, tpl)
		}
	}

	if len(selected) == 0 {
		return nil, &PreconditionError{Reason: fmt.Sprintf("image %s has no restorable volumes", imageID)}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Device < selected[j].Device })
	return selected, nil
}

// swapVolumes performs the mutating half of the volume workflow:
// replacements are created up front while the instance still runs, then
// the instance is stopped and each selected device is re-pointed.
func (o *Orchestrator) swapVolumes(ctx context.Context, inst *cloud.Instance, selected []cloud.TemplateVolume, rec *recovery) ([]VolumeSwap, error) {
	current := inst.DeviceVolumes()

	newVolumes := make(map[string]string, len(selected))
	for _, tpl := range selected {
		volID, err := o.client.CreateVolume(ctx, tpl.SnapshotID, inst.Zone, tpl.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to create volume for %s: %w", tpl.Device, err)
		}
		rec.created = append(rec.created, volID)
		if err := o.client.WaitForVolumeAvailable(ctx, volID, o.waitTimeout); err != nil {
			return nil, fmt.Errorf("replacement volume %s: %w", volID, err)
		}
		newVolumes[tpl.Device] = volID
		o.progress("Replacement volume %s created for %s", volID, tpl.Device)
	}

	if rec.originalState == cloud.InstanceRunning {
		if err := o.client.StopInstance(ctx, inst.ID); err != nil {
			return nil, err
		}
		if err := o.client.WaitForInstanceState(ctx, inst.ID, cloud.InstanceStopped, o.waitTimeout); err != nil {
			return nil, err
		}
		o.progress("Instance %s stopped for volume swap", inst.ID)
	}

	var swapped []VolumeSwap
	for _, tpl := range selected {
		oldID := current[tpl.Device]
		if oldID != "" {
			if err := o.detachOld(ctx, oldID, tpl.Device, rec); err != nil {
				return swapped, err
			}
		}
		newID := newVolumes[tpl.Device]
		if err := o.attachWithRetry(ctx, newID, inst.ID, tpl.Device, oldID); err != nil {
			return swapped, err
		}
		swapped = append(swapped, VolumeSwap{
			Device:      tpl.Device,
			OldVolumeID: oldID,
			NewVolumeID: newID,
			SnapshotID:  tpl.SnapshotID,
		})
		o.progress("Device %s now backed by %s", tpl.Device, newID)
	}

	if rec.originalState == cloud.InstanceRunning {
		if err := o.client.StartInstance(ctx, inst.ID); err != nil {
			return swapped, err
		}
		if err := o.client.WaitForInstanceState(ctx, inst.ID, cloud.InstanceRunning, o.waitTimeout); err != nil {
			return swapped, err
		}
		o.progress("Instance %s running again", inst.ID)
	}
	return swapped, nil
}

// detachOld removes the outgoing volume from its device. A volume that
// is already detached counts as success. The device is marked disturbed
// as soon as the detach is issued, not when it is confirmed; rollback
// re-checks the live attachment either way.
func (o *Orchestrator) detachOld(ctx context.Context, volumeID, device string, rec *recovery) error {
	if err := o.client.DetachVolume(ctx, volumeID); err != nil {
		if !cloud.IsNotAttached(err) {
			return fmt.Errorf("failed to detach %s from %s: %w", volumeID, device, err)
		}
		o.logger.WithField("volume", volumeID).Info("old volume already detached")
		rec.detached[device] = volumeID
		return nil
	}
	rec.detached[device] = volumeID

	if err := o.client.WaitForVolumeAvailable(ctx, volumeID, o.waitTimeout); err != nil {
		return fmt.Errorf("old volume %s: %w", volumeID, err)
	}
	o.progress("Old volume %s detached from %s", volumeID, device)
	return nil
}

// attachWithRetry attaches the replacement at its device. When the
// device name is still held by the outgoing attachment, the old volume
// is force-detached and the attach retried exactly once.
func (o *Orchestrator) attachWithRetry(ctx context.Context, volumeID, instanceID, device, oldVolumeID string) error {
	err := o.client.AttachVolume(ctx, volumeID, instanceID, device)
	if cloud.IsAttachmentConflict(err) && oldVolumeID != "" {
		o.logger.WithFields(log.Fields{"device": device, "volume": oldVolumeID}).Warn("device still in use, force detaching old volume")
		if ferr := o.client.ForceDetachVolume(ctx, oldVolumeID); ferr != nil {
			return fmt.Errorf("failed to force detach %s: %w", oldVolumeID, ferr)
		}
		if werr := o.client.WaitForVolumeAvailable(ctx, oldVolumeID, o.waitTimeout); werr != nil {
			return fmt.Errorf("old volume %s after force detach: %w", oldVolumeID, werr)
		}
		err = o.client.AttachVolume(ctx, volumeID, instanceID, device)
	}
	if err != nil {
		return fmt.Errorf("failed to attach %s at %s: %w", volumeID, device, err)
	}

	if err := o.client.WaitForVolumeAttached(ctx, volumeID, o.waitTimeout); err != nil {
		return fmt.Errorf("replacement volume %s at %s: %w", volumeID, device, err)
	}
	return nil
}

// rollback unwinds a failed volume restore from the accumulated
// recovery state: created replacements are deleted, every disturbed
// device whose original volume is no longer attached is recovered from
// its own safety snapshot at its own device name, and the instance is
// brought back to its originally observed lifecycle state. Each step is
// best-effort and logged; nothing here may mask the workflow error the
// caller is about to receive.
func (o *Orchestrator) rollback(ctx context.Context, inst *cloud.Instance, rec *recovery, logger log.FieldLogger) {
	logger.Warn("rolling back volume restore")

	for _, volID := range rec.created {
		vlog := logger.WithField("volume", volID)
		if err := o.client.DetachVolume(ctx, volID); err != nil && !cloud.IsNotAttached(err) {
			vlog.WithError(err).Warn("rollback: failed to detach created volume")
			continue
		}
		if err := o.client.WaitForVolumeAvailable(ctx, volID, o.waitTimeout); err != nil {
			vlog.WithError(err).Warn("rollback: created volume never became available")
			continue
		}
		if err := o.client.DeleteVolume(ctx, volID); err != nil && !cloud.IsNotFound(err) {
			vlog.WithError(err).Warn("rollback: failed to delete created volume")
			continue
		}
		vlog.Info("rollback: created volume removed")
	}

	fresh, err := o.client.Instance(ctx, inst.ID)
	if err != nil {
		logger.WithError(err).Warn("rollback: cannot describe instance, leaving devices as they are")
		return
	}
	current := fresh.DeviceVolumes()

	devices := make([]string, 0, len(rec.detached))
	for device := range rec.detached {
		devices = append(devices, device)
	}
	sort.Strings(devices)

	for _, device := range devices {
		originalID := rec.detached[device]
		dlog := logger.WithFields(log.Fields{"device": device, "volume": originalID})

		if current[device] == originalID {
			dlog.Info("rollback: original volume still attached, nothing to recover")
			continue
		}
		if current[device] != "" {
			dlog.Warn("rollback: device still occupied, skipping recovery")
			continue
		}
		snapID := rec.snapshots[device]
		if snapID == "" {
			dlog.Warn("rollback: no safety snapshot for device")
			continue
		}

		recoveredID, err := o.client.CreateVolume(ctx, snapID, inst.Zone, "")
		if err != nil {
			dlog.WithError(err).Warn("rollback: failed to create recovery volume")
			continue
		}
		if err := o.client.WaitForVolumeAvailable(ctx, recoveredID, o.waitTimeout); err != nil {
			dlog.WithError(err).Warn("rollback: recovery volume never became available")
			continue
		}
		if err := o.client.AttachVolume(ctx, recoveredID, inst.ID, device); err != nil {
			dlog.WithError(err).Warn("rollback: failed to attach recovery volume")
			continue
		}
		if err := o.client.WaitForVolumeAttached(ctx, recoveredID, o.waitTimeout); err != nil {
			dlog.WithError(err).Warn("rollback: recovery volume never attached")
			continue
		}
		dlog.WithField("recovered", recoveredID).Info("rollback: device recovered from safety snapshot")
	}

	switch {
	case rec.originalState == cloud.InstanceRunning && fresh.State != cloud.InstanceRunning:
		if err := o.client.StartInstance(ctx, inst.ID); err != nil {
			logger.WithError(err).Warn("rollback: failed to start instance")
			return
		}
		if err := o.client.WaitForInstanceState(ctx, inst.ID, cloud.InstanceRunning, o.waitTimeout); err != nil {
			logger.WithError(err).Warn("rollback: instance did not reach running")
		}
	case rec.originalState == cloud.InstanceStopped && fresh.State == cloud.InstanceRunning:
		if err := o.client.StopInstance(ctx, inst.ID); err != nil {
			logger.WithError(err).Warn("rollback: failed to stop instance")
			return
		}
		if err := o.client.WaitForInstanceState(ctx, inst.ID, cloud.InstanceStopped, o.waitTimeout); err != nil {
			logger.WithError(err).Warn("rollback: instance did not reach stopped")
		}
	}
	logger.Info("rollback finished")
}
