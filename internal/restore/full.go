package restore

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
)

// FullResult is the outcome of a full-instance restore. On failure it
// still carries whatever was produced before the error, most notably
// the safety snapshots.
type FullResult struct {
	BackupPath      string
	Before          *cloud.Instance
	After           *cloud.Instance
	NewInstanceID   string
	SafetySnapshots map[string]string // device → snapshot id
}

// RestoreFull replaces the whole instance with a fresh launch from
// imageID, carrying forward instance type, role binding, key pair,
// placement, boot data, tags, and the primary network interface.
//
// The source instance is terminated mid-way. Failures after that point
// cannot resurrect it and are surfaced as terminal; the safety
// snapshots and the backup record are the recovery substrate.
func (o *Orchestrator) RestoreFull(ctx context.Context, instanceID, imageID string) (*FullResult, error) {
	logger := o.logger.WithFields(log.Fields{"instance": instanceID, "image": imageID, "workflow": "full"})

	inst, backupPath, err := o.capture(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	primary, ok := inst.PrimaryInterface()
	if !ok {
		return nil, &PreconditionError{Reason: fmt.Sprintf("instance %s has no primary network attachment", instanceID)}
	}

	result := &FullResult{BackupPath: backupPath, Before: inst}

	snapshots, err := o.snapshotAll(ctx, inst, fmt.Sprintf("full restore of %s", instanceID))
	result.SafetySnapshots = snapshots
	if err != nil {
		return result, err
	}

	// Keep the interface alive through termination so the replacement
	// inherits the private address and security-group bindings.
	if err := o.client.SetNetworkInterfacePersistence(ctx, primary.ID, primary.AttachmentID, true); err != nil {
		return result, fmt.Errorf("failed to preserve network interface %s: %w", primary.ID, err)
	}
	o.progress("Network interface %s marked to survive termination", primary.ID)

	if inst.State != cloud.InstanceStopped {
		if err := o.client.StopInstance(ctx, instanceID); err != nil {
			return result, err
		}
		if err := o.client.WaitForInstanceState(ctx, instanceID, cloud.InstanceStopped, o.waitTimeout); err != nil {
			return result, err
		}
		o.progress("Instance %s stopped", instanceID)
	}

	if err := o.client.TerminateInstance(ctx, instanceID); err != nil {
		return result, err
	}
	if err := o.client.WaitForInstanceState(ctx, instanceID, cloud.InstanceTerminated, o.waitTimeout); err != nil {
		return result, err
	}
	o.progress("Instance %s terminated", instanceID)

	// The interface stays bound to the terminated instance for a while
	// even after the state reads terminated.
	logger.WithField("settle", o.terminationSettle).Info("waiting for network interface release")
	o.sleep(o.terminationSettle)

	newID, err := o.client.RunInstance(ctx, cloud.LaunchSpec{
		ImageID:            imageID,
		InstanceType:       inst.Type,
		KeyName:            inst.KeyName,
		IAMProfile:         inst.IAMProfile,
		Zone:               inst.Zone,
		UserData:           inst.UserData,
		NetworkInterfaceID: primary.ID,
	})
	if err != nil {
		return result, fmt.Errorf("failed to launch replacement: %w", err)
	}
	result.NewInstanceID = newID
	logger = logger.WithField("replacement", newID)
	logger.Info("replacement launched")

	// Full availability takes longer than a plain state flip, so the
	// check gets double the budget plus a settle wait.
	if err := o.client.WaitForInstanceAvailable(ctx, newID, 2*o.waitTimeout); err != nil {
		return result, fmt.Errorf("replacement %s: %w", newID, err)
	}
	o.sleep(o.launchSettle)
	o.progress("Replacement instance %s is running", newID)

	if err := o.client.CreateTags(ctx, newID, inst.Tags); err != nil {
		return result, fmt.Errorf("failed to restore tags on %s: %w", newID, err)
	}
	o.progress("Tags restored on %s", newID)

	// Volumes flagged delete-on-termination were released with the
	// source; the rest are reclaimed here, best-effort per volume.
	for _, bd := range inst.BlockDevices {
		if bd.DeleteOnTermination {
			continue
		}
		vlog := logger.WithFields(log.Fields{"volume": bd.VolumeID, "device": bd.DeviceName})
		if err := o.client.WaitForVolumeAvailable(ctx, bd.VolumeID, o.waitTimeout); err != nil {
			vlog.WithError(err).Warn("old volume not reclaimable, skipping")
			continue
		}
		if err := o.client.DeleteVolume(ctx, bd.VolumeID); err != nil {
			if cloud.IsNotFound(err) {
				continue
			}
			vlog.WithError(err).Warn("failed to delete old volume")
			continue
		}
		o.progress("Old volume %s deleted", bd.VolumeID)
	}

	after, err := o.client.Instance(ctx, newID)
	if err != nil {
		return result, fmt.Errorf("failed to describe replacement %s: %w", newID, err)
	}
	result.After = after
	logger.Info("full restore complete")
	return result, nil
}
