package cloud

import (
	"context"
	"time"
)

// Client is the capability surface the restore workflows need from the
// resource manager. Implementations own all SDK types and all error
// classification; callers see domain types and classified errors only.
type Client interface {
	// Instance describes one instance by id.
	Instance(ctx context.Context, id string) (*Instance, error)
	// InstanceByName finds the single non-terminated instance whose
	// Name tag equals name.
	InstanceByName(ctx context.Context, name string) (*Instance, error)
	// InstanceUserData fetches the instance's boot data, base64-encoded.
	InstanceUserData(ctx context.Context, id string) (string, error)
	// Images lists available self-owned images whose Name tag is name
	// or name-*, newest first, at most max entries.
	Images(ctx context.Context, name string, max int) ([]Image, error)
	// InstanceVolumes describes the volumes attached to an instance,
	// keyed by device name.
	InstanceVolumes(ctx context.Context, instanceID string) ([]Volume, error)
	// ImageVolumes lists the image's block-device template entries.
	ImageVolumes(ctx context.Context, imageID string) ([]TemplateVolume, error)

	CreateSnapshot(ctx context.Context, volumeID, description string) (string, error)
	CreateVolume(ctx context.Context, snapshotID, zone, volumeType string) (string, error)
	AttachVolume(ctx context.Context, volumeID, instanceID, device string) error
	DetachVolume(ctx context.Context, volumeID string) error
	// ForceDetachVolume breaks a stuck attachment. A volume that is not
	// attached at all is left alone.
	ForceDetachVolume(ctx context.Context, volumeID string) error
	DeleteVolume(ctx context.Context, volumeID string) error

	StopInstance(ctx context.Context, id string) error
	StartInstance(ctx context.Context, id string) error
	TerminateInstance(ctx context.Context, id string) error
	RunInstance(ctx context.Context, spec LaunchSpec) (string, error)
	CreateTags(ctx context.Context, resourceID string, tags map[string]string) error
	// SetNetworkInterfacePersistence flips whether the interface is
	// released when its instance terminates.
	SetNetworkInterfacePersistence(ctx context.Context, interfaceID, attachmentID string, persist bool) error

	WaitForInstanceState(ctx context.Context, id string, want InstanceState, timeout time.Duration) error
	// WaitForInstanceAvailable waits for a freshly launched instance to
	// reach running, tolerating the window where describe calls cannot
	// see it yet.
	WaitForInstanceAvailable(ctx context.Context, id string, timeout time.Duration) error
	WaitForSnapshotCompleted(ctx context.Context, snapshotID string, timeout time.Duration) error
	WaitForVolumeAvailable(ctx context.Context, volumeID string, timeout time.Duration) error
	// WaitForVolumeAttached waits for in-use with the attachment itself
	// reporting attached.
	WaitForVolumeAttached(ctx context.Context, volumeID string, timeout time.Duration) error
}
