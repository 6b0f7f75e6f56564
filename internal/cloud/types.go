package cloud

import "time"

// InstanceState is the lifecycle state EC2 reports for an instance.
type InstanceState string

const (
	InstancePending      InstanceState = "pending"
	InstanceRunning      InstanceState = "running"
	InstanceStopping     InstanceState = "stopping"
	InstanceStopped      InstanceState = "stopped"
	InstanceShuttingDown InstanceState = "shutting-down"
	InstanceTerminated   InstanceState = "terminated"
)

// Known reports whether s is one of the lifecycle states EC2 documents.
func (s InstanceState) Known() bool {
	switch s {
	case InstancePending, InstanceRunning, InstanceStopping, InstanceStopped,
		InstanceShuttingDown, InstanceTerminated:
		return true
	}
	return false
}

// VolumeState is the lifecycle state EC2 reports for an EBS volume.
type VolumeState string

const (
	VolumeCreating  VolumeState = "creating"
	VolumeAvailable VolumeState = "available"
	VolumeInUse     VolumeState = "in-use"
	VolumeDeleting  VolumeState = "deleting"
	VolumeError     VolumeState = "error"
)

// SnapshotState is the lifecycle state EC2 reports for an EBS snapshot.
type SnapshotState string

const (
	SnapshotPending   SnapshotState = "pending"
	SnapshotCompleted SnapshotState = "completed"
	SnapshotError     SnapshotState = "error"
)

// AttachmentAttached is the attachment state of a volume that is fully
// attached to an instance. A volume in `in-use` with an attachment still
// `attaching` is not done yet.
const AttachmentAttached = "attached"

// Instance is the client's description of an EC2 instance. It is the
// unit the backup recorder persists, so it carries everything a restore
// needs to rebuild the machine: type, placement, key pair, role binding,
// boot data, network attachments, block devices and tags.
type Instance struct {
	ID                string             `json:"InstanceId"`
	State             InstanceState      `json:"State"`
	Type              string             `json:"InstanceType"`
	ImageID           string             `json:"ImageId,omitempty"`
	Zone              string             `json:"AvailabilityZone,omitempty"`
	SubnetID          string             `json:"SubnetId,omitempty"`
	PrivateIP         string             `json:"PrivateIpAddress,omitempty"`
	KeyName           string             `json:"KeyName,omitempty"`
	IAMProfile        string             `json:"IamInstanceProfile,omitempty"`
	UserData          string             `json:"UserData,omitempty"`
	LaunchTime        time.Time          `json:"LaunchTime"`
	NetworkInterfaces []NetworkInterface `json:"NetworkInterfaces,omitempty"`
	BlockDevices      []BlockDevice      `json:"BlockDeviceMappings,omitempty"`
	Tags              map[string]string  `json:"Tags,omitempty"`
}

// Name returns the instance's Name tag, or "" when untagged.
func (i *Instance) Name() string {
	return i.Tags["Name"]
}

// PrimaryInterface returns the network attachment at device index 0.
func (i *Instance) PrimaryInterface() (NetworkInterface, bool) {
	for _, ni := range i.NetworkInterfaces {
		if ni.DeviceIndex == 0 {
			return ni, true
		}
	}
	return NetworkInterface{}, false
}

// DeviceVolumes returns the device name → volume id mapping of the
// instance's block devices.
func (i *Instance) DeviceVolumes() map[string]string {
	m := make(map[string]string, len(i.BlockDevices))
	for _, bd := range i.BlockDevices {
		m[bd.DeviceName] = bd.VolumeID
	}
	return m
}

// NetworkInterface is one network attachment of an instance.
type NetworkInterface struct {
	ID                  string   `json:"NetworkInterfaceId"`
	AttachmentID        string   `json:"AttachmentId,omitempty"`
	DeviceIndex         int32    `json:"DeviceIndex"`
	SubnetID            string   `json:"SubnetId,omitempty"`
	PrivateIP           string   `json:"PrivateIpAddress,omitempty"`
	SecurityGroupIDs    []string `json:"Groups,omitempty"`
	DeleteOnTermination bool     `json:"DeleteOnTermination"`
}

// BlockDevice is one entry of an instance's block-device mapping.
type BlockDevice struct {
	DeviceName          string `json:"DeviceName"`
	VolumeID            string `json:"VolumeId"`
	DeleteOnTermination bool   `json:"DeleteOnTermination"`
}

// Volume is an EBS volume, attached or not.
type Volume struct {
	ID                  string            `json:"VolumeId"`
	Device              string            `json:"Device,omitempty"`
	SizeGiB             int32             `json:"Size"`
	Type                string            `json:"VolumeType"`
	State               VolumeState       `json:"State"`
	DeleteOnTermination bool              `json:"DeleteOnTermination"`
	Attachment          *VolumeAttachment `json:"Attachment,omitempty"`
}

// Attached reports whether the volume is fully attached to an instance.
func (v *Volume) Attached() bool {
	return v.State == VolumeInUse && v.Attachment != nil && v.Attachment.State == AttachmentAttached
}

// VolumeAttachment describes where a volume is attached.
type VolumeAttachment struct {
	InstanceID string `json:"InstanceId"`
	Device     string `json:"Device"`
	State      string `json:"State"`
}

// TemplateVolume is one block-device entry of an image. Unlike an
// instance's block devices it references a snapshot, not a volume:
// images are templates volumes get re-created from.
type TemplateVolume struct {
	Device              string `json:"Device"`
	SnapshotID          string `json:"SnapshotId"`
	SizeGiB             int32  `json:"Size"`
	Type                string `json:"VolumeType"`
	DeleteOnTermination bool   `json:"DeleteOnTermination"`
}

// Snapshot is a point-in-time, immutable copy of a volume.
type Snapshot struct {
	ID          string        `json:"SnapshotId"`
	VolumeID    string        `json:"VolumeId"`
	State       SnapshotState `json:"State"`
	Description string        `json:"Description,omitempty"`
}

// Image is a machine image instances are launched from and replacement
// volumes are sourced from.
type Image struct {
	ID           string           `json:"ImageId"`
	Name         string           `json:"Name,omitempty"`
	Description  string           `json:"Description,omitempty"`
	State        string           `json:"State"`
	CreationDate time.Time        `json:"CreationDate"`
	Volumes      []TemplateVolume `json:"BlockDeviceMappings,omitempty"`
}

// LaunchSpec is everything needed to launch a replacement instance that
// inherits the source's identity-bearing configuration.
type LaunchSpec struct {
	ImageID            string
	InstanceType       string
	KeyName            string
	IAMProfile         string
	Zone               string
	UserData           string
	NetworkInterfaceID string // re-attached at device index 0
}
