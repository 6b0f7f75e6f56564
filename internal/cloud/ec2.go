package cloud

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	log "github.com/sirupsen/logrus"
)

// EC2API is the subset of the EC2 service client the restore client
// calls. Narrowing it to an interface keeps the client testable without
// the real service.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeInstanceAttribute(ctx context.Context, params *ec2.DescribeInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	ModifyNetworkInterfaceAttribute(ctx context.Context, params *ec2.ModifyNetworkInterfaceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyNetworkInterfaceAttributeOutput, error)
}

// EC2Client implements Client against the EC2 API.
type EC2Client struct {
	api      EC2API
	logger   log.FieldLogger
	interval time.Duration
}

// Option adjusts an EC2Client.
type Option func(*EC2Client)

// WithPollInterval overrides the cadence of the client's poll-waits.
func WithPollInterval(d time.Duration) Option {
	return func(c *EC2Client) { c.interval = d }
}

// NewEC2Client wraps an EC2 service client.
func NewEC2Client(api EC2API, logger log.FieldLogger, opts ...Option) *EC2Client {
	c := &EC2Client{
		api:      api,
		logger:   logger.WithField("component", "ec2"),
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Instance describes one instance by id.
func (c *EC2Client) Instance(ctx context.Context, id string) (*Instance, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, classify("DescribeInstances", err)
	}
	for _, r := range out.Reservations {
		for _, in := range r.Instances {
			if aws.ToString(in.InstanceId) == id {
				return instanceFromSDK(in), nil
			}
		}
	}
	return nil, &RemoteError{Op: "DescribeInstances", Kind: KindNotFound, Err: fmt.Errorf("instance %s not found", id)}
}

// InstanceByName finds the single non-terminated instance tagged with
// the given Name.
func (c *EC2Client) InstanceByName(ctx context.Context, name string) (*Instance, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{name}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	})
	if err != nil {
		return nil, classify("DescribeInstances", err)
	}
	var matches []ec2types.Instance
	for _, r := range out.Reservations {
		matches = append(matches, r.Instances...)
	}
	switch len(matches) {
	case 0:
		return nil, &RemoteError{Op: "DescribeInstances", Kind: KindNotFound, Err: fmt.Errorf("no instance named %q", name)}
	case 1:
		return instanceFromSDK(matches[0]), nil
	default:
		return nil, fmt.Errorf("%d instances named %q, use an instance id instead", len(matches), name)
	}
}

// InstanceUserData fetches the instance's boot data. EC2 returns it
// base64-encoded and RunInstances accepts the same encoding, so it is
// carried opaquely.
func (c *EC2Client) InstanceUserData(ctx context.Context, id string) (string, error) {
	out, err := c.api.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: aws.String(id),
		Attribute:  ec2types.InstanceAttributeNameUserData,
	})
	if err != nil {
		return "", classify("DescribeInstanceAttribute", err)
	}
	if out.UserData == nil {
		return "", nil
	}
	return aws.ToString(out.UserData.Value), nil
}

// Images lists available self-owned images whose Name tag is name or
// name-*, newest first, at most max entries when max > 0.
func (c *EC2Client) Images(ctx context.Context, name string, max int) ([]Image, error) {
	out, err := c.api.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{"self"},
		Filters: []ec2types.Filter{
			{Name: aws.String("state"), Values: []string{"available"}},
			{Name: aws.String("tag:Name"), Values: []string{name, name + "-*"}},
		},
	})
	if err != nil {
		return nil, classify("DescribeImages", err)
	}

	images := make([]Image, 0, len(out.Images))
	for _, im := range out.Images {
		images = append(images, imageFromSDK(im))
	}

	// Newest first
	sort.Slice(images, func(i, j int) bool {
		return images[i].CreationDate.After(images[j].CreationDate)
	})
	if max > 0 && len(images) > max {
		images = images[:max]
	}
	return images, nil
}

// InstanceVolumes describes the volumes attached to an instance. The
// instance's block-device mapping only carries volume ids, so the
// volumes themselves are described in a second call for size and type.
func (c *EC2Client) InstanceVolumes(ctx context.Context, instanceID string) ([]Volume, error) {
	inst, err := c.Instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if len(inst.BlockDevices) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(inst.BlockDevices))
	devices := make(map[string]BlockDevice, len(inst.BlockDevices))
	for _, bd := range inst.BlockDevices {
		ids = append(ids, bd.VolumeID)
		devices[bd.VolumeID] = bd
	}

	out, err := c.api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: ids})
	if err != nil {
		return nil, classify("DescribeVolumes", err)
	}

	volumes := make([]Volume, 0, len(out.Volumes))
	for _, v := range out.Volumes {
		vol := volumeFromSDK(v)
		if bd, ok := devices[vol.ID]; ok {
			vol.Device = bd.DeviceName
			vol.DeleteOnTermination = bd.DeleteOnTermination
		}
		volumes = append(volumes, *vol)
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Device < volumes[j].Device })
	return volumes, nil
}

// ImageVolumes lists the image's block-device template entries.
func (c *EC2Client) ImageVolumes(ctx context.Context, imageID string) ([]TemplateVolume, error) {
	out, err := c.api.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	if err != nil {
		return nil, classify("DescribeImages", err)
	}
	if len(out.Images) == 0 {
		return nil, &RemoteError{Op: "DescribeImages", Kind: KindNotFound, Err: fmt.Errorf("image %s not found", imageID)}
	}
	return imageFromSDK(out.Images[0]).Volumes, nil
}

// CreateSnapshot starts a snapshot of a volume and returns its id
// without waiting for completion.
func (c *EC2Client) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	out, err := c.api.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
	})
	if err != nil {
		return "", classify("CreateSnapshot", err)
	}
	id := aws.ToString(out.SnapshotId)
	c.logger.WithFields(log.Fields{"volume": volumeID, "snapshot": id}).Info("snapshot started")
	return id, nil
}

// CreateVolume creates a volume from a snapshot in the given zone.
func (c *EC2Client) CreateVolume(ctx context.Context, snapshotID, zone, volumeType string) (string, error) {
	if volumeType == "" {
		volumeType = "gp3"
	}
	out, err := c.api.CreateVolume(ctx, &ec2.CreateVolumeInput{
		SnapshotId:       aws.String(snapshotID),
		AvailabilityZone: aws.String(zone),
		VolumeType:       ec2types.VolumeType(volumeType),
	})
	if err != nil {
		return "", classify("CreateVolume", err)
	}
	id := aws.ToString(out.VolumeId)
	c.logger.WithFields(log.Fields{"snapshot": snapshotID, "volume": id}).Info("volume creation started")
	return id, nil
}

// AttachVolume attaches a volume to an instance at a device name.
func (c *EC2Client) AttachVolume(ctx context.Context, volumeID, instanceID, device string) error {
	_, err := c.api.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
	})
	if err != nil {
		return classify("AttachVolume", err)
	}
	c.logger.WithFields(log.Fields{"volume": volumeID, "instance": instanceID, "device": device}).Info("volume attach started")
	return nil
}

// DetachVolume starts a normal detach of a volume.
func (c *EC2Client) DetachVolume(ctx context.Context, volumeID string) error {
	_, err := c.api.DetachVolume(ctx, &ec2.DetachVolumeInput{VolumeId: aws.String(volumeID)})
	if err != nil {
		return classify("DetachVolume", err)
	}
	c.logger.WithField("volume", volumeID).Info("volume detach started")
	return nil
}

// ForceDetachVolume breaks a stuck attachment. A volume that is not
// attached at all is left alone.
func (c *EC2Client) ForceDetachVolume(ctx context.Context, volumeID string) error {
	vol, err := c.volume(ctx, volumeID)
	if err != nil {
		return err
	}
	if vol.Attachment == nil {
		c.logger.WithField("volume", volumeID).Info("volume not attached, nothing to force detach")
		return nil
	}
	_, err = c.api.DetachVolume(ctx, &ec2.DetachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(vol.Attachment.InstanceID),
		Device:     aws.String(vol.Attachment.Device),
		Force:      aws.Bool(true),
	})
	if err != nil {
		return classify("ForceDetachVolume", err)
	}
	c.logger.WithFields(log.Fields{"volume": volumeID, "instance": vol.Attachment.InstanceID}).Warn("volume force detach started")
	return nil
}

// DeleteVolume deletes a detached volume.
func (c *EC2Client) DeleteVolume(ctx context.Context, volumeID string) error {
	_, err := c.api.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)})
	if err != nil {
		return classify("DeleteVolume", err)
	}
	c.logger.WithField("volume", volumeID).Info("volume deleted")
	return nil
}

// StopInstance starts a stop of the instance.
func (c *EC2Client) StopInstance(ctx context.Context, id string) error {
	_, err := c.api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return classify("StopInstances", err)
	}
	c.logger.WithField("instance", id).Info("instance stop started")
	return nil
}

// StartInstance starts a stopped instance.
func (c *EC2Client) StartInstance(ctx context.Context, id string) error {
	_, err := c.api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return classify("StartInstances", err)
	}
	c.logger.WithField("instance", id).Info("instance start requested")
	return nil
}

// TerminateInstance starts termination of the instance.
func (c *EC2Client) TerminateInstance(ctx context.Context, id string) error {
	_, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return classify("TerminateInstances", err)
	}
	c.logger.WithField("instance", id).Warn("instance termination started")
	return nil
}

// RunInstance launches a replacement instance from spec and returns its
// id. When a network interface is supplied it is attached at device
// index 0 and pins the placement, so no explicit zone is sent.
func (c *EC2Client) RunInstance(ctx context.Context, spec LaunchSpec) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: ec2types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if spec.IAMProfile != "" {
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{Name: aws.String(spec.IAMProfile)}
	}
	if spec.UserData != "" {
		input.UserData = aws.String(spec.UserData)
	}
	if spec.NetworkInterfaceID != "" {
		input.NetworkInterfaces = []ec2types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:        aws.Int32(0),
			NetworkInterfaceId: aws.String(spec.NetworkInterfaceID),
		}}
	} else if spec.Zone != "" {
		input.Placement = &ec2types.Placement{AvailabilityZone: aws.String(spec.Zone)}
	}

	out, err := c.api.RunInstances(ctx, input)
	if err != nil {
		return "", classify("RunInstances", err)
	}
	if len(out.Instances) == 0 {
		return "", &RemoteError{Op: "RunInstances", Kind: KindGeneric, Err: fmt.Errorf("no instance returned for image %s", spec.ImageID)}
	}
	id := aws.ToString(out.Instances[0].InstanceId)
	c.logger.WithFields(log.Fields{"image": spec.ImageID, "instance": id}).Info("instance launched")
	return id, nil
}

// CreateTags applies tags to a resource, replacing values of existing
// keys.
func (c *EC2Client) CreateTags(ctx context.Context, resourceID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ec2Tags := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	_, err := c.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      ec2Tags,
	})
	if err != nil {
		return classify("CreateTags", err)
	}
	c.logger.WithFields(log.Fields{"resource": resourceID, "tags": len(ec2Tags)}).Info("tags applied")
	return nil
}

// SetNetworkInterfacePersistence flips whether the interface is
// released when its instance terminates.
func (c *EC2Client) SetNetworkInterfacePersistence(ctx context.Context, interfaceID, attachmentID string, persist bool) error {
	_, err := c.api.ModifyNetworkInterfaceAttribute(ctx, &ec2.ModifyNetworkInterfaceAttributeInput{
		NetworkInterfaceId: aws.String(interfaceID),
		Attachment: &ec2types.NetworkInterfaceAttachmentChanges{
			AttachmentId:        aws.String(attachmentID),
			DeleteOnTermination: aws.Bool(!persist),
		},
	})
	if err != nil {
		return classify("ModifyNetworkInterfaceAttribute", err)
	}
	c.logger.WithFields(log.Fields{"interface": interfaceID, "persist": persist}).Info("interface persistence updated")
	return nil
}

// WaitForInstanceState waits for the instance to reach want. When the
// target is not terminated, reaching terminated is reported as failure
// rather than waited out.
func (c *EC2Client) WaitForInstanceState(ctx context.Context, id string, want InstanceState, timeout time.Duration) error {
	c.logger.WithFields(log.Fields{"instance": id, "state": want}).Info("waiting for instance state")
	_, err := Await(ctx, Condition{
		Resource: "instance " + id,
		Want:     string(want),
		Poll: func(ctx context.Context) (string, error) {
			inst, err := c.Instance(ctx, id)
			if err != nil {
				return "", err
			}
			return string(inst.State), nil
		},
		Target: func(s string) bool { return s == string(want) },
		Failed: func(s string) bool {
			return want != InstanceTerminated && InstanceState(s) == InstanceTerminated
		},
		Interval: c.interval,
		Timeout:  timeout,
	})
	return err
}

// WaitForInstanceAvailable waits for a freshly launched instance to be
// running. Describe calls can miss an instance for a short while after
// launch, so poll errors are retried and the cadence is relaxed.
func (c *EC2Client) WaitForInstanceAvailable(ctx context.Context, id string, timeout time.Duration) error {
	c.logger.WithField("instance", id).Info("waiting for instance availability")
	_, err := Await(ctx, Condition{
		Resource: "instance " + id,
		Want:     string(InstanceRunning),
		Poll: func(ctx context.Context) (string, error) {
			inst, err := c.Instance(ctx, id)
			if err != nil {
				return "", err
			}
			return string(inst.State), nil
		},
		Target: func(s string) bool { return InstanceState(s) == InstanceRunning },
		Failed: func(s string) bool {
			return InstanceState(s) == InstanceTerminated || InstanceState(s) == InstanceShuttingDown
		},
		TransientPollErrors: true,
		Interval:            2 * c.interval,
		Timeout:             timeout,
	})
	return err
}

// WaitForSnapshotCompleted waits for a snapshot to finish copying.
func (c *EC2Client) WaitForSnapshotCompleted(ctx context.Context, snapshotID string, timeout time.Duration) error {
	c.logger.WithField("snapshot", snapshotID).Info("waiting for snapshot completion")
	_, err := Await(ctx, Condition{
		Resource: "snapshot " + snapshotID,
		Want:     string(SnapshotCompleted),
		Poll: func(ctx context.Context) (string, error) {
			out, err := c.api.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []string{snapshotID}})
			if err != nil {
				return "", classify("DescribeSnapshots", err)
			}
			if len(out.Snapshots) == 0 {
				return "", &RemoteError{Op: "DescribeSnapshots", Kind: KindNotFound, Err: fmt.Errorf("snapshot %s not found", snapshotID)}
			}
			return string(out.Snapshots[0].State), nil
		},
		Target:   func(s string) bool { return SnapshotState(s) == SnapshotCompleted },
		Failed:   func(s string) bool { return SnapshotState(s) == SnapshotError },
		Interval: c.interval,
		Timeout:  timeout,
	})
	return err
}

// WaitForVolumeAvailable waits for a volume to be detached or done
// creating. A just-created volume can be invisible to describe calls
// for a moment, so poll errors are retried.
func (c *EC2Client) WaitForVolumeAvailable(ctx context.Context, volumeID string, timeout time.Duration) error {
	c.logger.WithField("volume", volumeID).Info("waiting for volume availability")
	_, err := Await(ctx, Condition{
		Resource:            "volume " + volumeID,
		Want:                string(VolumeAvailable),
		Poll:                c.volumeStatePoll(volumeID),
		Target:              func(s string) bool { return VolumeState(s) == VolumeAvailable },
		Failed:              func(s string) bool { return VolumeState(s) == VolumeError },
		TransientPollErrors: true,
		Interval:            2 * c.interval,
		Timeout:             timeout,
	})
	return err
}

// WaitForVolumeAttached waits for in-use with the attachment itself
// reporting attached.
func (c *EC2Client) WaitForVolumeAttached(ctx context.Context, volumeID string, timeout time.Duration) error {
	c.logger.WithField("volume", volumeID).Info("waiting for volume attachment")
	want := string(VolumeInUse) + "/" + AttachmentAttached
	_, err := Await(ctx, Condition{
		Resource: "volume " + volumeID,
		Want:     want,
		Poll: func(ctx context.Context) (string, error) {
			vol, err := c.volume(ctx, volumeID)
			if err != nil {
				return "", err
			}
			s := string(vol.State)
			if vol.Attachment != nil {
				s += "/" + vol.Attachment.State
			}
			return s, nil
		},
		Target:   func(s string) bool { return s == want },
		Failed:   func(s string) bool { return strings.HasPrefix(s, string(VolumeError)) },
		Interval: c.interval,
		Timeout:  timeout,
	})
	return err
}

func (c *EC2Client) volumeStatePoll(volumeID string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		vol, err := c.volume(ctx, volumeID)
		if err != nil {
			return "", err
		}
		return string(vol.State), nil
	}
}

func (c *EC2Client) volume(ctx context.Context, id string) (*Volume, error) {
	out, err := c.api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{id}})
	if err != nil {
		return nil, classify("DescribeVolumes", err)
	}
	if len(out.Volumes) == 0 {
		return nil, &RemoteError{Op: "DescribeVolumes", Kind: KindNotFound, Err: fmt.Errorf("volume %s not found", id)}
	}
	return volumeFromSDK(out.Volumes[0]), nil
}

func instanceFromSDK(in ec2types.Instance) *Instance {
	inst := &Instance{
		ID:         aws.ToString(in.InstanceId),
		Type:       string(in.InstanceType),
		ImageID:    aws.ToString(in.ImageId),
		SubnetID:   aws.ToString(in.SubnetId),
		PrivateIP:  aws.ToString(in.PrivateIpAddress),
		KeyName:    aws.ToString(in.KeyName),
		LaunchTime: aws.ToTime(in.LaunchTime),
		Tags:       tagMap(in.Tags),
	}
	if in.State != nil {
		inst.State = InstanceState(in.State.Name)
	}
	if in.Placement != nil {
		inst.Zone = aws.ToString(in.Placement.AvailabilityZone)
	}
	if in.IamInstanceProfile != nil {
		inst.IAMProfile = profileName(aws.ToString(in.IamInstanceProfile.Arn))
	}
	for _, ni := range in.NetworkInterfaces {
		conv := NetworkInterface{
			ID:        aws.ToString(ni.NetworkInterfaceId),
			SubnetID:  aws.ToString(ni.SubnetId),
			PrivateIP: aws.ToString(ni.PrivateIpAddress),
		}
		for _, g := range ni.Groups {
			conv.SecurityGroupIDs = append(conv.SecurityGroupIDs, aws.ToString(g.GroupId))
		}
		if ni.Attachment != nil {
			conv.AttachmentID = aws.ToString(ni.Attachment.AttachmentId)
			conv.DeviceIndex = aws.ToInt32(ni.Attachment.DeviceIndex)
			conv.DeleteOnTermination = aws.ToBool(ni.Attachment.DeleteOnTermination)
		}
		inst.NetworkInterfaces = append(inst.NetworkInterfaces, conv)
	}
	for _, bd := range in.BlockDeviceMappings {
		if bd.Ebs == nil {
			continue
		}
		inst.BlockDevices = append(inst.BlockDevices, BlockDevice{
			DeviceName:          aws.ToString(bd.DeviceName),
			VolumeID:            aws.ToString(bd.Ebs.VolumeId),
			DeleteOnTermination: aws.ToBool(bd.Ebs.DeleteOnTermination),
		})
	}
	return inst
}

func imageFromSDK(im ec2types.Image) Image {
	image := Image{
		ID:          aws.ToString(im.ImageId),
		Name:        aws.ToString(im.Name),
		Description: aws.ToString(im.Description),
		State:       string(im.State),
	}
	// The Name tag takes precedence over the AMI name for display.
	for _, t := range im.Tags {
		if aws.ToString(t.Key) == "Name" {
			image.Name = aws.ToString(t.Value)
		}
	}
	if ts, err := time.Parse(time.RFC3339, aws.ToString(im.CreationDate)); err == nil {
		image.CreationDate = ts
	}
	for _, bd := range im.BlockDeviceMappings {
		if bd.Ebs == nil {
			continue
		}
		image.Volumes = append(image.Volumes, TemplateVolume{
			Device:              aws.ToString(bd.DeviceName),
			SnapshotID:          aws.ToString(bd.Ebs.SnapshotId),
			SizeGiB:             aws.ToInt32(bd.Ebs.VolumeSize),
			Type:                string(bd.Ebs.VolumeType),
			DeleteOnTermination: aws.ToBool(bd.Ebs.DeleteOnTermination),
		})
	}
	return image
}

func volumeFromSDK(v ec2types.Volume) *Volume {
	vol := &Volume{
		ID:      aws.ToString(v.VolumeId),
		SizeGiB: aws.ToInt32(v.Size),
		Type:    string(v.VolumeType),
		State:   VolumeState(v.State),
	}
	if len(v.Attachments) > 0 {
		a := v.Attachments[0]
		vol.Attachment = &VolumeAttachment{
			InstanceID: aws.ToString(a.InstanceId),
			Device:     aws.ToString(a.Device),
			State:      string(a.State),
		}
		vol.Device = aws.ToString(a.Device)
		vol.DeleteOnTermination = aws.ToBool(a.DeleteOnTermination)
	}
	return vol
}

// profileName extracts the instance-profile name from its ARN.
func profileName(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

func tagMap(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}
