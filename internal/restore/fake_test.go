package restore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
)

// fakeClient is an in-memory stand-in for the EC2-backed client. State
// transitions happen synchronously inside the mutating calls; the wait
// methods verify that the expected state was actually reached, so an
// orchestrator that skips a step fails the test instead of passing by
// accident.
type fakeClient struct {
	instances      map[string]*cloud.Instance
	userData       map[string]string
	images         map[string][]cloud.TemplateVolume
	volumes        map[string]*fakeVolume
	snapshotSource map[string]string // snapshot id → source volume

	seq int

	// failOn returns the mapped error from the named call; "Op:id" is
	// checked before the bare "Op".
	failOn map[string]error
	// attachConflicts makes the next n attaches on a device fail with
	// an attachment conflict regardless of actual state.
	attachConflicts map[string]int

	created       []string
	deleted       []string
	forceDetached []string
	stopCalls     []string
	startCalls    []string
	terminated    []string
	launched      []cloud.LaunchSpec
	tagged        map[string]map[string]string
	persisted     map[string]bool
	attachCalls   map[string]int
}

type fakeVolume struct {
	state               cloud.VolumeState
	instance            string
	device              string
	attachState         string
	source              string // snapshot the volume was created from
	deleteOnTermination bool
}

var _ cloud.Client = (*fakeClient)(nil)

// newFakeClient builds the standard fixture: running instance i-1 with
// a root and a data volume, and image ami-1 templating both devices.
func newFakeClient() *fakeClient {
	f := &fakeClient{
		instances:       make(map[string]*cloud.Instance),
		userData:        make(map[string]string),
		images:          make(map[string][]cloud.TemplateVolume),
		volumes:         make(map[string]*fakeVolume),
		snapshotSource:  make(map[string]string),
		failOn:          make(map[string]error),
		attachConflicts: make(map[string]int),
		tagged:          make(map[string]map[string]string),
		persisted:       make(map[string]bool),
		attachCalls:     make(map[string]int),
	}

	f.instances["i-1"] = &cloud.Instance{
		ID:         "i-1",
		State:      cloud.InstanceRunning,
		Type:       "t3.medium",
		ImageID:    "ami-0",
		Zone:       "eu-west-1a",
		SubnetID:   "subnet-1",
		PrivateIP:  "10.0.0.5",
		KeyName:    "ops",
		IAMProfile: "web-role",
		NetworkInterfaces: []cloud.NetworkInterface{{
			ID:                  "eni-1",
			AttachmentID:        "eni-attach-1",
			DeviceIndex:         0,
			SubnetID:            "subnet-1",
			PrivateIP:           "10.0.0.5",
			SecurityGroupIDs:    []string{"sg-1"},
			DeleteOnTermination: true,
		}},
		BlockDevices: []cloud.BlockDevice{
			{DeviceName: "/dev/sda1", VolumeID: "vol-root", DeleteOnTermination: true},
			{DeviceName: "/dev/sdf", VolumeID: "vol-data", DeleteOnTermination: false},
		},
		Tags: map[string]string{"Name": "web-1", "env": "prod"},
	}
	f.userData["i-1"] = "IyEvYmluL2Jhc2g="
	f.volumes["vol-root"] = &fakeVolume{state: cloud.VolumeInUse, instance: "i-1", device: "/dev/sda1", attachState: cloud.AttachmentAttached, deleteOnTermination: true}
	f.volumes["vol-data"] = &fakeVolume{state: cloud.VolumeInUse, instance: "i-1", device: "/dev/sdf", attachState: cloud.AttachmentAttached}
	f.images["ami-1"] = []cloud.TemplateVolume{
		{Device: "/dev/sda1", SnapshotID: "snap-img-root", SizeGiB: 8, Type: "gp3", DeleteOnTermination: true},
		{Device: "/dev/sdf", SnapshotID: "snap-img-data", SizeGiB: 100, Type: "gp3"},
	}
	return f
}

func (f *fakeClient) next() int {
	f.seq++
	return f.seq
}

func (f *fakeClient) fail(op string, ids ...string) error {
	for _, id := range ids {
		if err, ok := f.failOn[op+":"+id]; ok {
			return err
		}
	}
	return f.failOn[op]
}

func cloneInstance(in *cloud.Instance) *cloud.Instance {
	out := *in
	out.NetworkInterfaces = append([]cloud.NetworkInterface(nil), in.NetworkInterfaces...)
	out.BlockDevices = append([]cloud.BlockDevice(nil), in.BlockDevices...)
	out.Tags = maps.Clone(in.Tags)
	return &out
}

func (f *fakeClient) Instance(_ context.Context, id string) (*cloud.Instance, error) {
	if err := f.fail("Instance", id); err != nil {
		return nil, err
	}
	inst, ok := f.instances[id]
	if !ok {
		return nil, &cloud.RemoteError{Op: "DescribeInstances", Kind: cloud.KindNotFound, Err: fmt.Errorf("instance %s not found", id)}
	}
	return cloneInstance(inst), nil
}

func (f *fakeClient) InstanceByName(_ context.Context, name string) (*cloud.Instance, error) {
	for _, inst := range f.instances {
		if inst.Tags["Name"] == name && inst.State != cloud.InstanceTerminated {
			return cloneInstance(inst), nil
		}
	}
	return nil, &cloud.RemoteError{Op: "DescribeInstances", Kind: cloud.KindNotFound, Err: fmt.Errorf("no instance named %q", name)}
}

func (f *fakeClient) InstanceUserData(_ context.Context, id string) (string, error) {
	if err := f.fail("InstanceUserData", id); err != nil {
		return "", err
	}
	return f.userData[id], nil
}

func (f *fakeClient) Images(context.Context, string, int) ([]cloud.Image, error) {
	return nil, nil
}

func (f *fakeClient) InstanceVolumes(ctx context.Context, instanceID string) ([]cloud.Volume, error) {
	inst, err := f.Instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	var vols []cloud.Volume
	for _, bd := range inst.BlockDevices {
		vols = append(vols, cloud.Volume{ID: bd.VolumeID, Device: bd.DeviceName, State: cloud.VolumeInUse})
	}
	return vols, nil
}

func (f *fakeClient) ImageVolumes(_ context.Context, imageID string) ([]cloud.TemplateVolume, error) {
	if err := f.fail("ImageVolumes", imageID); err != nil {
		return nil, err
	}
	templates, ok := f.images[imageID]
	if !ok {
		return nil, &cloud.RemoteError{Op: "DescribeImages", Kind: cloud.KindNotFound, Err: fmt.Errorf("image %s not found", imageID)}
	}
	return append([]cloud.TemplateVolume(nil), templates...), nil
}

func (f *fakeClient) CreateSnapshot(_ context.Context, volumeID, _ string) (string, error) {
	if err := f.fail("CreateSnapshot", volumeID); err != nil {
		return "", err
	}
	id := fmt.Sprintf("snap-%d", f.next())
	f.snapshotSource[id] = volumeID
	return id, nil
}

func (f *fakeClient) CreateVolume(_ context.Context, snapshotID, _, _ string) (string, error) {
	if err := f.fail("CreateVolume", snapshotID); err != nil {
		return "", err
	}
	id := fmt.Sprintf("vol-new-%d", f.next())
	f.volumes[id] = &fakeVolume{state: cloud.VolumeAvailable, source: snapshotID}
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeClient) AttachVolume(_ context.Context, volumeID, instanceID, device string) error {
	f.attachCalls[device]++
	if f.attachConflicts[device] > 0 {
		f.attachConflicts[device]--
		return &cloud.RemoteError{
			Op:   "AttachVolume",
			Code: "InvalidParameterValue",
			Kind: cloud.KindAttachmentConflict,
			Err:  fmt.Errorf("attachment point %s is already in use", device),
		}
	}
	if err := f.fail("AttachVolume", volumeID, device); err != nil {
		return err
	}

	vol, ok := f.volumes[volumeID]
	if !ok {
		return &cloud.RemoteError{Op: "AttachVolume", Kind: cloud.KindNotFound, Err: fmt.Errorf("volume %s not found", volumeID)}
	}
	if vol.state != cloud.VolumeAvailable {
		return &cloud.RemoteError{Op: "AttachVolume", Kind: cloud.KindGeneric, Err: fmt.Errorf("volume %s is %s", volumeID, vol.state)}
	}
	inst, ok := f.instances[instanceID]
	if !ok {
		return &cloud.RemoteError{Op: "AttachVolume", Kind: cloud.KindNotFound, Err: fmt.Errorf("instance %s not found", instanceID)}
	}
	for _, bd := range inst.BlockDevices {
		if bd.DeviceName == device {
			return &cloud.RemoteError{Op: "AttachVolume", Kind: cloud.KindAttachmentConflict, Err: fmt.Errorf("attachment point %s is already in use", device)}
		}
	}

	vol.state = cloud.VolumeInUse
	vol.instance = instanceID
	vol.device = device
	vol.attachState = cloud.AttachmentAttached
	inst.BlockDevices = append(inst.BlockDevices, cloud.BlockDevice{DeviceName: device, VolumeID: volumeID})
	return nil
}

func (f *fakeClient) detach(volumeID string) error {
	vol, ok := f.volumes[volumeID]
	if !ok {
		return &cloud.RemoteError{Op: "DetachVolume", Kind: cloud.KindNotFound, Err: fmt.Errorf("volume %s not found", volumeID)}
	}
	if vol.instance == "" {
		return &cloud.RemoteError{Op: "DetachVolume", Code: "IncorrectState", Kind: cloud.KindNotAttached, Err: fmt.Errorf("volume %s is not attached", volumeID)}
	}
	if inst, ok := f.instances[vol.instance]; ok {
		kept := inst.BlockDevices[:0]
		for _, bd := range inst.BlockDevices {
			if bd.VolumeID != volumeID {
				kept = append(kept, bd)
			}
		}
		inst.BlockDevices = kept
	}
	vol.state = cloud.VolumeAvailable
	vol.instance = ""
	vol.device = ""
	vol.attachState = ""
	return nil
}

func (f *fakeClient) DetachVolume(_ context.Context, volumeID string) error {
	if err := f.fail("DetachVolume", volumeID); err != nil {
		return err
	}
	return f.detach(volumeID)
}

func (f *fakeClient) ForceDetachVolume(_ context.Context, volumeID string) error {
	f.forceDetached = append(f.forceDetached, volumeID)
	if err := f.fail("ForceDetachVolume", volumeID); err != nil {
		return err
	}
	if vol, ok := f.volumes[volumeID]; ok && vol.instance == "" {
		return nil
	}
	return f.detach(volumeID)
}

func (f *fakeClient) DeleteVolume(_ context.Context, volumeID string) error {
	if err := f.fail("DeleteVolume", volumeID); err != nil {
		return err
	}
	vol, ok := f.volumes[volumeID]
	if !ok {
		return &cloud.RemoteError{Op: "DeleteVolume", Kind: cloud.KindNotFound, Err: fmt.Errorf("volume %s not found", volumeID)}
	}
	if vol.instance != "" {
		return &cloud.RemoteError{Op: "DeleteVolume", Kind: cloud.KindGeneric, Err: fmt.Errorf("volume %s is attached", volumeID)}
	}
	delete(f.volumes, volumeID)
	f.deleted = append(f.deleted, volumeID)
	return nil
}

func (f *fakeClient) StopInstance(_ context.Context, id string) error {
	f.stopCalls = append(f.stopCalls, id)
	if err := f.fail("StopInstance", id); err != nil {
		return err
	}
	f.instances[id].State = cloud.InstanceStopped
	return nil
}

func (f *fakeClient) StartInstance(_ context.Context, id string) error {
	f.startCalls = append(f.startCalls, id)
	if err := f.fail("StartInstance", id); err != nil {
		return err
	}
	f.instances[id].State = cloud.InstanceRunning
	return nil
}

func (f *fakeClient) TerminateInstance(_ context.Context, id string) error {
	f.terminated = append(f.terminated, id)
	if err := f.fail("TerminateInstance", id); err != nil {
		return err
	}
	inst := f.instances[id]
	inst.State = cloud.InstanceTerminated
	for _, bd := range inst.BlockDevices {
		vol := f.volumes[bd.VolumeID]
		if vol == nil {
			continue
		}
		if vol.deleteOnTermination {
			delete(f.volumes, bd.VolumeID)
		} else {
			vol.state = cloud.VolumeAvailable
			vol.instance = ""
			vol.device = ""
			vol.attachState = ""
		}
	}
	inst.BlockDevices = nil
	inst.NetworkInterfaces = nil
	return nil
}

func (f *fakeClient) RunInstance(_ context.Context, spec cloud.LaunchSpec) (string, error) {
	if err := f.fail("RunInstance", spec.ImageID); err != nil {
		return "", err
	}
	f.launched = append(f.launched, spec)

	id := fmt.Sprintf("i-new-%d", f.next())
	inst := &cloud.Instance{
		ID:         id,
		State:      cloud.InstanceRunning,
		Type:       spec.InstanceType,
		ImageID:    spec.ImageID,
		Zone:       spec.Zone,
		KeyName:    spec.KeyName,
		IAMProfile: spec.IAMProfile,
	}
	for _, tpl := range f.images[spec.ImageID] {
		volID := fmt.Sprintf("vol-img-%d", f.next())
		f.volumes[volID] = &fakeVolume{
			state:               cloud.VolumeInUse,
			instance:            id,
			device:              tpl.Device,
			attachState:         cloud.AttachmentAttached,
			source:              tpl.SnapshotID,
			deleteOnTermination: tpl.DeleteOnTermination,
		}
		inst.BlockDevices = append(inst.BlockDevices, cloud.BlockDevice{
			DeviceName:          tpl.Device,
			VolumeID:            volID,
			DeleteOnTermination: tpl.DeleteOnTermination,
		})
	}
	if spec.NetworkInterfaceID != "" {
		inst.NetworkInterfaces = []cloud.NetworkInterface{{
			ID:           spec.NetworkInterfaceID,
			AttachmentID: fmt.Sprintf("eni-attach-%d", f.next()),
			DeviceIndex:  0,
		}}
	}
	f.userData[id] = spec.UserData
	f.instances[id] = inst
	return id, nil
}

func (f *fakeClient) CreateTags(_ context.Context, resourceID string, tags map[string]string) error {
	if err := f.fail("CreateTags", resourceID); err != nil {
		return err
	}
	if inst, ok := f.instances[resourceID]; ok {
		if inst.Tags == nil {
			inst.Tags = make(map[string]string)
		}
		maps.Copy(inst.Tags, tags)
	}
	if f.tagged[resourceID] == nil {
		f.tagged[resourceID] = make(map[string]string)
	}
	maps.Copy(f.tagged[resourceID], tags)
	return nil
}

func (f *fakeClient) SetNetworkInterfacePersistence(_ context.Context, interfaceID, _ string, persist bool) error {
	if err := f.fail("SetNetworkInterfacePersistence", interfaceID); err != nil {
		return err
	}
	f.persisted[interfaceID] = persist
	for _, inst := range f.instances {
		for i := range inst.NetworkInterfaces {
			if inst.NetworkInterfaces[i].ID == interfaceID {
				inst.NetworkInterfaces[i].DeleteOnTermination = !persist
			}
		}
	}
	return nil
}

func (f *fakeClient) WaitForInstanceState(_ context.Context, id string, want cloud.InstanceState, _ time.Duration) error {
	if err := f.fail("WaitForInstanceState", id, string(want)); err != nil {
		return err
	}
	inst, ok := f.instances[id]
	if !ok || inst.State != want {
		return &cloud.TimeoutError{Resource: "instance " + id, Want: string(want)}
	}
	return nil
}

func (f *fakeClient) WaitForInstanceAvailable(_ context.Context, id string, _ time.Duration) error {
	if err := f.fail("WaitForInstanceAvailable", id); err != nil {
		return err
	}
	inst, ok := f.instances[id]
	if !ok || inst.State != cloud.InstanceRunning {
		return &cloud.TimeoutError{Resource: "instance " + id, Want: string(cloud.InstanceRunning)}
	}
	return nil
}

func (f *fakeClient) WaitForSnapshotCompleted(_ context.Context, snapshotID string, _ time.Duration) error {
	if err := f.fail("WaitForSnapshotCompleted", snapshotID); err != nil {
		return err
	}
	if _, ok := f.snapshotSource[snapshotID]; !ok {
		return &cloud.TimeoutError{Resource: "snapshot " + snapshotID, Want: string(cloud.SnapshotCompleted)}
	}
	return nil
}

func (f *fakeClient) WaitForVolumeAvailable(_ context.Context, volumeID string, _ time.Duration) error {
	if err := f.fail("WaitForVolumeAvailable", volumeID); err != nil {
		return err
	}
	vol, ok := f.volumes[volumeID]
	if !ok || vol.state != cloud.VolumeAvailable {
		return &cloud.TimeoutError{Resource: "volume " + volumeID, Want: string(cloud.VolumeAvailable)}
	}
	return nil
}

func (f *fakeClient) WaitForVolumeAttached(_ context.Context, volumeID string, _ time.Duration) error {
	if err := f.fail("WaitForVolumeAttached", volumeID); err != nil {
		return err
	}
	vol, ok := f.volumes[volumeID]
	if !ok || vol.state != cloud.VolumeInUse || vol.attachState != cloud.AttachmentAttached {
		return &cloud.TimeoutError{Resource: "volume " + volumeID, Want: "in-use/attached"}
	}
	return nil
}

// deviceVolume returns the volume currently attached to the instance at
// device, or "".
func (f *fakeClient) deviceVolume(instanceID, device string) string {
	inst, ok := f.instances[instanceID]
	if !ok {
		return ""
	}
	for _, bd := range inst.BlockDevices {
		if bd.DeviceName == device {
			return bd.VolumeID
		}
	}
	return ""
}

// fakeRecorder captures what the orchestrator hands it.
type fakeRecorder struct {
	captured []*cloud.Instance
	err      error
}

func (r *fakeRecorder) Capture(inst *cloud.Instance) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.captured = append(r.captured, inst)
	return fmt.Sprintf("backups/instance_%s_test.json", inst.ID), nil
}

var errRecorder = errors.New("disk full")
