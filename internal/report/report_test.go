package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
)

func instanceFixture() *cloud.Instance {
	return &cloud.Instance{
		ID:        "i-0abc",
		State:     cloud.InstanceRunning,
		Type:      "t3.medium",
		ImageID:   "ami-1",
		PrivateIP: "10.0.0.5",
		Tags:      map[string]string{"Name": "web-1"},
		BlockDevices: []cloud.BlockDevice{
			{DeviceName: "/dev/sda1", VolumeID: "vol-root"},
			{DeviceName: "/dev/sdf", VolumeID: "vol-data"},
		},
	}
}

func TestDiffVolumeRestore(t *testing.T) {
	before := instanceFixture()
	after := instanceFixture()
	after.BlockDevices[1].VolumeID = "vol-data-new"

	r := Diff(TypeVolume, before, after)

	assert.Equal(t, TypeVolume, r.RestoreType)
	assert.Equal(t, "i-0abc", r.InstanceID)
	assert.Equal(t, "web-1", r.InstanceName)
	assert.Nil(t, r.NewInstanceID, "in-place restore keeps the instance id")

	require.NotNil(t, r.Changes)
	require.Len(t, r.Changes.Volumes, 1)
	assert.Equal(t, VolumeChange{
		Device:      "/dev/sdf",
		OldVolumeID: "vol-data",
		NewVolumeID: "vol-data-new",
	}, r.Changes.Volumes[0])
	assert.Empty(t, r.Changes.State)
}

func TestDiffFullRestore(t *testing.T) {
	before := instanceFixture()
	after := instanceFixture()
	after.ID = "i-0new"
	after.BlockDevices = []cloud.BlockDevice{
		{DeviceName: "/dev/sda1", VolumeID: "vol-root-new"},
	}

	r := Diff(TypeFull, before, after)

	require.NotNil(t, r.NewInstanceID)
	assert.Equal(t, "i-0new", *r.NewInstanceID)

	require.NotNil(t, r.Changes)
	assert.Equal(t, []VolumeChange{
		{Device: "/dev/sda1", OldVolumeID: "vol-root", NewVolumeID: "vol-root-new"},
		{Device: "/dev/sdf", OldVolumeID: "vol-data", NewVolumeID: ""},
	}, r.Changes.Volumes)

	require.Contains(t, r.Changes.State, "instance_id")
	assert.Equal(t, FieldChange{Old: "i-0abc", New: "i-0new"}, r.Changes.State["instance_id"])
	assert.NotContains(t, r.Changes.State, "instance_type")
}

func TestDiffNoChanges(t *testing.T) {
	r := Diff(TypeVolume, instanceFixture(), instanceFixture())
	assert.Nil(t, r.Changes)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"changes"`)
	assert.Contains(t, string(data), `"new_instance_id":null`)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	r := Diff(TypeVolume, instanceFixture(), func() *cloud.Instance {
		after := instanceFixture()
		after.BlockDevices[0].VolumeID = "vol-root-new"
		return after
	}())
	r.Timestamp = time.Date(2025, 1, 14, 9, 30, 45, 0, time.UTC)

	path, err := Write(r, dir)
	require.NoError(t, err)
	assert.Equal(t, "restore_report_i-0abc_20250114_093045.json", filepath.Base(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.InstanceID, loaded.InstanceID)
	require.NotNil(t, loaded.Changes)
	assert.Equal(t, r.Changes.Volumes, loaded.Changes.Volumes)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "\n  \"timestamp\""), "report is pretty-printed")
}

func TestList(t *testing.T) {
	dir := t.TempDir()

	stamps := []time.Time{
		time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 14, 9, 30, 45, 0, time.UTC),
		time.Date(2025, 1, 12, 12, 0, 0, 0, time.UTC),
	}
	for _, ts := range stamps {
		r := Diff(TypeVolume, instanceFixture(), instanceFixture())
		r.Timestamp = ts
		_, err := Write(r, dir)
		require.NoError(t, err)
	}

	// Files that are not reports are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "restore_report_broken.json"), []byte("{oops"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.json"), []byte("{}"), 0644))

	summaries, err := List(dir)
	require.NoError(t, err)

	require.Len(t, summaries, 3)
	assert.Equal(t, stamps[1], summaries[0].Timestamp)
	assert.Equal(t, stamps[2], summaries[1].Timestamp)
	assert.Equal(t, stamps[0], summaries[2].Timestamp)
	assert.False(t, summaries[0].HasChanges)
}

func TestListMissingDir(t *testing.T) {
	summaries, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
