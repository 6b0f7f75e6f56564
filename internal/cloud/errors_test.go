package cloud

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

func TestClassify(t *testing.T) {
	t.Run("attachment conflict from device contention message", func(t *testing.T) {
		err := classify("AttachVolume", apiError("InvalidParameterValue",
			"Invalid value '/dev/sdf' for unixDevice. Attachment point /dev/sdf is already in use"))
		assert.True(t, IsAttachmentConflict(err))
		assert.False(t, IsNotAttached(err))
	})

	t.Run("attachment conflict from volume in use", func(t *testing.T) {
		err := classify("AttachVolume", apiError("VolumeInUse", "vol-1 is already attached to an instance"))
		assert.True(t, IsAttachmentConflict(err))
	})

	t.Run("parameter error outside attach stays generic", func(t *testing.T) {
		err := classify("CreateVolume", apiError("InvalidParameterValue", "size already in use nonsense"))
		assert.False(t, IsAttachmentConflict(err))
		var re *RemoteError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, KindGeneric, re.Kind)
	})

	t.Run("detach of unattached volume", func(t *testing.T) {
		err := classify("DetachVolume", apiError("IncorrectState", "Volume 'vol-1' is in the 'available' state."))
		assert.True(t, IsNotAttached(err))

		err = classify("DetachVolume", apiError("InvalidAttachment.NotFound", "no attachment"))
		assert.True(t, IsNotAttached(err))
	})

	t.Run("not found codes", func(t *testing.T) {
		assert.True(t, IsNotFound(classify("DescribeVolumes", apiError("InvalidVolume.NotFound", "nope"))))
		assert.True(t, IsNotFound(classify("DescribeInstances", apiError("InvalidInstanceID.NotFound", "nope"))))
	})

	t.Run("non-API error is generic and unwraps", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := classify("StopInstances", cause)
		var re *RemoteError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, KindGeneric, re.Kind)
		assert.Empty(t, re.Code)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("classification survives wrapping", func(t *testing.T) {
		inner := classify("AttachVolume", apiError("VolumeInUse", "busy"))
		wrapped := fmt.Errorf("failed to attach replacement: %w", inner)
		assert.True(t, IsAttachmentConflict(wrapped))
	})
}

func TestErrorMessages(t *testing.T) {
	re := &RemoteError{Op: "AttachVolume", Code: "VolumeInUse", Kind: KindAttachmentConflict, Err: errors.New("busy")}
	assert.Equal(t, "AttachVolume: VolumeInUse: busy", re.Error())

	te := &TimeoutError{Resource: "volume vol-1", Want: "available", Timeout: 5 * time.Minute}
	assert.Equal(t, "volume vol-1 did not reach available within 5m0s", te.Error())
	assert.True(t, IsTimeout(fmt.Errorf("wait failed: %w", te)))

	se := &StateError{Resource: "snapshot snap-1", State: "error"}
	assert.Equal(t, "snapshot snap-1 entered state error", se.Error())
}
