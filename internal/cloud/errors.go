package cloud

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// Kind classifies a RemoteError so workflows can branch on structure
// instead of matching message text.
type Kind string

const (
	// KindGeneric is any remote failure without a more specific class.
	KindGeneric Kind = "generic"
	// KindNotFound is a request naming a resource that does not exist.
	KindNotFound Kind = "not_found"
	// KindNotAttached is a detach of a volume that is not attached.
	KindNotAttached Kind = "not_attached"
	// KindAttachmentConflict is an attach rejected because the device
	// name is still held by a previous attachment.
	KindAttachmentConflict Kind = "attachment_conflict"
)

// RemoteError is a request the resource manager rejected or failed.
type RemoteError struct {
	Op   string // client operation, e.g. "AttachVolume"
	Code string // remote error code, when the API supplied one
	Kind Kind
	Err  error
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// TimeoutError is a wait whose condition was not met within its budget.
// The resource may still converge later; the workflow gave up watching.
type TimeoutError struct {
	Resource string
	Want     string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not reach %s within %s", e.Resource, e.Want, e.Timeout)
}

// StateError is a resource that entered a terminal failure state while
// being waited on.
type StateError struct {
	Resource string
	State    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s entered state %s", e.Resource, e.State)
}

// IsAttachmentConflict reports whether err is an attach rejected over a
// contended device name.
func IsAttachmentConflict(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindAttachmentConflict
}

// IsNotAttached reports whether err is a detach of an already-detached
// volume.
func IsNotAttached(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindNotAttached
}

// IsNotFound reports whether err names a resource that does not exist.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindNotFound
}

// IsTimeout reports whether err is an exhausted wait budget.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// classify wraps an SDK error as a RemoteError, mapping the remote error
// code to a Kind. All message inspection lives here; callers above the
// client never look at error text.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &RemoteError{Op: op, Kind: KindGeneric, Err: err}
	}
	code := apiErr.ErrorCode()
	kind := KindGeneric
	switch {
	case strings.HasSuffix(code, ".NotFound"):
		kind = KindNotFound
	case op == "DetachVolume" && (code == "IncorrectState" || code == "InvalidAttachment.NotFound"):
		kind = KindNotAttached
	case op == "AttachVolume" && code == "VolumeInUse":
		kind = KindAttachmentConflict
	case op == "AttachVolume" && code == "InvalidParameterValue" &&
		strings.Contains(apiErr.ErrorMessage(), "already in use"):
		// EC2 reports device-name contention as a parameter error; the
		// message is the only discriminator the API offers.
		kind = KindAttachmentConflict
	}
	return &RemoteError{Op: op, Code: code, Kind: kind, Err: err}
}
