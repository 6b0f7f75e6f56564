package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
)

const (
	// DefaultWaitTimeout bounds each poll-confirmed transition.
	DefaultWaitTimeout = 5 * time.Minute
	// DefaultTerminationSettle is how long a terminated instance's
	// network interface needs to fully release before reuse.
	DefaultTerminationSettle = 30 * time.Second
	// DefaultLaunchSettle pads the running state of a fresh instance
	// before it is treated as reachable.
	DefaultLaunchSettle = 60 * time.Second
)

// Recorder persists pre-restore instance records.
type Recorder interface {
	Capture(inst *cloud.Instance) (string, error)
}

// ProgressFunc receives one line per completed workflow step.
type ProgressFunc func(format string, args ...any)

// PreconditionError reports an instance or image that is not in a
// state a workflow can start from.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

// IsPrecondition reports whether err is a failed workflow precondition.
// Preconditions are terminal for the current instance but non-fatal for
// a batch.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// Orchestrator executes restore workflows as sequences of poll-confirmed
// state transitions. A mutating call is never followed by a dependent
// step until its target state has been observed.
type Orchestrator struct {
	client   cloud.Client
	recorder Recorder
	logger   log.FieldLogger
	runID    string

	waitTimeout       time.Duration
	terminationSettle time.Duration
	launchSettle      time.Duration
	sleep             func(time.Duration)
	progress          ProgressFunc
}

// Opt adjusts an Orchestrator.
type Opt func(*Orchestrator)

// WithWaitTimeout overrides the per-transition wait budget.
func WithWaitTimeout(d time.Duration) Opt {
	return func(o *Orchestrator) { o.waitTimeout = d }
}

// WithTerminationSettle overrides the post-termination settle delay.
func WithTerminationSettle(d time.Duration) Opt {
	return func(o *Orchestrator) { o.terminationSettle = d }
}

// WithLaunchSettle overrides the post-launch settle delay.
func WithLaunchSettle(d time.Duration) Opt {
	return func(o *Orchestrator) { o.launchSettle = d }
}

// WithSleep replaces the settle-delay clock.
func WithSleep(sleep func(time.Duration)) Opt {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithProgress replaces the per-step console reporter.
func WithProgress(fn ProgressFunc) Opt {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithRunID tags all workflow logs with a run identifier.
func WithRunID(id string) Opt {
	return func(o *Orchestrator) { o.runID = id }
}

// NewOrchestrator creates an Orchestrator on top of a cloud client and
// a backup recorder.
func NewOrchestrator(client cloud.Client, recorder Recorder, logger log.FieldLogger, opts ...Opt) *Orchestrator {
	o := &Orchestrator{
		client:            client,
		recorder:          recorder,
		logger:            logger,
		waitTimeout:       DefaultWaitTimeout,
		terminationSettle: DefaultTerminationSettle,
		launchSettle:      DefaultLaunchSettle,
		sleep:             time.Sleep,
		progress: func(format string, args ...any) {
			fmt.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	fields := log.Fields{"component": "restore"}
	if o.runID != "" {
		fields["run_id"] = o.runID
	}
	o.logger = o.logger.WithFields(fields)
	return o
}

// capture fetches the instance, enriches it with its boot data, and
// persists the pre-restore record. Nothing has been mutated yet when
// capture fails, so its errors abort the workflow with no cleanup.
func (o *Orchestrator) capture(ctx context.Context, instanceID string) (*cloud.Instance, string, error) {
	inst, err := o.client.Instance(ctx, instanceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	if !inst.State.Known() {
		return nil, "", &PreconditionError{Reason: fmt.Sprintf("instance %s reports unknown state %q", instanceID, inst.State)}
	}

	userData, err := o.client.InstanceUserData(ctx, instanceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch boot data for %s: %w", instanceID, err)
	}
	inst.UserData = userData

	path, err := o.recorder.Capture(inst)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write backup record: %w", err)
	}
	o.progress("Backup record written to %s", path)
	return inst, path, nil
}

// snapshotAll takes a safety snapshot of every attached volume and
// waits for each to complete, in device-name order. Every device is
// covered regardless of what the workflow will touch.
func (o *Orchestrator) snapshotAll(ctx context.Context, inst *cloud.Instance, reason string) (map[string]string, error) {
	devices := make([]cloud.BlockDevice, len(inst.BlockDevices))
	copy(devices, inst.BlockDevices)
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceName < devices[j].DeviceName })

	snapshots := make(map[string]string, len(devices))
	for _, bd := range devices {
		description := fmt.Sprintf("Safety snapshot of %s (%s) before %s", bd.VolumeID, bd.DeviceName, reason)
		snapID, err := o.client.CreateSnapshot(ctx, bd.VolumeID, description)
		if err != nil {
			return snapshots, fmt.Errorf("failed to snapshot %s: %w", bd.VolumeID, err)
		}
		if err := o.client.WaitForSnapshotCompleted(ctx, snapID, o.waitTimeout); err != nil {
			return snapshots, fmt.Errorf("safety snapshot %s: %w", snapID, err)
		}
		snapshots[bd.DeviceName] = snapID
		o.progress("Safety snapshot %s completed for %s", snapID, bd.DeviceName)
	}
	return snapshots, nil
}
