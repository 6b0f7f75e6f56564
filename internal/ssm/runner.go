package ssm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	log "github.com/sirupsen/logrus"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
	"ec2restore.io/ec2-restore-cli/internal/config"
)

const (
	// DefaultPollInterval is the cadence of invocation status checks.
	DefaultPollInterval = 5 * time.Second
	// statusGrace pads the poll budget past the command's own execution
	// timeout so a command Systems Manager kills still reports TimedOut
	// instead of a poll timeout.
	statusGrace = 30 * time.Second
	// truncatedMarker is what Systems Manager appends when inline
	// invocation output hits its size cap.
	truncatedMarker = "---Output truncated---"
)

// API is the Systems Manager subset the runner uses.
type API interface {
	SendCommand(ctx context.Context, params *awsssm.SendCommandInput, optFns ...func(*awsssm.Options)) (*awsssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *awsssm.GetCommandInvocationInput, optFns ...func(*awsssm.Options)) (*awsssm.GetCommandInvocationOutput, error)
}

// ObjectStore is the S3 subset used to retrieve full command output.
type ObjectStore interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Runner dispatches configured shell commands on an instance after a
// restore, one at a time. Commands have no rollback semantics: the
// first failure stops the sequence and is reported as is.
type Runner struct {
	api    API
	store  ObjectStore
	cfg    *config.SystemsManager
	logger log.FieldLogger
	runID  string
	poll   time.Duration
	out    io.Writer
}

// Opt adjusts a Runner.
type Opt func(*Runner)

// WithObjectStore enables fetching full command output from the bucket
// configured in systems_manager.output_s3_bucket.
func WithObjectStore(store ObjectStore) Opt {
	return func(r *Runner) { r.store = store }
}

// WithRunID stamps dispatched commands with a run identifier.
func WithRunID(id string) Opt {
	return func(r *Runner) { r.runID = id }
}

// WithPollInterval overrides the status poll cadence.
func WithPollInterval(d time.Duration) Opt {
	return func(r *Runner) { r.poll = d }
}

// WithOutput redirects command output printing.
func WithOutput(w io.Writer) Opt {
	return func(r *Runner) { r.out = w }
}

// NewRunner creates a Runner for the given configuration.
func NewRunner(api API, cfg *config.SystemsManager, logger log.FieldLogger, opts ...Opt) *Runner {
	r := &Runner{
		api:    api,
		cfg:    cfg,
		logger: logger,
		poll:   DefaultPollInterval,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithField("component", "ssm")
	return r
}

// CommandResult is the outcome of one dispatched command.
type CommandResult struct {
	Name      string
	CommandID string
	Status    string
	Stdout    string
	Stderr    string
}

// Run executes the configured commands against the instance in order.
// A disabled or empty configuration is a no-op. The results returned
// alongside an error cover the commands dispatched up to that point.
func (r *Runner) Run(ctx context.Context, instanceID string) ([]CommandResult, error) {
	if r.cfg == nil || !r.cfg.Enabled || len(r.cfg.Commands) == 0 {
		return nil, nil
	}

	results := make([]CommandResult, 0, len(r.cfg.Commands))
	for _, cmd := range r.cfg.Commands {
		name := cmd.Name
		if name == "" {
			name = cmd.Command
		}
		logger := r.logger.WithFields(log.Fields{"command": name, "instance": instanceID})

		result, err := r.dispatch(ctx, instanceID, name, cmd, logger)
		if result != nil {
			results = append(results, *result)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) dispatch(ctx context.Context, instanceID, name string, cmd config.Command, logger log.FieldLogger) (*CommandResult, error) {
	input := &awsssm.SendCommandInput{
		InstanceIds:  []string{instanceID},
		DocumentName: aws.String(r.cfg.DocumentName),
		Parameters: map[string][]string{
			"commands":         {cmd.Command},
			"executionTimeout": {strconv.FormatInt(int64(cmd.Timeout().Seconds()), 10)},
		},
	}
	if r.runID != "" {
		input.Comment = aws.String("ec2-restore run " + r.runID)
	}
	if r.cfg.OutputS3Bucket != "" {
		input.OutputS3BucketName = aws.String(r.cfg.OutputS3Bucket)
		if r.cfg.OutputS3Prefix != "" {
			input.OutputS3KeyPrefix = aws.String(r.cfg.OutputS3Prefix)
		}
	}

	sent, err := r.api.SendCommand(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to send command %q: %w", name, err)
	}
	commandID := aws.ToString(sent.Command.CommandId)
	logger = logger.WithField("command_id", commandID)
	logger.Info("command dispatched")

	if !cmd.Wait() {
		fmt.Fprintf(r.out, "✓ Command %q dispatched, not waiting for completion\n", name)
		return &CommandResult{Name: name, CommandID: commandID, Status: string(ssmtypes.CommandInvocationStatusPending)}, nil
	}

	inv, status, err := r.await(ctx, commandID, instanceID, cmd.Timeout())
	result := &CommandResult{Name: name, CommandID: commandID, Status: status}
	if inv != nil {
		result.Stdout = aws.ToString(inv.StandardOutputContent)
		result.Stderr = aws.ToString(inv.StandardErrorContent)
	}
	if err != nil {
		if result.Stderr != "" {
			fmt.Fprintf(r.out, "Command %q failed:\n%s\n", name, result.Stderr)
		}
		return result, fmt.Errorf("command %q: %w", name, err)
	}

	if r.store != nil && r.cfg.OutputS3Bucket != "" && strings.Contains(result.Stdout, truncatedMarker) {
		full, ferr := r.fetchStdout(ctx, commandID, instanceID)
		if ferr != nil {
			logger.WithError(ferr).Warn("could not fetch full output, keeping truncated copy")
		} else {
			result.Stdout = full
		}
	}

	fmt.Fprintf(r.out, "✓ Command %q succeeded\n", name)
	if result.Stdout != "" {
		fmt.Fprintln(r.out, result.Stdout)
	}
	return result, nil
}

// await polls the invocation until it reaches a terminal status. An
// invocation is briefly unknown to the API right after dispatch, so
// poll errors are retried.
func (r *Runner) await(ctx context.Context, commandID, instanceID string, timeout time.Duration) (*awsssm.GetCommandInvocationOutput, string, error) {
	var inv *awsssm.GetCommandInvocationOutput
	status, err := cloud.Await(ctx, cloud.Condition{
		Resource: fmt.Sprintf("command %s", commandID),
		Want:     string(ssmtypes.CommandInvocationStatusSuccess),
		Poll: func(ctx context.Context) (string, error) {
			out, err := r.api.GetCommandInvocation(ctx, &awsssm.GetCommandInvocationInput{
				CommandId:  aws.String(commandID),
				InstanceId: aws.String(instanceID),
			})
			if err != nil {
				return "", err
			}
			inv = out
			return string(out.Status), nil
		},
		Target: func(state string) bool {
			return state == string(ssmtypes.CommandInvocationStatusSuccess)
		},
		Failed:              invocationFailed,
		TransientPollErrors: true,
		Interval:            r.poll,
		Timeout:             timeout + statusGrace,
	})
	return inv, status, err
}

func invocationFailed(state string) bool {
	switch ssmtypes.CommandInvocationStatus(state) {
	case ssmtypes.CommandInvocationStatusFailed,
		ssmtypes.CommandInvocationStatusCancelled,
		ssmtypes.CommandInvocationStatusTimedOut:
		return true
	}
	return false
}

// fetchStdout retrieves the complete stdout object Systems Manager
// wrote for the invocation. The key layout under the prefix includes a
// plugin directory, so the object is found by listing rather than by
// building the key.
func (r *Runner) fetchStdout(ctx context.Context, commandID, instanceID string) (string, error) {
	bucket := r.cfg.OutputS3Bucket
	prefix := path.Join(r.cfg.OutputS3Prefix, commandID, instanceID) + "/"

	list, err := r.store.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list objects in s3://%s/%s: %w", bucket, prefix, err)
	}

	var key string
	for _, obj := range list.Contents {
		if strings.HasSuffix(aws.ToString(obj.Key), "/stdout") {
			key = aws.ToString(obj.Key)
			break
		}
	}
	if key == "" {
		return "", fmt.Errorf("no stdout object found in s3://%s/%s", bucket, prefix)
	}

	result, err := r.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get object s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return string(data), nil
}
