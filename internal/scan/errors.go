package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/jackzampolin/lootscan/internal/artifact"
)

var (
	// ErrJobTimeout is returned when a remote job outlives its deadline.
	ErrJobTimeout = errors.New("extraction job timed out")

	// ErrJobFailed is returned when a remote job reports failure.
	ErrJobFailed = errors.New("extraction job failed")

	// ErrArtifactMissing is returned when a finished job's artifact never
	// appears. It is handled like a timeout.
	ErrArtifactMissing = artifact.ErrMissing

	// ErrDiscoveryUnavailable is returned when bulk discovery cannot be
	// used and the sampling sweep should run instead.
	ErrDiscoveryUnavailable = errors.New("bulk discovery unavailable")

	// ErrUnsupportedCommand is returned when neither a verb nor its
	// namespaced alias is known to the server.
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// JobFailedError carries the failure reason a remote job reported.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.JobID == "" {
		return "extraction job failed: " + e.Reason
	}
	return fmt.Sprintf("extraction job %s failed: %s", e.JobID, e.Reason)
}

func (e *JobFailedError) Unwrap() error {
	return ErrJobFailed
}

// commandTimedOut reports whether err is a command whose response did not
// arrive in time. Cancellation of ctx itself is not a command timeout.
func commandTimedOut(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// asJobTimeout marks a timed-out command as a job timeout so its target is
// abandoned for this pass and retried in the next one.
func asJobTimeout(ctx context.Context, err error) error {
	if commandTimedOut(ctx, err) {
		return fmt.Errorf("%w: %w", ErrJobTimeout, err)
	}
	return err
}

// perTarget reports whether err affects only one target. Any other error
// aborts the run.
func perTarget(err error) bool {
	return errors.Is(err, ErrJobTimeout) ||
		errors.Is(err, ErrJobFailed) ||
		errors.Is(err, ErrArtifactMissing) ||
		errors.Is(err, artifact.ErrInvalid) ||
		errors.Is(err, ErrUnsupportedCommand)
}

// failureReason renders the report error for a target that failed a pass.
func failureReason(err error, pass int) string {
	var jf *JobFailedError
	switch {
	case errors.Is(err, ErrJobTimeout), errors.Is(err, ErrArtifactMissing):
		return fmt.Sprintf("timeout pass %d/%d", pass, MaxPasses)
	case errors.As(err, &jf):
		return fmt.Sprintf("failed pass %d/%d: %s", pass, MaxPasses, jf.Reason)
	case errors.Is(err, ErrUnsupportedCommand):
		return fmt.Sprintf("unsupported_command pass %d/%d", pass, MaxPasses)
	}
	return fmt.Sprintf("failed pass %d/%d: %v", pass, MaxPasses, err)
}
