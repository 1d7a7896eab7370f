package jobs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultNamespace prefixes the namespaced aliases of every verb.
const DefaultNamespace = "lootscan"

// Command verbs served by Commands.
const (
	VerbExtractStart  = "extract_start"
	VerbExtractStatus = "extract_status"
	VerbExtract       = "extract"
	VerbDiscover      = "discover"
)

// StatusNotFound is the status line for an unknown or evicted job.
const StatusNotFound = "not_found"

// JobIDPrefix precedes the job id in a start response.
const JobIDPrefix = "job="

var (
	// ErrBadStatus is returned for status lines that cannot be parsed.
	ErrBadStatus = errors.New("unrecognized job status")

	// ErrUsage is returned when a command has too few arguments.
	ErrUsage = errors.New("usage")

	// ErrInvalidNumber is returned when a numeric argument does not parse.
	ErrInvalidNumber = errors.New(ReasonInvalidInput)
)

// JobStatus is a point-in-time view of a job as carried over RCON.
type JobStatus struct {
	ID        string
	State     State
	Reason    string
	Completed int
	Total     int
	OutPath   string
	Found     bool
}

// Line renders the status in its wire form.
func (s JobStatus) Line() string {
	if !s.Found && s.State == "" {
		return StatusNotFound
	}
	switch s.State {
	case StateDone:
		return fmt.Sprintf("done %s %d/%d", s.OutPath, s.Completed, s.Total)
	case StateFailed:
		reason := s.Reason
		if reason == "" {
			reason = "unknown"
		}
		return "failed " + reason
	default:
		return fmt.Sprintf("running %d/%d", s.Completed, s.Total)
	}
}

// ParseStatusLine parses a wire status line. A not_found line yields a
// status with Found false and no error.
func ParseStatusLine(line string) (JobStatus, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return JobStatus{}, fmt.Errorf("%w: empty", ErrBadStatus)
	}

	switch fields[0] {
	case StatusNotFound:
		return JobStatus{}, nil
	case string(StateFailed):
		reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), string(StateFailed)))
		if reason == "" {
			reason = "unknown"
		}
		return JobStatus{State: StateFailed, Reason: reason, Found: true}, nil
	case string(StateRunning):
		if len(fields) < 2 {
			return JobStatus{State: StateRunning, Found: true}, nil
		}
		c, t, err := parseFraction(fields[1])
		if err != nil {
			return JobStatus{}, fmt.Errorf("%w: %q", ErrBadStatus, line)
		}
		return JobStatus{State: StateRunning, Completed: c, Total: t, Found: true}, nil
	case string(StateDone):
		s := JobStatus{State: StateDone, Found: true}
		if len(fields) >= 2 {
			s.OutPath = fields[1]
		}
		if len(fields) >= 3 {
			c, t, err := parseFraction(fields[2])
			if err != nil {
				return JobStatus{}, fmt.Errorf("%w: %q", ErrBadStatus, line)
			}
			s.Completed, s.Total = c, t
		}
		return s, nil
	}
	return JobStatus{}, fmt.Errorf("%w: %q", ErrBadStatus, line)
}

func parseFraction(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("no fraction in %q", s)
	}
	c, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, err
	}
	t, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, err
	}
	return c, t, nil
}

// ParseJobID extracts the job id from a start response.
func ParseJobID(resp string) (string, bool) {
	i := strings.Index(resp, JobIDPrefix)
	if i < 0 {
		return "", false
	}
	id := resp[i+len(JobIDPrefix):]
	if j := strings.IndexAny(id, " \t\r\n"); j >= 0 {
		id = id[:j]
	}
	return id, id != ""
}

// FormatStartArgs renders the arguments of an extract_start (or legacy
// extract) command:
//
//	<space> <targetId> <x> <z> <radius> <outPath> [parallel] [count]
func FormatStartArgs(s Spec) string {
	return fmt.Sprintf("%s %s %d %d %d %s %t %d",
		s.Space, s.TargetID, s.CenterX, s.CenterZ, s.Radius, s.OutPath, s.Parallel, s.Concurrency())
}

// ParseStartArgs is the inverse of FormatStartArgs. Missing optional
// arguments default to sequential loading.
func ParseStartArgs(args []string) (Spec, error) {
	if len(args) < 6 {
		return Spec{}, fmt.Errorf("%w: <space> <targetId> <x> <z> <radius> <outPath> [parallel] [count]", ErrUsage)
	}

	var nums [3]int
	for i, raw := range args[2:5] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
		}
		nums[i] = n
	}

	spec := Spec{
		Space:    args[0],
		TargetID: args[1],
		CenterX:  nums[0],
		CenterZ:  nums[1],
		Radius:   max(MinRadius, nums[2]),
		OutPath:  args[5],
	}
	if len(args) > 6 {
		spec.Parallel = parseBool(args[6])
	}
	if len(args) > 7 {
		n, err := strconv.Atoi(args[7])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNumber, args[7])
		}
		spec.ParallelCount = n
	}
	return spec, nil
}

// DiscoverRequest is a bulk structure discovery over a circular area.
type DiscoverRequest struct {
	Space   string
	CenterX int
	CenterZ int
	Radius  int
	Step    int
	OutPath string
	IDs     []string
}

// MinDiscoverStep is the smallest sampling step discovery accepts.
const MinDiscoverStep = 128

// FormatDiscoverArgs renders:
//
//	<space> <centerX> <centerZ> <radius> <step> <outPath> <id,id,...>
func FormatDiscoverArgs(r DiscoverRequest) string {
	return fmt.Sprintf("%s %d %d %d %d %s %s",
		r.Space, r.CenterX, r.CenterZ, r.Radius, r.Step, r.OutPath, strings.Join(r.IDs, ","))
}

// ParseDiscoverArgs is the inverse of FormatDiscoverArgs. The radius is
// raised to at least 1 and the step to at least MinDiscoverStep.
func ParseDiscoverArgs(args []string) (DiscoverRequest, error) {
	if len(args) < 7 {
		return DiscoverRequest{}, fmt.Errorf("%w: <space> <centerX> <centerZ> <radius> <step> <outPath> <id,id,...>", ErrUsage)
	}

	var nums [4]int
	for i, raw := range args[1:5] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return DiscoverRequest{}, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
		}
		nums[i] = n
	}

	var ids []string
	for _, id := range strings.Split(args[6], ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	return DiscoverRequest{
		Space:   args[0],
		CenterX: nums[0],
		CenterZ: nums[1],
		Radius:  max(1, nums[2]),
		Step:    max(MinDiscoverStep, nums[3]),
		OutPath: args[5],
		IDs:     ids,
	}, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
