// Package smart queries S.M.A.R.T. attributes through smartctl, trying a
// list of device-type strategies until one gives a definitive answer.
package smart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
)

var logger = logging.Get("smart")

// Defaults applied when the corresponding option is zero.
const (
	DefaultBinary  = "smartctl"
	DefaultTimeout = 15 * time.Second
)

// Outcome is the classified result of one attempt or of a whole query.
type Outcome string

const (
	Available        Outcome = "available"
	Unavailable      Outcome = "unavailable"
	PermissionDenied Outcome = "permission-denied"
	NotFound         Outcome = "not-found"
	Failed           Outcome = "failed"
)

// Definitive reports whether no further strategy should be tried.
func (o Outcome) Definitive() bool {
	return o == Available || o == PermissionDenied || o == NotFound
}

// Strategy is one smartctl invocation style. An empty DeviceType lets
// smartctl detect the type itself.
type Strategy struct {
	Name       string
	DeviceType string
}

// DefaultStrategies is the order tried when none are configured.
var DefaultStrategies = []Strategy{
	{Name: "auto"},
	{Name: "sat", DeviceType: "sat"},
	{Name: "ata", DeviceType: "ata"},
	{Name: "nvme", DeviceType: "nvme"},
	{Name: "scsi", DeviceType: "scsi"},
}

// Result is the raw output of one command run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command. It returns an error only when the command
// could not be run or did not finish; a non-zero exit is reported in
// Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

// Options configures a Client.
type Options struct {
	Binary     string
	Sudo       bool
	Timeout    time.Duration
	Strategies []Strategy
	Runner     Runner
}

// Attempt records one strategy run.
type Attempt struct {
	Strategy string  `json:"strategy" yaml:"strategy"`
	Command  string  `json:"command" yaml:"command"`
	Outcome  Outcome `json:"outcome" yaml:"outcome"`
	Detail   string  `json:"detail,omitempty" yaml:"detail,omitempty"`
	ExitCode int     `json:"exit_code" yaml:"exit_code"`
}

// Report is the result of a query.
type Report struct {
	Device     string      `json:"device" yaml:"device"`
	Outcome    Outcome     `json:"outcome" yaml:"outcome"`
	Strategy   string      `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Attempts   []Attempt   `json:"attempts" yaml:"attempts"`
}

// Client queries smartctl.
type Client struct {
	opts Options
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Client{opts: opts}
}

// Query tries each strategy in order until one is definitive. The returned
// error is non-nil only when ctx ends the query.
func (c *Client) Query(ctx context.Context, device string) (*Report, error) {
	report := &Report{Device: device, Outcome: Failed}
	sawUnavailable := false

	for _, s := range c.opts.Strategies {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		name, args := c.command(s, device)
		attempt, res := c.try(ctx, s, name, args)
		report.Attempts = append(report.Attempts, attempt)
		logger.Debug("smartctl attempt", "device", device, "strategy", s.Name, "outcome", attempt.Outcome, "exit", attempt.ExitCode)

		switch attempt.Outcome {
		case Available:
			report.Outcome = Available
			report.Strategy = s.Name
			report.Attributes = ParseAttributes(res.Stdout)
			logger.Info("smart data read", "device", device, "strategy", s.Name)
			return report, nil
		case PermissionDenied, NotFound:
			report.Outcome = attempt.Outcome
			logger.Warn("smart query stopped", "device", device, "outcome", attempt.Outcome, "detail", attempt.Detail)
			return report, nil
		case Unavailable:
			sawUnavailable = true
		}
	}

	if sawUnavailable {
		report.Outcome = Unavailable
	}
	logger.Warn("no smart data after all strategies", "device", device, "outcome", report.Outcome)
	return report, ctx.Err()
}

func (c *Client) command(s Strategy, device string) (string, []string) {
	args := []string{"-A"}
	if s.DeviceType != "" {
		args = append(args, "-d", s.DeviceType)
	}
	args = append(args, device)
	if c.opts.Sudo {
		return "sudo", append([]string{c.opts.Binary}, args...)
	}
	return c.opts.Binary, args
}

func (c *Client) try(ctx context.Context, s Strategy, name string, args []string) (Attempt, Result) {
	tctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	res, err := c.opts.Runner.Run(tctx, name, args...)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s", c.opts.Timeout)
	}
	outcome, detail := classify(res, err)
	return Attempt{
		Strategy: s.Name,
		Command:  strings.Join(append([]string{name}, args...), " "),
		Outcome:  outcome,
		Detail:   detail,
		ExitCode: res.ExitCode,
	}, res
}

// smartctl exit status bits.
const (
	exitParse    = 1 << 0
	exitOpen     = 1 << 1
	exitSMARTCmd = 1 << 2
)

// classify maps one run to an outcome. Run errors and exit bits decide
// first; smartctl's text output is consulted only where they cannot.
func classify(res Result, err error) (Outcome, string) {
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return NotFound, err.Error()
		}
		return Failed, err.Error()
	}

	out := normalize(res.Stdout)
	errText := normalize(res.Stderr)
	all := out + "\n" + errText

	if containsAny(all, "permission denied", "must be run as root", "operation not permitted") {
		return PermissionDenied, firstLine(res.Stderr, res.Stdout)
	}

	switch {
	case res.ExitCode&exitParse != 0:
		return Failed, "command line not accepted: " + firstLine(res.Stderr, res.Stdout)
	case res.ExitCode&exitOpen != 0:
		switch {
		case containsAny(all, "lacks smart capability", "smart not available"):
			return Unavailable, "device lacks smart capability"
		case containsAny(all, "unable to detect device type"):
			return Failed, "device type not detected"
		case containsAny(all, "device open failed", "no such device"):
			return Failed, "device open failed: " + firstLine(res.Stderr, res.Stdout)
		}
		return Failed, firstLine(res.Stderr, res.Stdout)
	}

	if containsAny(out, "smart support is: unavailable", "smart support is: disabled", "lacks smart capability") {
		return Unavailable, "smart unavailable or disabled"
	}
	if res.ExitCode&exitSMARTCmd != 0 && !strings.Contains(out, "start of read smart data section") {
		return Failed, "smart command failed"
	}
	return Available, ""
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "s.m.a.r.t.", "smart")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstLine(candidates ...string) string {
	for _, c := range candidates {
		for _, line := range strings.Split(c, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				return line
			}
		}
	}
	return "no output"
}
