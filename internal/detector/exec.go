package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// ImagePlaceholder is replaced by the image path in the command arguments.
const ImagePlaceholder = "{image}"

// DefaultTimeout bounds a single detector run.
const DefaultTimeout = 2 * time.Minute

// Exec runs an external keypoint detector that writes Lowe-format keypoints
// to stdout. When no argument contains ImagePlaceholder, the image bytes are
// piped to the command's stdin instead.
type Exec struct {
	Command []string
	Timeout time.Duration
}

// NewExec splits command on whitespace.
func NewExec(command string, timeout time.Duration) (*Exec, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: detector command is empty", feature.ErrInvalidInput)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Exec{Command: fields, Timeout: timeout}, nil
}

// Detect runs the command for image and parses its output.
func (e *Exec) Detect(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	info, err := ReadImageInfo(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", feature.ErrDetectionFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	args, usesPlaceholder := e.args(image)
	cmd := exec.CommandContext(ctx, e.Command[0], args...) //nolint:gosec // command comes from trusted config

	if !usesPlaceholder {
		f, err := os.Open(image) //nolint:gosec // path is the image the user asked to match
		if err != nil {
			return nil, fmt.Errorf("%w: unable to load %s: %w", feature.ErrDetectionFailure, image, err)
		}
		defer f.Close()
		cmd.Stdin = f
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s timed out after %s", feature.ErrDetectionFailure, image, e.Timeout)
		}
		return nil, fmt.Errorf("%w: %s on %s: %w: %s", feature.ErrDetectionFailure, e.Command[0], image, err, msg)
	}

	set, err := feature.ReadLowe(&stdout, image)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s output for %s: %w", feature.ErrDetectionFailure, e.Command[0], image, err)
	}
	set.Width, set.Height = info.Width, info.Height
	return set, nil
}

func (e *Exec) args(image string) ([]string, bool) {
	args := make([]string, 0, len(e.Command)-1)
	found := false
	for _, a := range e.Command[1:] {
		if strings.Contains(a, ImagePlaceholder) {
			found = true
			a = strings.ReplaceAll(a, ImagePlaceholder, image)
		}
		args = append(args, a)
	}
	return args, found
}
