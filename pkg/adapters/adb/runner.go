// Package adb drives an Android device through the adb command line tool.
//
// The adapter implements ports.Device and ports.ContainerLister. Screens are
// captured with screencap and uiautomator, the foreground activity becomes the
// container identity and the screenshot is reduced to a perceptual hash.
package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes one adb invocation and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CommandRunner runs the adb binary, targeting Serial when set.
type CommandRunner struct {
	Path   string
	Serial string
}

// Run implements Runner.
func (r CommandRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	path := r.Path
	if path == "" {
		path = "adb"
	}
	if r.Serial != "" {
		args = append([]string{"-s", r.Serial}, args...)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
