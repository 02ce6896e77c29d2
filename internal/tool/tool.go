// Package tool implements external tool invocation: the working-directory
// scoping and ".callisto" project-cache marker file every user-configured
// generic external tool is run under.
package tool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/callistoerr"
)

// localMarkerName is the file a tool can read to find this project's
// cache directory without needing any other configuration passed to it.
const localMarkerName = ".callisto"

// Spec describes one external tool invocation.
type Spec struct {
	Name             string
	Executable       string
	Options          string
	WorkingDirectory string
	TakesUserInput   bool
	PassROM          bool
	ROMPath          string
	CallistoDir      string
}

// Run executes the tool under its configured working directory, writing
// and then removing the local .callisto marker file around the call so
// the tool (and nothing else) can see it during the run.
func Run(ctx context.Context, spec Spec) error {
	if _, err := os.Stat(spec.Executable); err != nil {
		return callistoerr.NewToolNotFoundError("%s executable not found at %s", spec.Name, spec.Executable)
	}
	if _, err := os.Stat(spec.WorkingDirectory); err != nil {
		return xerrors.Errorf("working directory %s not found for %s", spec.WorkingDirectory, spec.Name)
	}
	if spec.PassROM {
		if _, err := os.Stat(spec.ROMPath); err != nil {
			return xerrors.Errorf("temporary ROM not found at %s", spec.ROMPath)
		}
	}

	markerPath := filepath.Join(spec.WorkingDirectory, localMarkerName)
	if err := writeLocalMarker(markerPath, spec.CallistoDir); err != nil {
		return xerrors.Errorf("writing local tool marker: %w", err)
	}
	defer os.Remove(markerPath)

	args := []string{}
	if spec.Options != "" {
		args = append(args, spec.Options)
	}
	if spec.PassROM {
		args = append(args, spec.ROMPath)
	}

	cmd := exec.CommandContext(ctx, spec.Executable, args...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if spec.TakesUserInput {
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Run(); err != nil {
		return callistoerr.NewInsertionFailedError("running %s failed: %v", spec.Name, err)
	}
	return nil
}

func writeLocalMarker(markerPath, callistoDir string) error {
	os.Remove(markerPath)
	return os.WriteFile(markerPath, []byte(filepath.ToSlash(callistoDir)), 0o644)
}
