package assembler

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/xerrors"
)

// ExecAssembler drives a real assembler executable via the file-exchange
// contract: the source is written to a scratch .asm file alongside the
// working ROM, the tool is invoked with the ROM, the patch, and one
// -I<path> per include path, and the tool is expected to write a JSON
// sidecar report next to the output ROM
// describing written blocks, labels, warnings and errors.
type ExecAssembler struct {
	// Executable is the path to the assembler binary.
	Executable string
}

type sidecarReport struct {
	Success       bool           `json:"success"`
	WrittenBlocks []WrittenBlock `json:"written_blocks"`
	Labels        []Label        `json:"labels"`
	Warnings      []Warning      `json:"warnings"`
	Prints        []string       `json:"prints"`
	Errors        []string       `json:"errors"`
}

func (a *ExecAssembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	if a.Executable == "" {
		return nil, xerrors.New("no assembler executable configured")
	}
	if _, err := os.Stat(a.Executable); err != nil {
		return nil, xerrors.Errorf("assembler executable %q not found: %w", a.Executable, err)
	}

	dir, err := os.MkdirTemp("", "callisto-asm-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	sourcePath := filepath.Join(dir, req.SourceName)
	if err := os.MkdirAll(filepath.Dir(sourcePath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(sourcePath, req.Source, 0o644); err != nil {
		return nil, err
	}

	romIn := filepath.Join(dir, "in.rom")
	if err := os.WriteFile(romIn, req.ROM, 0o644); err != nil {
		return nil, err
	}
	romOut := filepath.Join(dir, "out.rom")
	reportPath := filepath.Join(dir, "report.json")

	args := []string{sourcePath, romIn, "-o", romOut, "-report", reportPath}
	for _, inc := range req.IncludePaths {
		args = append(args, "-I"+inc)
	}

	cmd := exec.CommandContext(ctx, a.Executable, args...)
	if req.WorkingDirectory != "" {
		cmd.Dir = req.WorkingDirectory
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	reportBytes, readErr := os.ReadFile(reportPath)
	if readErr != nil {
		if runErr != nil {
			return nil, xerrors.Errorf("%s: %w: %s", a.Executable, runErr, stderr.String())
		}
		return nil, xerrors.Errorf("assembler produced no report at %s", reportPath)
	}

	var report sidecarReport
	if err := json.Unmarshal(reportBytes, &report); err != nil {
		return nil, xerrors.Errorf("parsing assembler report: %w", err)
	}

	if !report.Success {
		return nil, &AssembleError{Errors: report.Errors}
	}

	romBytes, err := os.ReadFile(romOut)
	if err != nil {
		return nil, xerrors.Errorf("reading assembled ROM: %w", err)
	}

	return &Result{
		ROM:           romBytes,
		WrittenBlocks: report.WrittenBlocks,
		Labels:        report.Labels,
		Warnings:      report.Warnings,
		Prints:        report.Prints,
	}, nil
}
