// Command callisto drives the incremental build engine (internal/engine)
// against a project directory, dispatching on a subcommand verb.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
	"github.com/smw-build/callisto/internal/config"
	"github.com/smw-build/callisto/internal/engine"
	"github.com/smw-build/callisto/internal/projectasm"
)

// version is the engine's own version, mirrored into every build's
// project include file.
var version = projectasm.Version{Major: 1, Minor: 0, Patch: 0}

var debug = flag.Bool("debug", false, "format error messages with additional detail")

type commandFlags struct {
	profile          string
	maxThreads       int
	allowUserInput   bool
	checkPendingSave bool
	noExport         bool
}

func registerCommonFlags(fs *flag.FlagSet, f *commandFlags) {
	fs.StringVar(&f.profile, "profile", "default", "project profile name")
	fs.IntVar(&f.maxThreads, "max-threads", runtime.NumCPU(), "cap the size of the background worker pool")
	fs.BoolVar(&f.allowUserInput, "allow-user-input", true, "allow external tools to prompt on stdin")
	fs.BoolVar(&f.checkPendingSave, "check-pending-save", true, "log a notice when unsaved external edits are exported before building")
	fs.BoolVar(&f.noExport, "no-export", false, "refuse an implicit export before building")
}

func resolveConfig(projectRoot string, f *commandFlags) (*config.Configuration, error) {
	cfg, err := loadConfiguration(projectRoot, f.profile)
	if err != nil {
		return nil, err
	}
	cfg.AllowUserInput = f.allowUserInput
	cfg.CheckPendingSave = f.checkPendingSave
	return cfg, nil
}

func assemblerFor(cfg *config.Configuration) assembler.Assembler {
	executable := ""
	if tc, ok := cfg.GenericToolConfigurations["asar"]; ok {
		executable = tc.Executable
	}
	return &assembler.ExecAssembler{Executable: executable}
}

func cmdRebuild(ctx context.Context, projectRoot string, args []string) error {
	f := &commandFlags{}
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	registerCommonFlags(fs, f)
	fs.Parse(args)

	cfg, err := resolveConfig(projectRoot, f)
	if err != nil {
		return err
	}

	if err := maybeExport(ctx, cfg, f); err != nil {
		return err
	}

	asm := assemblerFor(cfg)
	rb := &engine.Rebuilder{Config: cfg, Factory: newProjectFactory(cfg, asm), Version: version}
	result, err := rb.Build(ctx)
	if err != nil {
		return err
	}
	reportResult(cfg, result)
	return nil
}

func cmdUpdate(ctx context.Context, projectRoot string, args []string) error {
	f := &commandFlags{}
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	registerCommonFlags(fs, f)
	fs.Parse(args)

	cfg, err := resolveConfig(projectRoot, f)
	if err != nil {
		return err
	}

	if err := maybeExport(ctx, cfg, f); err != nil {
		return err
	}

	asm := assemblerFor(cfg)
	qb := &engine.QuickBuilder{Config: cfg, Factory: newProjectFactory(cfg, asm), Version: version}
	result, err := qb.Build(ctx)
	if err != nil {
		var mustRebuild *callistoerr.MustRebuildError
		if xerrors.As(err, &mustRebuild) {
			log.Printf("quick build not possible (%v), running a full rebuild", mustRebuild)
			rb := &engine.Rebuilder{Config: cfg, Factory: newProjectFactory(cfg, asm), Version: version}
			result, err = rb.Build(ctx)
			if err != nil {
				return err
			}
			reportResult(cfg, result)
			return nil
		}
		return err
	}
	if result == nil {
		fmt.Println("up to date, nothing to do")
		return nil
	}
	reportResult(cfg, result)
	return nil
}

func cmdSave(ctx context.Context, projectRoot string, args []string) error {
	f := &commandFlags{}
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	registerCommonFlags(fs, f)
	fs.Parse(args)

	cfg, err := resolveConfig(projectRoot, f)
	if err != nil {
		return err
	}

	saver := &engine.Saver{Config: cfg, Extractors: exportExtractors(), DestDirs: exportDestDirs(cfg), MaxThreads: f.maxThreads}
	result, err := saver.Save(ctx)
	if err != nil {
		return err
	}
	if len(result.Extracted) == 0 {
		fmt.Println("nothing to export")
	} else {
		fmt.Printf("exported %v\n", result.Extracted)
	}
	return nil
}

func cmdProfiles(ctx context.Context, projectRoot string, args []string) error {
	names, err := listProfiles(projectRoot)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no profiles configured")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// cmdEdit and cmdPackage cover the interactive editor-integration
// sidecar and the release-packaging step, neither of which is part of
// this engine. The verbs are still accepted so a caller gets a clear
// error rather than "unknown command".
func cmdEdit(ctx context.Context, projectRoot string, args []string) error {
	return callistoerr.NewConfigError("the %q command requires the interactive editor-integration sidecar, which is out of scope for this build", "edit")
}

func cmdPackage(ctx context.Context, projectRoot string, args []string) error {
	return callistoerr.NewConfigError("the %q command requires release packaging, which is out of scope for this build", "package")
}

// maybeExport runs an implicit export before a build unless the artifact
// is already up to date or the caller passed -no-export.
func maybeExport(ctx context.Context, cfg *config.Configuration, f *commandFlags) error {
	if f.noExport {
		return nil
	}
	saver := &engine.Saver{Config: cfg, Extractors: exportExtractors(), DestDirs: exportDestDirs(cfg), MaxThreads: f.maxThreads}
	needed, err := saver.NeedsExport()
	if err != nil {
		return err
	}
	if !needed {
		return nil
	}
	if cfg.CheckPendingSave {
		log.Print("output ROM has unsaved changes, exporting before building")
	}
	_, err = saver.Save(ctx)
	return err
}

func reportResult(cfg *config.Configuration, result *engine.Result) {
	if result == nil {
		return
	}
	fmt.Printf("wrote %s\n", result.OutputRomPath)
	if result.ConflictLog == "" {
		return
	}
	logPath, hasLogPath := cfg.ConflictLogFile.Get()
	if !hasLogPath {
		fmt.Println(result.ConflictLog)
		return
	}
	if err := os.WriteFile(logPath, []byte(result.ConflictLog), 0o644); err != nil {
		log.Printf("warning: failed to write conflict log to %s: %v", logPath, err)
		fmt.Println(result.ConflictLog)
	}
}

type verbFunc func(ctx context.Context, projectRoot string, args []string) error

func verbs() map[string]verbFunc {
	return map[string]verbFunc{
		"rebuild":  cmdRebuild,
		"update":   cmdUpdate,
		"save":     cmdSave,
		"edit":     cmdEdit,
		"package":  cmdPackage,
		"profiles": cmdProfiles,
	}
}

func funcmain() error {
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: callisto [-flags] <rebuild|update|save|edit|package|profiles> [-flags] [args]")
		os.Exit(2)
	}
	verb, rest := args[0], args[1:]

	v, ok := verbs()[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		os.Exit(2)
	}

	projectRoot, err := os.Getwd()
	if err != nil {
		return xerrors.Errorf("determining project root: %w", err)
	}

	if err := v(context.Background(), projectRoot, rest); err != nil {
		if *debug {
			return xerrors.Errorf("%s: %+v", verb, err)
		}
		return xerrors.Errorf("%s: %v", verb, err)
	}
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var configErr *callistoerr.ConfigError
		var resourceErr *callistoerr.ResourceNotFoundError
		var toolErr *callistoerr.ToolNotFoundError
		if xerrors.As(err, &configErr) || xerrors.As(err, &resourceErr) || xerrors.As(err, &toolErr) {
			os.Exit(2)
		}
		var insertionErr *callistoerr.InsertionFailedError
		if xerrors.As(err, &insertionErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
