// Command efstool packs, inspects, edits, and mounts EFS images.
//
// Usage:
//
//	efstool pack [--manifest FILE] [DIR] OUT
//	efstool ls [-l] [PATH...]
//	efstool cat PATH...
//	efstool stat PATH...
//	efstool write [--offset N] PATH [DATA]
//	efstool inspect
//	efstool mount MOUNTPOINT
//
// Every command except pack operates on the image named by --image or the
// image key of the configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meigma/efs"
	"github.com/meigma/efs/cache"
	efshttp "github.com/meigma/efs/http"
	"github.com/meigma/efs/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// command is one efstool subcommand.
type command struct {
	summary string
	flags   func(*pflag.FlagSet, *env)
	run     func(*env, []string) error
}

var commands = map[string]command{
	"pack":    {"build an image from a directory or manifest", packFlags, runPack},
	"ls":      {"list directories", lsFlags, runLs},
	"cat":     {"print file contents", nil, runCat},
	"stat":    {"print entry metadata", nil, runStat},
	"write":   {"overwrite file bytes in place", writeFlags, runWrite},
	"inspect": {"print the image header", nil, runInspect},
	"mount":   {"expose the image over FUSE", mountFlags, runMount},
}

// env carries the streams, flags, and configuration of one invocation.
type env struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	flags  *pflag.FlagSet
	cfg    *config.Config
	logger *slog.Logger

	configPath string
	image      string
	search     bool
	verbose    bool

	// Command-specific flags.
	manifest    string
	concurrency int
	alignment   int
	maxFiles    int
	long        bool
	offset      int64
	readOnly    bool
	allowOther  bool
}

// usageError marks errors caused by bad arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// run executes the command line args and returns the exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "efstool: unknown command %q\n", name)
		printUsage(stderr)
		return 2
	}

	e := &env{ctx: ctx, stdin: stdin, stdout: stdout, stderr: stderr}
	e.flags = pflag.NewFlagSet("efstool "+name, pflag.ContinueOnError)
	e.flags.SetOutput(stderr)
	e.flags.StringVar(&e.configPath, "config", "", "path to YAML config (default: $"+config.EnvVar+")")
	e.flags.StringVarP(&e.image, "image", "i", "", "image file or block device")
	e.flags.BoolVar(&e.search, "search", false, "scan the device for an embedded image")
	e.flags.BoolVarP(&e.verbose, "verbose", "v", false, "enable debug logging")
	if cmd.flags != nil {
		cmd.flags(e.flags, e)
	}
	if err := e.flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := e.setup(); err != nil {
		fmt.Fprintf(stderr, "efstool: %v\n", err)
		return 1
	}

	if err := cmd.run(e, e.flags.Args()); err != nil {
		fmt.Fprintf(stderr, "efstool %s: %v\n", name, err)
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

// setup loads the configuration, applies flag overrides, and builds the logger.
func (e *env) setup() error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	if e.flags.Changed("image") {
		cfg.Image = e.image
	}
	if e.flags.Changed("search") {
		cfg.Search = e.search
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if e.verbose {
		level = slog.LevelDebug
	}
	e.cfg = cfg
	e.logger = slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// mount opens and mounts the configured image. The returned function
// unmounts it and closes the device.
func (e *env) mount(readOnly bool) (*efs.FS, func() error, error) {
	if e.cfg.Image == "" {
		return nil, nil, usagef("no image: pass --image or set image in the config file")
	}
	dev, closeDev, err := e.openDevice(readOnly)
	if err != nil {
		return nil, nil, err
	}
	fsys, err := efs.Mount(dev, e.cfg.MountOptions(e.logger)...)
	if err != nil {
		_ = closeDev()
		return nil, nil, fmt.Errorf("%s: %w", e.cfg.Image, err)
	}
	closeFn := func() error {
		return errors.Join(fsys.Unmount(), closeDev())
	}
	return fsys, closeFn, nil
}

// openDevice opens the configured image. URLs are read over HTTP range
// requests behind a block cache and can only be opened read-only.
func (e *env) openDevice(readOnly bool) (efs.Device, func() error, error) {
	if !efshttp.IsURL(e.cfg.Image) {
		dev, err := efs.OpenDevice(e.cfg.Image, readOnly)
		if err != nil {
			return nil, nil, err
		}
		return dev, dev.Close, nil
	}
	if !readOnly {
		return nil, nil, usagef("remote images are read-only")
	}
	remote, err := efshttp.NewDevice(e.cfg.Image)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", e.cfg.Image, err)
	}
	dev, err := cache.New(remote, e.cfg.CacheOptions(e.logger)...)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error {
		st := dev.Stats()
		e.logger.Debug("block cache", "hits", st.Hits, "misses", st.Misses, "bypassed", st.Bypassed)
		return nil
	}
	return dev, closeFn, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: efstool <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
}
