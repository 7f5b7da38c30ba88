package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/meigma/efs"
	"github.com/meigma/efs/fuse"
	"github.com/meigma/efs/internal/manifest"
)

func packFlags(fs *pflag.FlagSet, e *env) {
	fs.StringVarP(&e.manifest, "manifest", "m", "", "YAML manifest listing the image entries")
	fs.IntVar(&e.concurrency, "concurrency", 0, "files copied in parallel")
	fs.IntVar(&e.alignment, "alignment", 0, "alignment of file content")
	fs.IntVar(&e.maxFiles, "max-files", 0, "maximum number of files (negative: no limit)")
}

func runPack(e *env, args []string) error {
	if e.flags.Changed("concurrency") {
		e.cfg.Pack.Concurrency = e.concurrency
	}
	if e.flags.Changed("alignment") {
		e.cfg.Pack.Alignment = e.alignment
	}
	if e.flags.Changed("max-files") {
		e.cfg.Pack.MaxFiles = e.maxFiles
	}
	if err := e.cfg.Validate(); err != nil {
		return usagef("%v", err)
	}
	opts := e.cfg.PackOptions(e.logger)

	var (
		res *efs.PackResult
		err error
	)
	if e.manifest != "" {
		if len(args) != 1 {
			return usagef("pack --manifest FILE OUT")
		}
		m, merr := manifest.Load(e.manifest)
		if merr != nil {
			return merr
		}
		b := efs.NewBuilder()
		if err := m.Apply(b, filepath.Dir(e.manifest)); err != nil {
			return err
		}
		res, err = efs.WriteImage(e.ctx, b, args[0], opts...)
	} else {
		if len(args) != 2 {
			return usagef("pack DIR OUT")
		}
		res, err = efs.CreateImage(e.ctx, args[0], args[1], opts...)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d nodes, %d files, %d bytes, index %s\n",
		res.Nodes, res.Files, res.Size, res.IndexDigest)
	return nil
}

func lsFlags(fs *pflag.FlagSet, e *env) {
	fs.BoolVarP(&e.long, "long", "l", false, "show kind and size")
}

func runLs(e *env, args []string) error {
	fsys, closeFn, err := e.mount(true)
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	if len(args) == 0 {
		args = []string{"/"}
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 1, ' ', 0)
	for i, p := range args {
		st, err := fsys.StatPath(p)
		if err != nil {
			return err
		}
		if !st.IsDir() {
			e.printEntry(tw, p, st)
			continue
		}
		if len(args) > 1 {
			if i > 0 {
				fmt.Fprintln(tw)
			}
			fmt.Fprintf(tw, "%s:\n", p)
		}
		if err := e.listDir(tw, fsys, p); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func (e *env) listDir(w io.Writer, fsys *efs.FS, p string) error {
	c, err := fsys.OpenDir(p)
	if err != nil {
		return err
	}
	defer fsys.CloseDir(c) //nolint:errcheck // cursor was just opened
	for {
		entry, err := fsys.Next(c)
		if errors.Is(err, efs.ErrEndOfDirectory) {
			return nil
		}
		if err != nil {
			return err
		}
		e.printEntry(w, entry.Name, entry.Stat)
	}
}

func (e *env) printEntry(w io.Writer, name string, st efs.Stat) {
	if st.IsDir() {
		name += "/"
	}
	if !e.long {
		fmt.Fprintln(w, name)
		return
	}
	fmt.Fprintf(w, "%s\t%d\t%s\n", st.Mode(), st.Size, name)
}

func runCat(e *env, args []string) error {
	if len(args) == 0 {
		return usagef("cat PATH...")
	}
	fsys, closeFn, err := e.mount(true)
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	for _, p := range args {
		f, err := fsys.OpenFile(p, efs.ModeRead)
		if err != nil {
			return err
		}
		_, err = io.Copy(e.stdout, f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func runStat(e *env, args []string) error {
	if len(args) == 0 {
		return usagef("stat PATH...")
	}
	fsys, closeFn, err := e.mount(true)
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	for _, p := range args {
		st, err := fsys.StatPath(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "path: %s\nnode: %d\nkind: %s\nsize: %d\nmode: %s\n",
			p, st.ID, st.Kind, st.Size, st.Mode())
	}
	return nil
}

func writeFlags(fs *pflag.FlagSet, e *env) {
	fs.Int64Var(&e.offset, "offset", 0, "write at this offset instead of the start of the file")
}

// runWrite overwrites bytes of an existing file. The data comes from the
// second argument or, when absent, from stdin. Writes past the packed size
// of the file fail without changing anything.
func runWrite(e *env, args []string) (err error) {
	if len(args) < 1 || len(args) > 2 {
		return usagef("write PATH [DATA]")
	}
	var data []byte
	if len(args) == 2 {
		data = []byte(args[1])
	} else if data, err = io.ReadAll(e.stdin); err != nil {
		return err
	}

	fsys, closeFn, err := e.mount(false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeFn(); err == nil {
			err = closeErr
		}
	}()

	f, err := fsys.OpenFile(args[0], efs.ModeWrite)
	if err != nil {
		return err
	}
	_, err = f.WriteAt(data, e.offset)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	e.logger.Debug("wrote file", "path", args[0], "offset", e.offset, "bytes", len(data))
	return nil
}

func runInspect(e *env, args []string) error {
	if len(args) != 0 {
		return usagef("inspect takes no arguments")
	}
	fsys, closeFn, err := e.mount(true)
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read-only

	sb := fsys.Superblock()
	fmt.Fprintf(e.stdout, "version:      %d\n", sb.Version)
	fmt.Fprintf(e.stdout, "index offset: %d\n", sb.IndexOffset)
	fmt.Fprintf(e.stdout, "index size:   %d\n", sb.IndexSize)
	fmt.Fprintf(e.stdout, "data offset:  %d\n", sb.DataOffset)
	fmt.Fprintf(e.stdout, "data size:    %d\n", sb.DataSize)
	fmt.Fprintf(e.stdout, "nodes:        %d\n", fsys.Len())
	fmt.Fprintf(e.stdout, "index digest: %s\n", fsys.IndexDigest())
	return nil
}

func mountFlags(fs *pflag.FlagSet, e *env) {
	fs.BoolVar(&e.readOnly, "read-only", false, "reject writes")
	fs.BoolVar(&e.allowOther, "allow-other", false, "allow other users to access the mount")
}

// runMount serves the image until the process is interrupted or the
// mountpoint is unmounted externally.
func runMount(e *env, args []string) (err error) {
	if len(args) != 1 {
		return usagef("mount MOUNTPOINT")
	}
	fsys, closeFn, err := e.mount(e.readOnly)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeFn(); err == nil {
			err = closeErr
		}
	}()

	server, err := fuse.Mount(fuse.Options{
		Mountpoint: args[0],
		FS:         fsys,
		ReadOnly:   e.readOnly,
		AllowOther: e.allowOther,
		Logger:     e.logger,
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()
	select {
	case <-e.ctx.Done():
		err = server.Unmount()
		<-done
	case <-done:
	}
	return err
}
