/*
 * main.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	libtrace "github.com/billziss-gh/golib/trace"
	"golang.org/x/sys/unix"

	"github.com/bbarenblat/scoville/fs/posix"
	"github.com/bbarenblat/scoville/fs/scovfs"
	"github.com/bbarenblat/scoville/internal/config"
	"github.com/bbarenblat/scoville/internal/metrics"
)

var (
	MyProductName = "scoville"
	MyDescription = "allow forbidden characters on VFAT file systems"
	MyCopyright   = "2026 Benjamin Barenblat"
	MyRepository  = "https://github.com/bbarenblat/scoville"
	MyVersion     = "DEVEL"
)

func warn(format string, a ...interface{}) {
	format = "%s: " + format + "\n"
	a = append([]interface{}{strings.TrimSuffix(filepath.Base(os.Args[0]), ".exe")}, a...)
	fmt.Fprintf(os.Stderr, format, a...)
}

type mntopt []string

// String implements flag.Value.String.
func (mntopt *mntopt) String() string {
	return ""
}

// Set implements flag.Value.Set.
func (mntopt *mntopt) Set(s string) error {
	*mntopt = append(*mntopt, s)
	return nil
}

func run() (ec int) {
	cfgpath := ""
	mntopt := mntopt{}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr,
			"usage: %s [-o options] [-config file] directory [-- fuse_options]\n\n",
			strings.TrimSuffix(filepath.Base(os.Args[0]), ".exe"))
		flag.PrintDefaults()
	}

	flag.StringVar(&cfgpath, "config", cfgpath, "`path` of YAML configuration file")
	flag.Var(&mntopt, "o", "FUSE mount `options`")

	flag.Parse()
	if 1 > flag.NArg() {
		flag.Usage()
		return 2
	}
	target := flag.Arg(0)
	rawopt := flag.Args()[1:]

	cfg, err := config.Load(cfgpath)
	if nil != err {
		warn("%v", err)
		return 1
	}

	opts := append(append([]string{}, cfg.MountOptions...), mntopt...)

	verbose := cfg.Trace.Verbose
	for _, m := range opts {
		for _, s := range strings.Split(m, ",") {
			if "debug" == s {
				verbose = true
			}
		}
	}
	if verbose {
		libtrace.Verbose = true
		libtrace.Pattern = cfg.Trace.Pattern
	}

	// The underlying directory is pinned before the mount covers it; the
	// descriptor stays valid for the lifetime of the event loop.
	root, err := posix.Open(target, unix.O_RDONLY|unix.O_DIRECTORY)
	if nil != err {
		warn("bad mount point `%s': %v", target, err)
		return 1
	}
	defer root.Close()

	collector := metrics.NewCollector(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Address: cfg.Metrics.Address,
		Path:    cfg.Metrics.Path,
	})
	if nil != collector {
		go func() {
			if err := collector.Serve(); nil != err {
				log.Printf("metrics endpoint: %v", err)
			}
		}()
	}

	fs := scovfs.New(scovfs.Config{Root: root, Metrics: collector})
	if !Mount(fs, target, opts, rawopt) {
		ec = 1
	}

	return
}

func main() {
	ec := run()
	os.Exit(ec)
}
