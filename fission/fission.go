// repofission - split one legacy VCS history into per-project git repositories.
//
// The program consumes an ordered stream of revision records produced
// by an external repository walker (Subversion filesystem or Mercurial
// changelog) and multiplexes each revision onto N destination
// repositories selected by path patterns.  Each destination gets an
// independent git fast-import command stream; a wrapping script can set
// the output files up as named pipes feeding one git fast-import per
// destination.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const version = "1.0"

// Logging classes.  The logmask gates these at the callsite via
// logEnable(); logit itself is unconditional.
const (
	logSHOUT  uint = 1 << iota // Errors and urgent messages
	logWARN                    // Exceptional conditions, always on
	logEVENTS                  // Per-path routing decisions
	logEMIT                    // Per-commit emission reports
)

// Control is global context for the run.
type Control struct {
	logmask     uint
	logfp       io.Writer
	baton       *Baton
	logcounter  int
	logmutex    sync.Mutex
	returnValue int
	startTime   time.Time
}

var control Control

func (ctx *Control) init(interactive bool) {
	ctx.logmask = (logWARN << 1) - 1
	ctx.logfp = os.Stderr
	ctx.baton = newBaton(interactive)
	ctx.startTime = time.Now()
}

// logEnable is a hook to set up log-message filtering.
func logEnable(logbits uint) bool {
	return (control.logmask & logbits) != 0
}

func logit(msg string, args ...interface{}) {
	content := fmt.Sprintf(msg, args...)
	control.logmutex.Lock()
	control.logfp.Write([]byte("repofission: " + content + "\n"))
	control.logcounter++
	control.logmutex.Unlock()
}

// croak reports a nonfatal error; the run continues but exits nonzero.
func croak(msg string, args ...interface{}) {
	content := fmt.Sprintf(msg, args...)
	control.logmutex.Lock()
	control.logfp.Write([]byte("repofission: " + content + "\n"))
	control.logmutex.Unlock()
	control.returnValue = 1
}

func fatal(msg string, args ...interface{}) {
	croak(msg, args...)
	os.Exit(1)
}

// Go's panic/defer/recover feature is a weak primitive for catchable
// exceptions, but it's all we have. So we write a throw/catch pair;
// throw() must pass its exception payload to panic(), catch() can only
// be called in a defer hook either at the current level or further up
// the call stack and must take recover() as its second argument.
//
// Defined error classes:
//
// config = bad configuration discovered after startup checks.
//
// event = malformed or contract-violating revision event.  The stream
// is not trustworthy past this point, so the pass aborts.

type exception struct {
	class   string
	message string
}

func (e exception) Error() string {
	return e.message
}

func throw(class string, msg string, args ...interface{}) *exception {
	// We could call panic() in here but we leave it at the callsite
	// to clue the compiler in that no return after is required.
	e := new(exception)
	e.class = class
	e.message = fmt.Sprintf(msg, args...)
	return e
}

func catch(accept string, x interface{}) *exception {
	// Because recover() returns interface{}.
	// Return us to the world of type safety.
	if x == nil {
		return nil
	}
	if err, ok := x.(*exception); ok {
		if err.class == accept {
			return err
		}
	}
	panic(x)
}

func main() {
	var committersFile string
	var outdir string
	var quiet bool
	var verbose bool
	var showVersion bool

	flag.StringVar(&committersFile, "c", "", "committer identity table")
	flag.StringVar(&outdir, "d", ".", "directory for the output streams")
	flag.BoolVar(&quiet, "q", false, "disable the progress meter")
	flag.BoolVar(&verbose, "v", false, "log routing and emission detail")
	flag.BoolVar(&showVersion, "V", false, "report version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("repofission %s\n", version)
		return
	}
	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr,
			"usage: repofission [-c committers] [-d outdir] [-q] [-v] config.yaml events\n")
		os.Exit(1)
	}

	control.init(!quiet)
	if verbose {
		control.logmask |= logEVENTS | logEMIT
	}

	cfg, err := loadConfig(flag.Arg(0))
	if err != nil {
		fatal("%v", err)
	}
	committers, err := loadCommitters(committersFile)
	if err != nil {
		fatal("%v", err)
	}
	registry, err := newRegistry(cfg, committers)
	if err != nil {
		fatal("%v", err)
	}
	if err := registry.openSinks(outdir); err != nil {
		fatal("%v", err)
	}

	events := os.Stdin
	if flag.Arg(1) != "-" {
		events, err = os.Open(flag.Arg(1))
		if err != nil {
			fatal("%v", err)
		}
		defer events.Close()
	}

	control.baton.startProgress("processing revisions", uint64(cfg.MaxRevisions))
	source := newJSONSource(events)
	if err := source.Walk(registry.exportRevision); err != nil {
		registry.close()
		fatal("%v", err)
	}
	control.baton.endProgress()

	if err := registry.close(); err != nil {
		fatal("%v", err)
	}
	os.Exit(control.returnValue)
}

// end
