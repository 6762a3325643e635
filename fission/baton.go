/*
 * Progress-meter machinery, trimmed to what a batch converter needs:
 * one percentage meter over the revision count, redrawn in place on
 * the status line when stderr is a terminal.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	terminal "golang.org/x/crypto/ssh/terminal"
)

const progressInterval = 1 * time.Second // Rate-limit progress redraws

// Baton is the overall state of the progress display.
type Baton struct {
	progressEnabled bool
	stream          *os.File
	start           time.Time
	progress        Progress
}

// Progress shows completion percentage and the rate of progress in
// addition to the count.
type Progress struct {
	start      time.Time
	lastupdate time.Time
	tag        []byte
	count      uint64
	lastcount  uint64
	expected   uint64
}

func newBaton(interactive bool) *Baton {
	me := new(Baton)
	me.start = time.Now()
	me.stream = os.Stderr
	me.progressEnabled = interactive && terminal.IsTerminal(int(me.stream.Fd()))
	return me
}

// screenwidth returns the current width of the terminal window.
func (baton *Baton) screenwidth() int {
	width := 80
	if terminal.IsTerminal(int(baton.stream.Fd())) {
		if w, _, err := terminal.GetSize(int(baton.stream.Fd())); err == nil {
			width = w
		}
	}
	return width
}

func (baton *Baton) startProgress(tag string, expected uint64) {
	if baton != nil && baton.progressEnabled {
		baton.progress.start = time.Now()
		baton.progress.lastupdate = baton.progress.start
		baton.progress.tag = []byte(tag)
		baton.progress.count = 0
		baton.progress.expected = expected
	}
}

func (baton *Baton) percentProgress(ccount uint64) {
	if baton != nil && baton.progressEnabled {
		if time.Since(baton.progress.lastupdate) > progressInterval || ccount == baton.progress.expected {
			baton.progress.lastcount = baton.progress.count
			baton.progress.count = ccount
			baton.progress.lastupdate = time.Now()
			baton.printProgress()
		}
	}
}

func (baton *Baton) endProgress() {
	if baton != nil && baton.progressEnabled {
		baton.progress.count = baton.progress.expected
		baton.progress.lastupdate = time.Now()
		baton.printProgress()
		baton.progress.tag = nil
		baton.progress.count = 0
		baton.progress.expected = 0
		baton.stream.Write([]byte{'\n'})
	}
}

// printProgress redraws the status line in place.
func (baton *Baton) printProgress() {
	var buf bytes.Buffer
	baton.progress.render(&buf)
	fmt.Fprintf(&buf, " (%v)", time.Since(baton.start).Round(time.Second))
	line := buf.Bytes()
	if width := baton.screenwidth(); len(line) > width {
		line = line[:width]
	}
	baton.stream.Write([]byte{'\r'})
	baton.stream.Write(line)
	baton.stream.Write([]byte("\x1b[K"))
}

func (baton *Progress) render(b io.Writer) {
	scale := func(n float64) string {
		if n < 1000 {
			return fmt.Sprintf("%.0f", n)
		} else if n < 1000000 {
			return fmt.Sprintf("%.2fK", n/1000)
		} else if n < 1000000000 {
			return fmt.Sprintf("%.2fM", n/1000000)
		} else {
			return fmt.Sprintf("%.2fG", n/1000000000)
		}
	}
	if baton.expected > 0 {
		frac := float64(baton.count) / float64(baton.expected)
		elapsed := baton.lastupdate.Sub(baton.start)
		rate := float64(baton.count) / elapsed.Seconds()
		var ratemsg string
		if elapsed.Seconds() == 0 || math.IsInf(rate, 0) {
			ratemsg = "∞"
		} else {
			ratemsg = scale(rate)
		}
		if elapsed.Seconds() > 1 {
			elapsed = elapsed.Round(time.Second)
		}
		fmt.Fprintf(b, "%s %.2f%% %s/%s, %v @ %s/s",
			baton.tag, frac*100, scale(float64(baton.count)),
			scale(float64(baton.expected)), elapsed, ratemsg)
	} else {
		fmt.Fprintf(b, "%s %s", baton.tag, scale(float64(baton.count)))
	}
}

// end
