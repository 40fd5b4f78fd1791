package main

import (
	"fmt"
	"io"
	"strings"

	"bindery/internal/events"
	"bindery/internal/logging"
)

// progressDisplay renders conversion progress: an in-place bar on a
// terminal, sampled plain lines otherwise.
type progressDisplay struct {
	out      io.Writer
	tty      bool
	sampler  *logging.ProgressSampler
	inPlace  bool
	lastLine int
}

func newProgressDisplay(out io.Writer, tty bool) *progressDisplay {
	return &progressDisplay{out: out, tty: tty, sampler: logging.NewProgressSampler(0)}
}

func (d *progressDisplay) progress(ev events.Progress) {
	if d.tty {
		d.renderBar(ev)
		return
	}
	percent := ev.Percent
	if ev.Indeterminate {
		percent = -1
	}
	if d.sampler.ShouldLog(percent, ev.Message) {
		if ev.Indeterminate {
			fmt.Fprintf(d.out, "... %s\n", ev.Message)
		} else {
			fmt.Fprintf(d.out, "%3d%% %s\n", ev.Percent, ev.Message)
		}
	}
}

func (d *progressDisplay) renderBar(ev events.Progress) {
	const width = 24
	var bar string
	if ev.Indeterminate {
		bar = strings.Repeat("~", width)
	} else {
		filled := ev.Percent * width / 100
		bar = strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
	}
	line := fmt.Sprintf("[%s] %3d%% %s", bar, ev.Percent, ev.Message)
	if ev.Indeterminate {
		line = fmt.Sprintf("[%s] ---%% %s", bar, ev.Message)
	}
	padding := ""
	if d.lastLine > len(line) {
		padding = strings.Repeat(" ", d.lastLine-len(line))
	}
	fmt.Fprintf(d.out, "\r%s%s", line, padding)
	d.lastLine = len(line)
	d.inPlace = true
}

// finishLine terminates an in-place progress bar before other output.
func (d *progressDisplay) finishLine() {
	if d.inPlace {
		fmt.Fprintln(d.out)
		d.inPlace = false
		d.lastLine = 0
	}
}

func (d *progressDisplay) line(message string) {
	d.finishLine()
	fmt.Fprintln(d.out, message)
}
