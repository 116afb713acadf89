// Package ui renders human-readable command output to the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/papapumpkin/inkwell/internal/build"
	"github.com/papapumpkin/inkwell/internal/session"
	"github.com/papapumpkin/inkwell/internal/source"
)

// Printer writes styled output. The zero value is not usable; call New.
type Printer struct {
	w io.Writer
}

// New returns a Printer writing to stderr.
func New() *Printer {
	return &Printer{w: os.Stderr}
}

// NewTo returns a Printer writing to w.
func NewTo(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", styleFailed.Render("error:"), msg)
}

func (p *Printer) Warn(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", styleWarning.Render("warning:"), msg)
}

func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.w, styleMuted.Render(msg))
}

func (p *Printer) WatchStarted(root string, masters int) {
	fmt.Fprintf(p.w, "%s %s %s\n",
		styleHeading.Render("watching"),
		root,
		styleMuted.Render(fmt.Sprintf("(%d master(s), Ctrl-C to stop)", masters)))
}

func (p *Printer) Paused(paused bool) {
	if paused {
		fmt.Fprintln(p.w, styleWarning.Render(iconBlocked+" paused")+styleMuted.Render(" changes are deferred until PAUSE is removed"))
		return
	}
	fmt.Fprintln(p.w, styleDone.Render(iconWorking+" resumed"))
}

// GraphSummary prints the shape of a freshly scanned include graph.
func (p *Printer) GraphSummary(st session.Status) {
	blocked := 0
	for _, m := range st.Masters {
		if m.Blocked {
			blocked++
		}
	}
	fmt.Fprintf(p.w, "%s %d file(s), %d master(s), %d cluster(s)\n",
		styleDone.Render(iconDone+" include graph"), st.Files, len(st.Masters), st.Clusters)
	if blocked > 0 {
		fmt.Fprintf(p.w, "  %s\n", styleFailed.Render(fmt.Sprintf("%s %d master(s) blocked by include errors", iconBlocked, blocked)))
	}
}

// BatchSummary prints one line per compiled master, its diagnostics and
// a closing tally.
func (p *Printer) BatchSummary(b build.BatchResult) {
	if len(b.Jobs) == 0 {
		fmt.Fprintln(p.w, styleMuted.Render(iconWaiting+" nothing to compile"))
		return
	}
	for _, j := range b.Jobs {
		p.jobLine(j)
		for _, d := range j.Diagnostics {
			p.Diagnostic(d)
		}
		for _, f := range j.UnhandledFailures {
			fmt.Fprintf(p.w, "    %s %s\n", styleFailed.Render("failure:"), f)
		}
	}

	tally := fmt.Sprintf("%d error(s), %d warning(s), %d note(s)", b.Errors, b.Warnings, b.Notes)
	if b.Failures > 0 {
		tally += fmt.Sprintf(", %d failure(s)", b.Failures)
	}
	if b.TimedOut > 0 {
		tally += fmt.Sprintf(", %d timed out", b.TimedOut)
	}
	head := styleDone.Render(fmt.Sprintf("%s compiled %d master(s)", iconDone, len(b.Jobs)))
	if !b.Succeeded() {
		head = styleFailed.Render(fmt.Sprintf("%s compile failed for %d master(s)", iconFailed, failedJobs(b)))
	}
	fmt.Fprintf(p.w, "%s %s %s\n", head, styleMuted.Render("in "+formatDuration(b.Elapsed())+":"), tally)
}

func (p *Printer) jobLine(j build.JobResult) {
	var icon string
	switch {
	case j.TimedOut:
		icon = styleFailed.Render(iconFailed + " timed out")
	case j.Blocked:
		icon = styleFailed.Render(iconBlocked + " blocked")
	case j.HasErrors:
		icon = styleFailed.Render(iconFailed)
	default:
		icon = styleDone.Render(iconDone)
	}
	fmt.Fprintf(p.w, "  %s %s %s\n", icon, j.Target, styleMuted.Render(formatDuration(j.Elapsed)))
}

// Diagnostic prints one compiler message, colored by severity.
func (p *Printer) Diagnostic(d source.Diagnostic) {
	loc := d.File
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d", d.File, d.Line)
	}
	fmt.Fprintf(p.w, "    %s %s %s\n", styleLabel.Render(loc), severityStyle(d.Severity).Render(d.Severity.String()+":"), d.Message)
}

// Status prints the session overview used by the status command.
func (p *Printer) Status(st session.Status) {
	fmt.Fprintln(p.w, styleHeading.Render("inkwell status"))
	fmt.Fprintf(p.w, "  %s %s\n", styleLabel.Render("root:    "), st.Root)
	fmt.Fprintf(p.w, "  %s %d file(s), %d master(s), %d cluster(s)\n", styleLabel.Render("graph:   "), st.Files, len(st.Masters), st.Clusters)
	if !st.SavedAt.IsZero() {
		fmt.Fprintf(p.w, "  %s %s\n", styleLabel.Render("saved:   "), humanize.Time(st.SavedAt))
	}
	mode := styleDone.Render("running")
	switch {
	case st.Restricted:
		mode = styleWarning.Render("paused")
	case st.Locked:
		mode = styleWorking.Render("compiling")
	}
	fmt.Fprintf(p.w, "  %s %s\n", styleLabel.Render("mode:    "), mode)

	if len(st.Masters) > 0 {
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, styleHeading.Render("masters"))
	}
	for _, m := range st.Masters {
		p.masterLine(m)
	}

	if len(st.Jobs) > 0 {
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, styleHeading.Render("queue"))
		for _, j := range st.Jobs {
			icon := styleMuted.Render(iconWaiting)
			if j.State == build.JobCompiling.String() {
				icon = styleWorking.Render(iconWorking)
			}
			fmt.Fprintf(p.w, "  %s %s %s\n", icon, j.Target, styleMuted.Render(j.State))
		}
	}
	if len(st.Pending) > 0 {
		fmt.Fprintln(p.w)
		fmt.Fprintf(p.w, "%s %s\n", styleHeading.Render("deferred"), styleMuted.Render(fmt.Sprintf("(%d)", len(st.Pending))))
		for _, path := range st.Pending {
			fmt.Fprintf(p.w, "  %s %s\n", styleWarning.Render(iconWaiting), path)
		}
	}
}

func (p *Printer) masterLine(m session.MasterStatus) {
	icon := styleDone.Render(iconDone)
	switch {
	case m.Blocked:
		icon = styleFailed.Render(iconBlocked)
	case m.HasErrors():
		icon = styleFailed.Render(iconFailed)
	case m.Stale:
		icon = styleWarning.Render(iconWaiting)
	}

	compiled := "never compiled"
	if !m.LastCompileTime.IsZero() {
		compiled = "compiled " + humanize.Time(m.LastCompileTime)
	}
	detail := fmt.Sprintf("%d file(s), %s", m.Files, compiled)
	if m.Artifact != "" {
		detail += fmt.Sprintf(", %s %s", m.Artifact, humanize.Bytes(uint64(m.ArtifactSize)))
	}
	if m.Stale {
		detail += ", stale"
	}
	if !m.AutoCompile {
		detail += ", manual"
	}
	fmt.Fprintf(p.w, "  %s %s %s\n", icon, m.Path, styleMuted.Render(detail))
	for _, d := range m.Diagnostics {
		p.Diagnostic(d)
	}
	for _, f := range m.Failures {
		fmt.Fprintf(p.w, "    %s %s\n", styleFailed.Render("failure:"), f)
	}
}

func failedJobs(b build.BatchResult) int {
	n := 0
	for _, j := range b.Jobs {
		if j.HasErrors || j.TimedOut || j.Blocked {
			n++
		}
	}
	return n
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}
