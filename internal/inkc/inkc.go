// Package inkc runs an inklecate-compatible compiler as a subprocess.
package inkc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/papapumpkin/inkwell/internal/build"
	"github.com/papapumpkin/inkwell/internal/logging"
	"github.com/papapumpkin/inkwell/internal/source"
)

// DefaultBinary is the compiler looked up on PATH when none is configured.
const DefaultBinary = "inklecate"

// Compiler invokes the external compiler once per master. It implements
// build.Compiler.
type Compiler struct {
	Binary  string
	Args    []string
	Verbose bool
	Logger  *logging.Logger
}

var _ build.Compiler = (*Compiler)(nil)

// buildArgs constructs the command line for compiling file into out.
func (c *Compiler) buildArgs(file, out string) []string {
	args := append([]string(nil), c.Args...)
	return append(args, "-o", out, file)
}

// Compile runs the compiler on req.File and streams every diagnostic
// line to sink while the process runs. A failed run that reported at
// least one error is an author error and returns no artifact and no
// error; any other failure is returned.
func (c *Compiler) Compile(ctx context.Context, req build.Request, sink build.DiagnosticSink) (string, error) {
	logger := logging.OrDiscard(c.Logger)
	outDir, err := os.MkdirTemp("", "inkwell-*")
	if err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	out := filepath.Join(outDir, "story.json")

	args := c.buildArgs(filepath.Base(req.File), out)
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = filepath.Dir(req.File)
	cmd.SysProcAttr = sessionAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("compiler stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if c.Verbose {
		logger.Info("running compiler", "command", c.binary()+" "+strings.Join(args, " "))
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting %s: %w", c.binary(), err)
	}
	resolveIncludes(req, logger)

	errorsSeen := scanDiagnostics(stdout, req.Path, sink)
	runErr := cmd.Wait()

	if ctx.Err() != nil {
		return "", fmt.Errorf("compiler stopped: %w", ctx.Err())
	}
	if runErr != nil {
		if errorsSeen > 0 {
			return "", nil
		}
		return "", fmt.Errorf("compiler failed: %w\nstderr: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(out)
	if errors.Is(err, os.ErrNotExist) {
		if errorsSeen > 0 {
			return "", nil
		}
		return "", fmt.Errorf("compiler produced no output for %s", req.Path)
	}
	if err != nil {
		return "", fmt.Errorf("reading compiler output: %w", err)
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

// resolveIncludes walks the master's include tree through req.Resolve
// so the job records every file the subprocess reads. Unresolvable
// includes are left for the compiler to report.
func resolveIncludes(req build.Request, logger *logging.Logger) {
	if req.Resolve == nil {
		return
	}
	seen := map[string]bool{req.Path: true}
	var walk func(base, text string)
	walk = func(base, text string) {
		for _, inc := range source.ParseIncludes(text) {
			p, body, err := req.Resolve(base, inc.Path)
			if err != nil {
				logger.Debug("include not resolved", "from", base, "include", inc.Path, "error", err)
				continue
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			walk(p, body)
		}
	}
	walk(req.Path, req.Source)
}

// Validate checks that the compiler binary can be found.
func (c *Compiler) Validate() error {
	if _, err := exec.LookPath(c.binary()); err != nil {
		return fmt.Errorf("compiler not found at %q: %w", c.binary(), err)
	}
	return nil
}

func (c *Compiler) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

// scanDiagnostics forwards every diagnostic line in r to sink and
// returns how many errors it saw. Other output is ignored.
func scanDiagnostics(r io.Reader, master string, sink build.DiagnosticSink) int {
	var errorCount int
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		d, ok := ParseDiagnostic(sc.Text(), master)
		if !ok {
			continue
		}
		if d.Severity == source.SeverityError {
			errorCount++
		}
		sink(d)
	}
	// Drain so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
	return errorCount
}

// diagnosticLine matches compiler output such as
//
//	ERROR: 'chapters/one.ink' line 12: Divert target not found: '-> nowhere'
//	WARNING: line 3: Blank choice
//	TODO: 'main.ink' line 40: write the ending
var diagnosticLine = regexp.MustCompile(`^\s*(?:RUNTIME\s+)?(ERROR|WARNING|TODO):\s*(?:'([^']+)'\s*)?(?:line\s+(\d+):\s*)?(.*)$`)

// ParseDiagnostic parses one line of compiler output. File names are
// relative to the master's directory and are returned as registry paths;
// a line without a file is attributed to master.
func ParseDiagnostic(line, master string) (source.Diagnostic, bool) {
	m := diagnosticLine.FindStringSubmatch(strings.TrimPrefix(line, "\ufeff"))
	if m == nil {
		return source.Diagnostic{}, false
	}
	sev, err := source.ParseSeverity(m[1])
	if err != nil {
		return source.Diagnostic{}, false
	}
	d := source.Diagnostic{
		Severity: sev,
		File:     master,
		Message:  strings.TrimSpace(m[4]),
	}
	if m[2] != "" {
		d.File = source.ResolveInclude(master, m[2])
	}
	if m[3] != "" {
		d.Line, _ = strconv.Atoi(m[3])
	}
	return d, true
}
