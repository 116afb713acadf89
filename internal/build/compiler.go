package build

import (
	"context"

	"github.com/papapumpkin/inkwell/internal/source"
)

// IncludeResolver loads an include named from within base. It returns
// the resolved registry path and the file's text.
type IncludeResolver func(base, name string) (path, text string, err error)

// DiagnosticSink receives diagnostics as the compiler produces them.
type DiagnosticSink func(source.Diagnostic)

// Request is one compilation of a master file. Resolve loads an include
// through the registry and records it on the job, which is where
// JobResult.IncludedFiles comes from; a compiler that reads includes
// itself should still resolve each one it uses.
type Request struct {
	// Path is the master's registry path.
	Path string
	// File is the master's path on disk, for compilers that run outside
	// the process.
	File    string
	Source  string
	Resolve IncludeResolver
}

// Compiler turns a master and its includes into a compiled artifact.
// A returned error or a panic is an unhandled failure: the artifact is
// withheld and the message is attached to the master. Author errors are
// reported through sink and do not need an error return.
type Compiler interface {
	Compile(ctx context.Context, req Request, sink DiagnosticSink) (artifact string, err error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(ctx context.Context, req Request, sink DiagnosticSink) (string, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, req Request, sink DiagnosticSink) (string, error) {
	return f(ctx, req, sink)
}
