// Package diag defines the error taxonomy of the lowering-and-encoding
// pipeline. Every fatal condition the pipeline can hit is
// represented as a Diagnostic with a Kind, so callers can switch on cause
// rather than parse messages.
package diag

import "fmt"

// Kind enumerates the fatal/warning conditions the pipeline can surface.
type Kind int

const (
	StackUnderflow Kind = iota
	InvalidBranchDepth
	UnresolvedLabel
	SizeEstimateMismatch
	BranchOutOfRange
	ImmediateUnrepresentable
	UnknownInstruction
	UnsupportedContainer
)

func (k Kind) String() string {
	switch k {
	case StackUnderflow:
		return "StackUnderflow"
	case InvalidBranchDepth:
		return "InvalidBranchDepth"
	case UnresolvedLabel:
		return "UnresolvedLabel"
	case SizeEstimateMismatch:
		return "SizeEstimateMismatch"
	case BranchOutOfRange:
		return "BranchOutOfRange"
	case ImmediateUnrepresentable:
		return "ImmediateUnrepresentable"
	case UnknownInstruction:
		return "UnknownInstruction"
	case UnsupportedContainer:
		return "UnsupportedContainer"
	default:
		return "Unknown"
	}
}

// Severity distinguishes fatal diagnostics (abort the current function) from
// warnings (accumulate only). No warning kinds are currently defined.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Span is a byte-offset pair borrowed from the AST, when the front-end
// attaches source positions to it. Zero value means "no span available".
type Span struct {
	Start, End int
}

// Diagnostic is one fatal or warning condition raised during lowering,
// assembling, or container emission.
type Diagnostic struct {
	Kind     Kind
	Message  string
	Function string // function this diagnostic was raised while compiling, if any
	Span     Span
	Severity Severity
}

func (d *Diagnostic) Error() string {
	if d.Function != "" {
		return fmt.Sprintf("%s: %s: %s", d.Function, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// New constructs a fatal error-severity Diagnostic.
func New(kind Kind, function, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Function: function,
		Severity: SeverityError,
	}
}

// IsFatal reports whether d aborts the current function's assembly.
func (d *Diagnostic) IsFatal() bool {
	return d.Severity == SeverityError
}
