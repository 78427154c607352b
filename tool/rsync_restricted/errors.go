package rsync_restricted

import "fmt"

// Kind classifies why a command was rejected.
type Kind int

const (
	// KindInvocation covers a missing or malformed command string.
	KindInvocation Kind = iota + 1
	// KindPolicy covers unknown options, disabled options and options
	// disallowed by the session mode.
	KindPolicy
	// KindBoundary covers arguments that leave the restricted dir.
	KindBoundary
	// KindSyntax covers tokens that cannot be classified.
	KindSyntax
)

func (k Kind) String() string {
	switch k {
	case KindInvocation:
		return "invocation"
	case KindPolicy:
		return "policy"
	case KindBoundary:
		return "boundary"
	case KindSyntax:
		return "syntax"
	default:
		return "unknown"
	}
}

// RejectError is returned for every refused command. A rejected command is
// never executed, not even partially.
type RejectError struct {
	Kind   Kind
	Option string // offending option or "arg" for trailing operands; may be empty
	Reason string
}

func (e *RejectError) Error() string {
	return e.Reason
}

func reject(kind Kind, option, format string, args ...any) *RejectError {
	return &RejectError{Kind: kind, Option: option, Reason: fmt.Sprintf(format, args...)}
}

// errInvalidSyntax is the generic failure used whenever parsing cannot
// proceed. It deliberately does not try to explain malformed input.
func errInvalidSyntax(option string) *RejectError {
	return reject(KindSyntax, option, "invalid rsync-command syntax or options")
}
