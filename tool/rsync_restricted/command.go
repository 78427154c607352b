package rsync_restricted

import "strings"

const (
	roleMarker   = "--server"
	endOfOptions = "--"
	mungeLinks   = "--munge-links"
)

// Command is an accepted rsync server invocation.
type Command struct {
	// Path is the rsync binary to run.
	Path string
	// Dir is the restricted dir; the command must run with it as working
	// directory.
	Dir string
	// Sender is true when the client pulls files from the server.
	Sender bool
	// Options are the validated option tokens in client order.
	Options []string
	// Operands are the validated, expanded trailing arguments.
	Operands []string
}

// Argv returns the exact argument vector to execute, argv[0] included. The
// "--" keeps operands from ever being read as options.
func (c *Command) Argv() []string {
	argv := make([]string, 0, len(c.Options)+len(c.Operands)+5)
	argv = append(argv, c.Path, roleMarker)
	argv = append(argv, c.Options...)
	argv = append(argv, endOfOptions, separator)
	if len(c.Operands) == 0 {
		return append(argv, separator)
	}
	return append(argv, c.Operands...)
}

// String renders the argument vector for diagnostics. It is never passed to
// a shell.
func (c *Command) String() string {
	return strings.Join(c.Argv(), " ")
}
