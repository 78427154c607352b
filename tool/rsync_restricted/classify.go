package rsync_restricted

import (
	"log/slog"
	"regexp"
)

// separator divides options from operands in the command a client rsync
// sends to the server.
const separator = "."

var longOptionRe = regexp.MustCompile(`^--([^=]+)(?:=(.*))?$`)

type state int

const (
	stateExpectOption state = iota
	stateExpectOptionValue
	stateCollectingOperands
	stateAccepted
	stateRejected
)

func (s state) String() string {
	switch s {
	case stateExpectOption:
		return "expect-option"
	case stateExpectOptionValue:
		return "expect-option-value"
	case stateCollectingOperands:
		return "collecting-operands"
	case stateAccepted:
		return "accepted"
	case stateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// classifier walks the token sequence once. Any error moves it to
// stateRejected, which is final.
type classifier struct {
	policy *Policy
	v      *validator
	state  state

	pendingOpt  string
	pendingKind CheckKind

	options  []string
	operands []string
}

func newClassifier(policy *Policy, sender bool) *classifier {
	return &classifier{
		policy: policy,
		v:      &validator{policy: policy, sender: sender},
		state:  stateExpectOption,
	}
}

// run feeds every token through the state machine and then closes it.
func (c *classifier) run(tokens []string) error {
	for _, tok := range tokens {
		next, err := c.transition(tok)
		if err != nil {
			c.state = stateRejected
			return err
		}
		c.state = next
	}
	return c.finish()
}

// transition computes the next state for one token.
func (c *classifier) transition(tok string) (state, error) {
	switch c.state {
	case stateExpectOption:
		return c.option(tok)
	case stateExpectOptionValue:
		value, err := c.v.optionValue(c.pendingOpt, tok, c.pendingKind)
		if err != nil {
			return stateRejected, err
		}
		c.options = append(c.options, c.pendingOpt+"="+value)
		c.pendingOpt, c.pendingKind = "", NoArg
		return stateExpectOption, nil
	case stateCollectingOperands:
		// An operand starting with "-" is harmless: the rebuilt command
		// puts "--" before the operands.
		expanded, err := expandOperand(tok)
		if err != nil {
			return stateRejected, err
		}
		for _, value := range expanded {
			got, err := c.v.operand(value)
			if err != nil {
				return stateRejected, err
			}
			c.operands = append(c.operands, got...)
		}
		return stateCollectingOperands, nil
	default:
		return stateRejected, errInvalidSyntax("")
	}
}

func (c *classifier) option(tok string) (state, error) {
	if tok == separator {
		return stateCollectingOperands, nil
	}
	if c.policy.matchShort(tok) {
		c.options = append(c.options, tok)
		return stateExpectOption, nil
	}
	if m := longOptionRe.FindStringSubmatch(tok); m != nil {
		name, hasValue := m[1], m[0] != "--"+m[1]
		opt := "--" + name
		kind, ok := c.policy.Lookup(name)
		if !ok {
			slog.Debug("unknown option", "option", opt)
			return stateRejected, reject(KindPolicy, opt, "invalid rsync-command syntax or options (unknown option %s)", opt)
		}
		switch {
		case kind == Disabled:
			return stateRejected, reject(KindPolicy, opt, "option %s has been disabled on this server.", opt)
		case kind == NoArg:
			if hasValue {
				return stateRejected, errInvalidSyntax(opt)
			}
			c.options = append(c.options, tok)
			return stateExpectOption, nil
		case hasValue:
			value, err := c.v.optionValue(opt, m[2], kind)
			if err != nil {
				return stateRejected, err
			}
			c.options = append(c.options, opt+"="+value)
			return stateExpectOption, nil
		default:
			c.pendingOpt, c.pendingKind = opt, kind
			return stateExpectOptionValue, nil
		}
	}
	if letter, ok := c.policy.disabledShort(tok); ok {
		opt := "-" + letter
		return stateRejected, reject(KindPolicy, opt, "option %s has been disabled on this server.", opt)
	}
	return stateRejected, errInvalidSyntax(tok)
}

// finish accepts the command only if the separator was reached.
func (c *classifier) finish() error {
	if c.state != stateCollectingOperands {
		c.state = stateRejected
		return errInvalidSyntax("")
	}
	c.state = stateAccepted
	return nil
}
