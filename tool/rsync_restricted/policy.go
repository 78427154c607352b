package rsync_restricted

import (
	"regexp"
	"strings"
)

// CheckKind describes how the argument of a long option must be handled.
type CheckKind int

const (
	// NoArg options take no argument.
	NoArg CheckKind = iota
	// UncheckedArg options take an argument that is normalized like a path
	// but never checked for symlinks leaving the restricted dir.
	UncheckedArg
	// CheckedWhenReceiving options take a path that must stay inside the
	// restricted dir when the server is receiving files.
	CheckedWhenReceiving
	// AlwaysChecked options take a path that must always stay inside the
	// restricted dir.
	AlwaysChecked
	// Disabled options are rejected outright.
	Disabled
)

func (k CheckKind) String() string {
	switch k {
	case NoArg:
		return "no-arg"
	case UncheckedArg:
		return "unchecked"
	case CheckedWhenReceiving:
		return "checked-when-receiving"
	case AlwaysChecked:
		return "always-checked"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Short option letters. The no-arg and numeric sets must never lose a
// letter: disabling is done through the disabled sets instead.
const (
	shortNoArg   = "ACDEHIJKLNORSUWXbcdgklmnopqrstuvxyz"
	shortWithNum = "@B"

	// shortDisabledAlways is disabled regardless of the restricted dir.
	shortDisabledAlways = "s"
	// shortDisabledSubdir is disabled when the restricted dir is not "/".
	shortDisabledSubdir = "KLk"
)

// longOptions lists the options a stock rsync client sends to the server,
// plus a few convenience spellings of short options.
var longOptions = map[string]CheckKind{
	"append":              NoArg,
	"backup-dir":          CheckedWhenReceiving,
	"block-size":          UncheckedArg,
	"bwlimit":             UncheckedArg,
	"checksum-choice":     UncheckedArg,
	"checksum-seed":       UncheckedArg,
	"compare-dest":        CheckedWhenReceiving,
	"compress-choice":     UncheckedArg,
	"compress-level":      UncheckedArg,
	"copy-dest":           CheckedWhenReceiving,
	"copy-unsafe-links":   NoArg,
	"daemon":              Disabled,
	"debug":               UncheckedArg,
	"delay-updates":       NoArg,
	"delete":              NoArg,
	"delete-after":        NoArg,
	"delete-before":       NoArg,
	"delete-delay":        NoArg,
	"delete-during":       NoArg,
	"delete-excluded":     NoArg,
	"delete-missing-args": NoArg,
	"existing":            NoArg,
	"fake-super":          NoArg,
	"files-from":          AlwaysChecked,
	"force":               NoArg,
	"from0":               NoArg,
	"fsync":               NoArg,
	"fuzzy":               NoArg,
	"group":               NoArg,
	"groupmap":            UncheckedArg,
	"hard-links":          NoArg,
	"iconv":               UncheckedArg,
	"ignore-errors":       NoArg,
	"ignore-existing":     NoArg,
	"ignore-missing-args": NoArg,
	"ignore-times":        NoArg,
	"info":                UncheckedArg,
	"inplace":             NoArg,
	"link-dest":           CheckedWhenReceiving,
	"links":               NoArg,
	"list-only":           NoArg,
	"log-file":            AlwaysChecked,
	"log-format":          UncheckedArg,
	"max-alloc":           UncheckedArg,
	"max-delete":          UncheckedArg,
	"max-size":            UncheckedArg,
	"min-size":            UncheckedArg,
	"mkpath":              NoArg,
	"modify-window":       UncheckedArg,
	"msgs2stderr":         NoArg,
	"munge-links":         NoArg,
	"new-compress":        NoArg,
	"no-W":                NoArg,
	"no-implied-dirs":     NoArg,
	"no-msgs2stderr":      NoArg,
	"no-munge-links":      Disabled,
	"no-r":                NoArg,
	"no-relative":         NoArg,
	"no-specials":         NoArg,
	"numeric-ids":         NoArg,
	"old-compress":        NoArg,
	"one-file-system":     NoArg,
	"only-write-batch":    UncheckedArg,
	"open-noatime":        NoArg,
	"owner":               NoArg,
	"partial":             NoArg,
	"partial-dir":         CheckedWhenReceiving,
	"perms":               NoArg,
	"preallocate":         NoArg,
	"recursive":           NoArg,
	"remove-sent-files":   NoArg,
	"remove-source-files": NoArg,
	"safe-links":          NoArg,
	"sender":              NoArg,
	"server":              NoArg,
	"size-only":           NoArg,
	"skip-compress":       UncheckedArg,
	"specials":            NoArg,
	"stats":               NoArg,
	"stderr":              UncheckedArg,
	"suffix":              UncheckedArg,
	"super":               NoArg,
	"temp-dir":            CheckedWhenReceiving,
	"timeout":             UncheckedArg,
	"times":               NoArg,
	"use-qsort":           NoArg,
	"usermap":             UncheckedArg,
	"write-devices":       Disabled,
}

// deletePrefixes name the options turned off by Mode.NoDelete.
var deletePrefixes = []string{"remove", "delete"}

// Mode is the session restriction chosen by the forced command.
type Mode struct {
	ReadOnly  bool
	WriteOnly bool
	NoDelete  bool
	Munge     bool
}

// Policy is the option table resolved for one invocation. It is built once
// before parsing and never changes afterwards.
type Policy struct {
	root      string
	rootSlash string
	long      map[string]CheckKind

	shortNoArg    *regexp.Regexp
	shortWithNum  *regexp.Regexp
	shortDisabled *regexp.Regexp // nil when no short letter is disabled
}

// NewPolicy resolves the base option table against the session mode, the
// canonical restricted dir and the transfer direction.
func NewPolicy(root string, mode Mode, sender bool) *Policy {
	long := make(map[string]CheckKind, len(longOptions))
	for name, kind := range longOptions {
		long[name] = kind
	}
	if mode.WriteOnly || !sender {
		long["sender"] = Disabled
	}
	if mode.NoDelete || mode.ReadOnly {
		for name := range long {
			for _, prefix := range deletePrefixes {
				if strings.HasPrefix(name, prefix) {
					long[name] = Disabled
				}
			}
		}
	}
	if mode.ReadOnly {
		long["log-file"] = Disabled
	}

	disabled := shortDisabledAlways
	if root != "/" {
		disabled += shortDisabledSubdir
	}
	noArg := removeLetters(shortNoArg, disabled)
	withNum := removeLetters(shortWithNum, disabled)

	p := &Policy{
		root:         root,
		rootSlash:    rootWithSlash(root),
		long:         long,
		shortNoArg:   regexp.MustCompile(`^-` + charClass(noArg) + `*(e\d*\.\w*)?$`),
		shortWithNum: regexp.MustCompile(`^-` + charClass(withNum) + `\d+$`),
	}
	if disabled != "" {
		p.shortDisabled = regexp.MustCompile(`^-` + charClass(noArg) + `*(` + charClass(disabled) + `)`)
	}
	return p
}

// Root returns the canonical restricted dir.
func (p *Policy) Root() string { return p.root }

// FullRoot reports whether the restricted dir is the filesystem root, in
// which case no path boundary is enforced.
func (p *Policy) FullRoot() bool { return p.root == "/" }

// Lookup returns the check kind of a long option name (without dashes).
func (p *Policy) Lookup(name string) (CheckKind, bool) {
	kind, ok := p.long[name]
	return kind, ok
}

// matchShort reports whether tok is an accepted cluster of short options.
func (p *Policy) matchShort(tok string) bool {
	if len(tok) < 2 {
		return false
	}
	return p.shortNoArg.MatchString(tok) || p.shortWithNum.MatchString(tok)
}

// disabledShort returns the first disabled short letter in tok, if any.
func (p *Policy) disabledShort(tok string) (string, bool) {
	if p.shortDisabled == nil {
		return "", false
	}
	m := p.shortDisabled.FindStringSubmatch(tok)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func rootWithSlash(root string) string {
	if strings.HasSuffix(root, "/") {
		return root
	}
	return root + "/"
}

func removeLetters(set, remove string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(remove, r) {
			return -1
		}
		return r
	}, set)
}

// charClass builds a regexp character class from a set of letters. An empty
// set yields a class that never matches.
func charClass(letters string) string {
	if letters == "" {
		return `[^\x00-\x{10FFFF}]`
	}
	var b strings.Builder
	b.WriteByte('[')
	for _, r := range letters {
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteByte(']')
	return b.String()
}
