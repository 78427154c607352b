package rsync_restricted

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// operandOption is the option name used for trailing operands.
const operandOption = "arg"

// validator checks argument values against the restricted dir.
type validator struct {
	policy *Policy
	sender bool
}

// needsBoundary reports whether a value of the given kind must be proven to
// resolve inside the restricted dir.
func (v *validator) needsBoundary(kind CheckKind) bool {
	if v.policy.FullRoot() {
		return false
	}
	return kind == AlwaysChecked || (kind == CheckedWhenReceiving && !v.sender)
}

// optionValue validates the value of a long option. raw still carries the
// client's backslash escapes. Every kind is normalized and anchored at the
// restricted dir; only the symlink check depends on kind.
func (v *validator) optionValue(opt, raw string, kind CheckKind) (string, error) {
	got, err := v.validate(opt, deBackslash(raw), kind, false)
	if err != nil {
		return "", err
	}
	return got[0], nil
}

// operand validates one trailing operand after brace expansion. It may
// expand to several values through wildcard matching.
func (v *validator) operand(value string) ([]string, error) {
	return v.validate(operandOption, value, AlwaysChecked, true)
}

func (v *validator) validate(opt, arg string, kind CheckKind, wild bool) ([]string, error) {
	orig := arg
	if strings.HasPrefix(arg, "./") {
		arg = arg[1:]
	}
	arg = collapseSlashes(arg)
	if !v.policy.FullRoot() {
		if hasDotDot(arg) {
			return nil, reject(KindBoundary, opt,
				"do not use .. in %s (anchor the path at the root of your restricted dir)", opt)
		}
		if strings.HasPrefix(arg, "/") {
			arg = v.policy.root + arg
		}
	}

	got := []string{arg}
	if wild && hasGlobMeta(arg) {
		if matches := v.glob(arg); len(matches) > 0 {
			got = matches
		}
	}

	out := make([]string, 0, len(got))
	for _, val := range got {
		if v.needsBoundary(kind) && val != "." {
			checked, err := v.checkBoundary(opt, orig, val)
			if err != nil {
				return nil, err
			}
			val = checked
			if opt == operandOption && strings.HasPrefix(val, v.policy.rootSlash) {
				val = val[len(v.policy.rootSlash):]
				if val == "" {
					val = "."
				}
			}
		}
		out = append(out, val)
	}
	return out, nil
}

// checkBoundary resolves symlinks in val and rejects it when the canonical
// path lies outside the restricted dir. A trailing "/" or "/." is removed
// for the lookup and put back afterwards.
func (v *validator) checkBoundary(opt, orig, val string) (string, error) {
	trailer := ""
	switch {
	case strings.HasSuffix(val, "/"):
		trailer = "/"
	case strings.HasSuffix(val, "/."):
		trailer = "/."
	}
	val = val[:len(val)-len(trailer)]

	abs := val
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(v.policy.root, abs)
	}
	resolved := canonicalize(abs)
	if val != resolved && !strings.HasPrefix(resolved, v.policy.rootSlash) {
		slog.Debug("argument escapes restricted dir", "option", opt, "value", val, "resolved", resolved)
		return "", reject(KindBoundary, opt, "unsafe arg: %s (%s resolves to %s)", orig, val, resolved)
	}
	return val + trailer, nil
}

// glob expands a wildcard value. Relative values are matched from the
// restricted dir and returned relative to it.
func (v *validator) glob(pat string) []string {
	abs := pat
	if !filepath.IsAbs(pat) {
		abs = filepath.Join(v.policy.root, pat)
	}
	matches, err := filepath.Glob(abs)
	if err != nil {
		slog.Debug("ignoring bad wildcard", "pattern", pat, "error", err)
		return nil
	}
	matches = dropHidden(filepath.Clean(abs), matches)
	if filepath.IsAbs(pat) {
		return matches
	}
	for i, m := range matches {
		rel := strings.TrimPrefix(m, v.policy.rootSlash)
		if rel == "" {
			rel = "."
		}
		matches[i] = rel
	}
	return matches
}

// dropHidden removes matches where a wildcard matched a name starting with
// ".". A leading dot must be written out in the pattern, as in the shell.
func dropHidden(pat string, matches []string) []string {
	patParts := strings.Split(pat, "/")
	kept := matches[:0]
	for _, m := range matches {
		parts := strings.Split(m, "/")
		hidden := false
		for i, part := range parts {
			if i < len(patParts) && strings.HasPrefix(part, ".") && !strings.HasPrefix(patParts[i], ".") {
				hidden = true
				break
			}
		}
		if !hidden {
			kept = append(kept, m)
		}
	}
	return kept
}

// hasDotDot reports whether any path component is "..".
func hasDotDot(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// maxSymlinks bounds symlink expansion so that loops terminate.
const maxSymlinks = 255

// canonicalize resolves p to an absolute path, following every symlink it
// can read, including dangling ones. Components that do not exist are kept
// literally, so the result is defined for paths that are yet to be created.
func canonicalize(p string) string {
	resolved := "/"
	rest := strings.Split(strings.TrimPrefix(filepath.Clean(p), "/"), "/")
	links := 0
	for len(rest) > 0 {
		comp := rest[0]
		rest = rest[1:]
		switch comp {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}
		next := filepath.Join(resolved, comp)
		fi, err := os.Lstat(next)
		if err != nil || fi.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}
		links++
		if links > maxSymlinks {
			return filepath.Join(append([]string{next}, rest...)...)
		}
		target, err := os.Readlink(next)
		if err != nil {
			resolved = next
			continue
		}
		if filepath.IsAbs(target) {
			resolved = "/"
		}
		rest = append(strings.Split(target, "/"), rest...)
	}
	return resolved
}
