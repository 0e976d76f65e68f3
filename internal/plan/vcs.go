package plan

import (
	"path"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// vcsTools are the version-control clients a build step may not run.
var vcsTools = map[string]bool{"git": true, "hg": true, "svn": true, "bzr": true, "fossil": true}

// wrappers run part of their argument list as a command.
var wrappers = map[string]bool{
	"builtin": true, "command": true, "doas": true, "env": true, "exec": true,
	"ionice": true, "nice": true, "nohup": true, "setsid": true, "stdbuf": true,
	"sudo": true, "timeout": true, "xargs": true,
}

// shells take a script argument after -c.
var shells = map[string]bool{"sh": true, "bash": true, "dash": true, "ash": true, "ksh": true, "zsh": true}

func isVCS(name string) bool {
	base := path.Base(name)
	return vcsTools[base] || strings.HasPrefix(base, "git-")
}

// invokesVCS reports whether a shell command line runs a version-control
// client anywhere in it, nested shells and command substitutions included.
// Command names that are only known at run time are not resolved here; the
// executor checks the checkout after every step for those.
func invokesVCS(script string) (bool, error) {
	f, err := syntax.NewParser().Parse(strings.NewReader(script), "")
	if err != nil {
		return false, err
	}

	var found bool
	var nestedErr error
	syntax.Walk(f, func(node syntax.Node) bool {
		if found || nestedErr != nil {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		found, nestedErr = callInvokesVCS(call.Args)
		return !found && nestedErr == nil
	})
	return found, nestedErr
}

func callInvokesVCS(args []*syntax.Word) (bool, error) {
	name, ok := wordLiteral(args[0])
	if !ok {
		return false, nil
	}
	base := path.Base(name)

	switch {
	case isVCS(base):
		return true, nil
	case wrappers[base]:
		// Options and their values are not told apart, so every suffix is
		// tried as a command.
		for i := 1; i < len(args); i++ {
			if found, err := callInvokesVCS(args[i:]); found || err != nil {
				return found, err
			}
		}
	case shells[base]:
		for i := 1; i < len(args)-1; i++ {
			flag, ok := wordLiteral(args[i])
			if !ok || !strings.HasPrefix(flag, "-") || strings.HasPrefix(flag, "--") || !strings.Contains(flag, "c") {
				continue
			}
			if script, ok := wordLiteral(args[i+1]); ok {
				return invokesVCS(script)
			}
		}
	case base == "eval":
		parts := make([]string, 0, len(args)-1)
		for _, arg := range args[1:] {
			lit, ok := wordLiteral(arg)
			if !ok {
				return false, nil
			}
			parts = append(parts, lit)
		}
		return invokesVCS(strings.Join(parts, " "))
	}
	return false, nil
}

// wordLiteral returns the value of w after quote removal, or false when
// any part of it is expanded at run time.
func wordLiteral(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range w.Parts {
		if !appendLiteral(&sb, part) {
			return "", false
		}
	}
	return sb.String(), true
}

func appendLiteral(sb *strings.Builder, part syntax.WordPart) bool {
	switch p := part.(type) {
	case *syntax.Lit:
		sb.WriteString(unescape(p.Value))
	case *syntax.SglQuoted:
		sb.WriteString(p.Value)
	case *syntax.DblQuoted:
		for _, inner := range p.Parts {
			if !appendLiteral(sb, inner) {
				return false
			}
		}
	default:
		return false
	}
	return true
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
