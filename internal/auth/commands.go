// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// DefaultAllowedCommands may run before authentication.
var DefaultAllowedCommands = []string{
	"login", "register", "2fa", "2faconfirm",
	"l", "log", "reg",
	"resetpassword", "confirmpasswordreset",
}

// CommandAllowList matches command names against glob patterns,
// case-insensitively.
type CommandAllowList struct {
	patterns []glob.Glob
}

// NewCommandAllowList compiles patterns.
func NewCommandAllowList(patterns []string) (*CommandAllowList, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(strings.TrimSpace(p)))
		if err != nil {
			return nil, oops.Code("AUTH_INVALID_COMMAND_PATTERN").
				With("pattern", p).
				Wrap(err)
		}
		compiled = append(compiled, g)
	}
	return &CommandAllowList{patterns: compiled}, nil
}

// Allows reports whether command may run while unauthenticated. A leading
// slash and any arguments are ignored.
func (l *CommandAllowList) Allows(command string) bool {
	name := strings.TrimPrefix(strings.TrimSpace(command), "/")
	if i := strings.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return false
	}
	for _, g := range l.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}
