// Package security implements the core's two startup-time safety checks:
// factory reference allowlisting and cache path sanitization, plus Ed25519
// manifest signature verification.
package security

import (
	"path/filepath"
	"regexp"
	"strings"

	coreerrors "github.com/lesleslie/oneiric/internal/errors"
)

// Allowlist compiles a set of glob or regex factory-reference patterns and
// checks candidate factory references against them. Rejection is a
// startup-time concern: the allowlist never executes or imports the
// factory it is checking.
type Allowlist struct {
	patterns []*regexp.Regexp
}

// NewAllowlist compiles each pattern. A pattern containing glob metacharacters
// (`*`, `?`) is translated to an anchored regex; anything else is compiled
// as a regex directly, so callers can mix "mypkg.adapters.*" with
// "^mypkg\\.adapters\\..+$" styles.
func NewAllowlist(patterns []string) (*Allowlist, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		expr := raw
		if strings.ContainsAny(raw, "*?") {
			expr = globToRegex(raw)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, coreerrors.ConfigInvalid("factory_allowlist", "invalid pattern "+raw+": "+err.Error())
		}
		compiled = append(compiled, re)
	}
	return &Allowlist{patterns: compiled}, nil
}

// Allows reports whether factoryRef matches at least one compiled pattern.
// An empty allowlist permits nothing: callers must configure at least one
// pattern to activate anything.
func (a *Allowlist) Allows(factoryRef string) bool {
	for _, re := range a.patterns {
		if re.MatchString(factoryRef) {
			return true
		}
	}
	return false
}

// Check returns FactoryForbidden when factoryRef is not permitted.
func (a *Allowlist) Check(factoryRef string) error {
	if !a.Allows(factoryRef) {
		return coreerrors.FactoryForbidden(factoryRef)
	}
	return nil
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteString(regexp.QuoteMeta(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return b.String()
}

// SafeJoin resolves name against root and verifies the result stays inside
// root, rejecting absolute paths and ".." escapes with PathTraversalError.
func SafeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", coreerrors.PathTraversal(name)
	}

	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", coreerrors.PathTraversal(name)
	}
	joined := filepath.Join(cleanRoot, name)
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", coreerrors.PathTraversal(name)
	}

	rel, err := filepath.Rel(cleanRoot, absJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", coreerrors.PathTraversal(name)
	}
	return absJoined, nil
}

// IsHTTPURL reports whether uri looks like an http(s) URL, as opposed to a
// local file reference that must instead pass SafeJoin.
func IsHTTPURL(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}
