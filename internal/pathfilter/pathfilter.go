// Package pathfilter implements the gitignore-style include/exclude
// matcher used to decide which files contribute to hashing a source
// tree and which files are copied (spec.md §4.C).
//
// No third-party matcher is used: the derived-rule generation, the
// reverse "last match wins, except is_exact short-circuits" evaluation
// order, and the intentional ignore/reinclude deviation documented in
// spec.md §9 are specific enough to this tool that no off-the-shelf
// gitignore library reproduces them; they are ported here from the
// original path_filter/src/lib.rs rule-preparation algorithm.
package pathfilter

import (
	"os"
	"path/filepath"
	"strings"
)

// Rule is one compiled glob rule, possibly derived from a source rule
// written by the user (an "exact", "intermediate", or "descendants"
// rule generated automatically).
type Rule struct {
	Orig           string
	Glob           string
	IsIgnore       bool
	IsAbsolute     bool
	IsDir          bool
	IsExact        bool
	IsIntermediate bool
	LiteralSep     bool
}

func (r *Rule) key() string {
	// Rules are deduplicated by identity of their derived fields, not
	// by pointer, so two equal rules produced from different source
	// lines collapse into one.
	return strings.Join([]string{
		r.Glob, boolStr(r.IsIgnore), boolStr(r.IsAbsolute), boolStr(r.IsDir),
		boolStr(r.IsExact), boolStr(r.IsIntermediate), boolStr(r.LiteralSep),
	}, "\x00")
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// MatchKind distinguishes Include/Ignore/None results; the rule that
// produced the result is attached when known (nil for regex-mode
// matches, which don't track provenance).
type MatchKind int

const (
	None MatchKind = iota
	Include
	Ignore
)

// Match is the result of matching one path.
type Match struct {
	Kind MatchKind
	Rule *Rule
}

func (m Match) IsInclude() bool { return m.Kind == Include }
func (m Match) IsIgnore() bool  { return m.Kind == Ignore }
func (m Match) IsNone() bool    { return m.Kind == None }

// PathFilter matches relative paths against a compiled rule set,
// either glob rules (Glob mode) or a pair of optional regexes (Regex
// mode).
type PathFilter struct {
	rules            []*Rule
	skipUnknownDirs  bool
	ignoreRe         *regexpMatcher
	includeRe        *regexpMatcher
	regexMode        bool
}

// NewGlob compiles a gitignore-style rule list into a PathFilter.
func NewGlob(rules []string) (*PathFilter, error) {
	var compiled []*Rule
	unique := make(map[string]bool)

	add := func(r *Rule) {
		k := r.key()
		if unique[k] {
			return
		}
		unique[k] = true
		compiled = append(compiled, r)
	}

	skipUnknownDirs := true
	for _, raw := range rules {
		derived := deriveRules(raw)
		for _, r := range derived {
			if !r.IsAbsolute && !r.IsIgnore {
				skipUnknownDirs = false
			}
			add(r)
		}
	}

	for _, r := range compiled {
		if _, err := globToRegexp(r.Glob); err != nil {
			return nil, err
		}
	}

	return &PathFilter{rules: compiled, skipUnknownDirs: skipUnknownDirs}, nil
}

// NewRegex compiles a PathFilter in regex mode: ignore wins over
// include; an empty include pattern means "include everything not
// ignored".
func NewRegex(ignore, include string) (*PathFilter, error) {
	pf := &PathFilter{regexMode: true}
	if ignore != "" {
		m, err := compileRegexp(ignore)
		if err != nil {
			return nil, err
		}
		pf.ignoreRe = m
	}
	if include != "" {
		m, err := compileRegexp(include)
		if err != nil {
			return nil, err
		}
		pf.includeRe = m
	}
	return pf, nil
}

// deriveRules expands one source rule line into compiled rules: an
// exact-match rule (for include rules, preceded by one intermediate-
// directory rule per leading path segment), and a descendants rule
// with the same include/ignore sense as the source line: "<rule>/**"
// for a plain rule (none if it already ends in "/**"), or "<rule>/**/*"
// for a directory rule.
func deriveRules(raw string) []*Rule {
	orig := raw
	rule := raw

	isIgnore := false
	if strings.HasPrefix(rule, "!") {
		rule = rule[1:]
		isIgnore = true
	}
	if strings.HasPrefix(rule, "\\") {
		rule = rule[1:]
	}

	hasSlash := strings.Contains(rule, "/")
	isDir := strings.HasSuffix(rule, "/")
	isAbsolute := strings.HasPrefix(rule, "/")
	if isDir {
		rule = rule[:len(rule)-1]
	}
	if isAbsolute {
		rule = rule[1:]
	}

	prefix := ""
	if !isAbsolute && !strings.HasPrefix(rule, "**/") {
		prefix = "**/"
	}

	var out []*Rule

	if isIgnore {
		out = append(out, &Rule{
			Orig: orig, Glob: prefix + rule,
			IsIgnore: true, IsAbsolute: isAbsolute, IsDir: isDir,
			IsExact: true, LiteralSep: hasSlash,
		})
	} else {
		var curGlob strings.Builder
		parts := strings.Split(rule, "/")
		for _, part := range parts {
			curGlob.WriteString(part)
			if curGlob.Len() == 0 {
				continue
			}
			cur := curGlob.String()
			isLast := len(cur) == len(rule)
			out = append(out, &Rule{
				Orig: orig, Glob: prefix + cur,
				IsIgnore: false, IsAbsolute: isAbsolute,
				IsDir:          !isLast || (isLast && isDir),
				IsExact:        true,
				IsIntermediate: !isLast,
				LiteralSep:     hasSlash,
			})
			curGlob.WriteString("/")
		}
	}

	if isDir {
		var glob string
		if rule == "" {
			glob = "**/*"
		} else {
			glob = prefix + rule + "/**/*"
		}
		out = append(out, &Rule{
			Orig: orig, Glob: glob,
			IsIgnore: isIgnore, IsAbsolute: isAbsolute, IsDir: false,
			IsExact: false, LiteralSep: hasSlash,
		})
	} else if !strings.HasSuffix(rule, "/**") {
		out = append(out, &Rule{
			Orig: orig, Glob: prefix + rule + "/**",
			IsIgnore: isIgnore, IsAbsolute: isAbsolute, IsDir: false,
			IsExact: false, LiteralSep: hasSlash,
		})
	}

	return out
}

// Match evaluates path (relative, slash-separated) against the
// compiled rules. In Glob mode, matches are scanned in reverse
// (last-match-wins) but a rule marked IsExact short-circuits the scan
// immediately, matching the original algorithm's semantics including
// the ".git"->Ignore, ".git/test.rs"->Include deviation from true
// gitignore behavior (documented as intentional in spec.md §9).
func (pf *PathFilter) Match(path string, isDir bool) Match {
	path = filepath.ToSlash(path)

	if pf.regexMode {
		if pf.ignoreRe != nil && pf.ignoreRe.MatchString(path) {
			return Match{Kind: Ignore}
		}
		if pf.includeRe != nil {
			if pf.includeRe.MatchString(path) {
				return Match{Kind: Include}
			}
			return Match{Kind: None}
		}
		return Match{Kind: Include}
	}

	var best *Rule
	for i := len(pf.rules) - 1; i >= 0; i-- {
		r := pf.rules[i]
		if !globMatch(r.Glob, path, r.LiteralSep) {
			continue
		}
		if !isDir && r.IsDir {
			continue
		}
		if best == nil || r.IsExact {
			best = r
		}
		if r.IsExact {
			break
		}
	}

	if best == nil {
		return Match{Kind: None}
	}
	if best.IsIgnore {
		return Match{Kind: Ignore, Rule: best}
	}
	return Match{Kind: Include, Rule: best}
}

// SkipUnknownDirs reports whether a directory yielding Match{None} may
// have its subtree skipped entirely during a walk: true when every
// rule in the set is either absolute or an ignore rule, meaning no
// rule could possibly match something deeper without matching this
// directory first.
func (pf *PathFilter) SkipUnknownDirs() bool {
	return pf.skipUnknownDirs
}

// Walk walks root, calling fn for every path that is not Ignore,
// including paths no rule matches. It does not prune subtrees:
// SkipUnknownDirs is not consulted, and the entries under an ignored
// directory are still matched one by one.
func (pf *PathFilter) Walk(root string, fn func(relPath string, d os.DirEntry, m Match) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		m := pf.Match(rel, d.IsDir())
		if m.IsIgnore() {
			if d.IsDir() {
				return nil
			}
			return nil
		}
		return fn(rel, d, m)
	})
}
