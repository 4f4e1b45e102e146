package pathfilter

import (
	"regexp"
	"strings"
)

// globMatch matches a compiled rule glob (which may contain the "**"
// multi-segment wildcard derived rules rely on) against a
// slash-separated relative path.
//
// filepath.Match alone doesn't understand "**", so "**" segments are
// translated into a regular expression: "**/" matches zero or more
// whole path segments, and a trailing "/**" matches one or more
// segments. literalSep is currently always true for path-shaped rules
// since paths are already slash-normalized; it exists to mirror the
// original rule's literal_separator flag for documentation purposes.
func globMatch(glob, path string, literalSep bool) bool {
	_ = literalSep
	re, err := globToRegexp(glob)
	if err != nil {
		return false
	}
	return re.MatchString(path)
}

var globRegexpCache = map[string]*regexp.Regexp{}

func globToRegexp(glob string) (*regexp.Regexp, error) {
	if re, ok := globRegexpCache[glob]; ok {
		return re, nil
	}
	re, err := regexp.Compile(compileGlob(glob))
	if err != nil {
		return nil, err
	}
	globRegexpCache[glob] = re
	return re, nil
}

// compileGlob translates a gitignore-style glob into an anchored Go
// regular expression. Supported constructs: "**/" (zero or more
// segments), "/**" (one or more segments), "*" (anything but "/"),
// "?" (one char but "/"), and literal segments in between.
func compileGlob(glob string) string {
	var b strings.Builder
	b.WriteString("^")

	i := 0
	for i < len(glob) {
		switch {
		case strings.HasPrefix(glob[i:], "/**/"):
			// a directory wildcard sandwiched between two literal
			// segments matches zero or more whole directories, so
			// "dir/**/*" reaches both "dir/x" and "dir/a/b/x"
			b.WriteString("/(?:.*/)?")
			i += 4
		case strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 3
		case strings.HasPrefix(glob[i:], "/**"):
			b.WriteString("/.+")
			i += 3
		case glob[i] == '*':
			b.WriteString("[^/]*")
			i++
		case glob[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
			i++
		}
	}
	b.WriteString("$")
	return b.String()
}

// regexpMatcher wraps a compiled regexp so pathfilter.go need not
// import regexp directly, keeping the glob/regex backends symmetric.
type regexpMatcher struct {
	re *regexp.Regexp
}

func (m *regexpMatcher) MatchString(s string) bool {
	return m.re.MatchString(s)
}

func compileRegexp(pattern string) (*regexpMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &regexpMatcher{re: re}, nil
}
