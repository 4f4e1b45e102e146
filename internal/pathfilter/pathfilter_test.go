package pathfilter

import "testing"

func mustGlob(t *testing.T, rules []string) *PathFilter {
	t.Helper()
	pf, err := NewGlob(rules)
	if err != nil {
		t.Fatalf("NewGlob(%v): %v", rules, err)
	}
	return pf
}

func TestGitignoreStyleReinclude(t *testing.T) {
	pf := mustGlob(t, []string{"!.git/", "*.rs"})

	if m := pf.Match("test.rs", false); !m.IsInclude() {
		t.Fatalf("test.rs: expected Include, got %v", m.Kind)
	}
	if m := pf.Match(".git", true); !m.IsIgnore() {
		t.Fatalf(".git dir: expected Ignore, got %v", m.Kind)
	}
	if m := pf.Match(".git/test.rs", false); !m.IsInclude() {
		t.Fatalf(".git/test.rs: expected Include (reinclude deviation), got %v", m.Kind)
	}
}

func TestAbsoluteRule(t *testing.T) {
	pf := mustGlob(t, []string{"/foo"})

	if m := pf.Match("foo", false); !m.IsInclude() {
		t.Fatalf("foo: expected Include, got %v", m.Kind)
	}
	if m := pf.Match("dir/foo", false); !m.IsNone() {
		t.Fatalf("dir/foo: expected None, got %v", m.Kind)
	}
	if m := pf.Match("foo/test", false); !m.IsInclude() {
		t.Fatalf("foo/test: expected Include, got %v", m.Kind)
	}
}

func TestDirectoryRule(t *testing.T) {
	pf := mustGlob(t, []string{"/dir/"})

	if m := pf.Match("dir", true); !m.IsInclude() {
		t.Fatalf("dir (directory): expected Include, got %v", m.Kind)
	}
	if m := pf.Match("dir", false); !m.IsNone() {
		t.Fatalf("dir (file): expected None, got %v", m.Kind)
	}
	if m := pf.Match("dir/test.rs", false); !m.IsInclude() {
		t.Fatalf("dir/test.rs: expected Include, got %v", m.Kind)
	}
	if m := pf.Match("otherdir/dir", false); !m.IsNone() {
		t.Fatalf("otherdir/dir: expected None, got %v", m.Kind)
	}
}

func TestSkipUnknownDirsOnlyWhenSafe(t *testing.T) {
	if pf := mustGlob(t, []string{"/foo"}); !pf.SkipUnknownDirs() {
		t.Fatal("a single absolute rule should permit skipping unknown directories")
	}
	if pf := mustGlob(t, []string{"*.rs"}); pf.SkipUnknownDirs() {
		t.Fatal("a non-absolute include rule can match anywhere, skip must be disabled")
	}
}

func TestRegexModeIgnoreWinsOverInclude(t *testing.T) {
	pf, err := NewRegex(`\.tmp$`, `.*`)
	if err != nil {
		t.Fatal(err)
	}
	if m := pf.Match("a.tmp", false); !m.IsIgnore() {
		t.Fatalf("a.tmp: expected Ignore, got %v", m.Kind)
	}
	if m := pf.Match("a.go", false); !m.IsInclude() {
		t.Fatalf("a.go: expected Include, got %v", m.Kind)
	}
}

func TestDuplicateRulesAreDeduped(t *testing.T) {
	pf := mustGlob(t, []string{"*.rs", "*.rs"})
	if len(pf.rules) != 2 {
		t.Fatalf("expected exact+descendant rules deduped to 2, got %d", len(pf.rules))
	}
}
