package runengine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWorkdirDefaultsToWork(t *testing.T) {
	if got := ResolveWorkdir(""); got != "/work" {
		t.Fatalf("expected /work, got %s", got)
	}
}

func TestResolveWorkdirRelativeAnchoredAtWork(t *testing.T) {
	if got := ResolveWorkdir("src"); got != "/work/src" {
		t.Fatalf("expected /work/src, got %s", got)
	}
}

func TestResolveWorkdirAbsoluteUsedAsIs(t *testing.T) {
	if got := ResolveWorkdir("/data"); got != "/data" {
		t.Fatalf("expected /data, got %s", got)
	}
}

func TestComposeEnvironLayering(t *testing.T) {
	host := map[string]string{"TERM": "xterm", "UNRELATED": "x"}
	container := map[string]string{"PATH": "/container/bin", "FOO": "container"}
	command := map[string]string{"FOO": "command"}

	env := ComposeEnviron(host, container, command)
	m := toMap(env)

	if m["TERM"] != "xterm" {
		t.Fatalf("expected TERM propagated from host, got %q", m["TERM"])
	}
	if _, ok := m["UNRELATED"]; ok {
		t.Fatal("expected only the explicit propagated var list to cross from host")
	}
	if m["FOO"] != "command" {
		t.Fatalf("expected command env to win over container env, got %q", m["FOO"])
	}
	if m["PATH"] != "/container/bin" {
		t.Fatalf("expected container-set PATH to be kept, got %q", m["PATH"])
	}
}

func TestComposeEnvironDefaultsPathWhenUnset(t *testing.T) {
	env := ComposeEnviron(nil, nil, nil)
	m := toMap(env)
	if m["PATH"] != defaultPath {
		t.Fatalf("expected default PATH, got %q", m["PATH"])
	}
}

func TestResolveExecutableWithSlashUsedAsIs(t *testing.T) {
	got, err := ResolveExecutable("/bin/sh", "/ignored")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/bin/sh" {
		t.Fatalf("expected passthrough, got %s", got)
	}
}

func TestResolveExecutableSearchesPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "mytool")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveExecutable("mytool", "/nonexistent:"+dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != bin {
		t.Fatalf("expected %s, got %s", bin, got)
	}
}

func TestResolveExecutableNotFoundListsTriedDirs(t *testing.T) {
	_, err := ResolveExecutable("does-not-exist-anywhere", "/a:/b")
	if err == nil {
		t.Fatal("expected ErrCommandNotFound")
	}
	notFound, ok := err.(*ErrCommandNotFound)
	if !ok {
		t.Fatalf("expected *ErrCommandNotFound, got %T", err)
	}
	if len(notFound.Tried) != 2 {
		t.Fatalf("expected 2 tried dirs, got %v", notFound.Tried)
	}
}

func TestBuildResolvesFullPlan(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "app")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	plan, err := Build([]string{"app", "--flag"}, "subdir",
		map[string]string{"TERM": "xterm"},
		map[string]string{"PATH": dir},
		nil, Wait)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Argv[0] != bin {
		t.Fatalf("expected resolved binary path, got %s", plan.Argv[0])
	}
	if plan.Dir != "/work/subdir" {
		t.Fatalf("expected /work/subdir, got %s", plan.Dir)
	}
}

func toMap(env []string) map[string]string {
	m := map[string]string{}
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
