package main

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExtractCommand(t *testing.T) {
	out, err := run(t, "extract", "I'm", "bob,", "not", "alice")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, want := range []string{"User's name is Bob", "CORRECTION: User's name is NOT Alice"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestScoreCommand(t *testing.T) {
	out, err := run(t, "score", "--query", "chess", "User likes chess", "User lives in Oslo")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "\tUser likes chess") {
		t.Fatalf("output = %q", out)
	}

	if _, err := run(t, "score", "User likes chess"); err == nil {
		t.Error("expected error without --query")
	}
}

func TestMemoryCommandsRequireUser(t *testing.T) {
	if _, err := run(t, "stats"); err == nil {
		t.Error("expected error without --user")
	}
}
