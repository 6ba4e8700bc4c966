package permission

import "testing"

func TestCompileToolPatternWildcard(t *testing.T) {
	re, err := compileToolPattern("mcp__*")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !re.MatchString("mcp__github") {
		t.Fatal("expected wildcard match")
	}
	if re.MatchString("other") {
		t.Fatal("unexpected match")
	}
}

func TestCompileToolPatternAlternation(t *testing.T) {
	re, err := compileToolPattern("(Read|Write)")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !re.MatchString("Read") || !re.MatchString("Write") {
		t.Fatal("expected alternation to match both branches")
	}
	if re.MatchString("Edit") {
		t.Fatal("unexpected match on non-alternative")
	}
}

func TestSplitRuleText(t *testing.T) {
	tool, arg := splitRuleText("Bash(rm:*)")
	if tool != "Bash" || arg != "rm:*" {
		t.Fatalf("got tool=%q arg=%q", tool, arg)
	}
	tool, arg = splitRuleText("Bash")
	if tool != "Bash" || arg != "" {
		t.Fatalf("bare form: got tool=%q arg=%q", tool, arg)
	}
}

func TestGlobMatchesNormalizedPaths(t *testing.T) {
	re, err := globToRegexp("**/*.ext")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !re.MatchString("a/b/c.ext") {
		t.Fatal("expected ** to match any depth")
	}
	if re.MatchString("a/b/c.txt") {
		t.Fatal("unexpected extension match")
	}
}

func TestMatchesPrefixSeparator(t *testing.T) {
	cases := []struct {
		prefix, value string
		want          bool
	}{
		{"rm", "rm file", true},
		{"rm", "rm;ls", true},
		{"rm", "rmdir", false},
		{"rm", "rm", false},
	}
	for _, c := range cases {
		got := matchesPrefixSeparator(c.prefix, c.value)
		if got != c.want {
			t.Errorf("matchesPrefixSeparator(%q, %q) = %v, want %v", c.prefix, c.value, got, c.want)
		}
	}
}
