package mcptransport

import (
	"os"
	"testing"
)

func TestInterpolateBraceForm(t *testing.T) {
	os.Setenv("MCPCORE_TEST_VAR", "hello")
	defer os.Unsetenv("MCPCORE_TEST_VAR")

	got := Interpolate("prefix-${MCPCORE_TEST_VAR}-suffix")
	if got != "prefix-hello-suffix" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolatePowershellForm(t *testing.T) {
	os.Setenv("MCPCORE_TEST_VAR2", "world")
	defer os.Unsetenv("MCPCORE_TEST_VAR2")

	got := Interpolate("$env:MCPCORE_TEST_VAR2")
	if got != "world" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateUnresolvedBecomesEmpty(t *testing.T) {
	os.Unsetenv("MCPCORE_TEST_MISSING")
	got := Interpolate("x${MCPCORE_TEST_MISSING}y")
	if got != "xy" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateMap(t *testing.T) {
	os.Setenv("MCPCORE_TEST_VAR3", "v3")
	defer os.Unsetenv("MCPCORE_TEST_VAR3")

	out := InterpolateMap(map[string]string{"A": "${MCPCORE_TEST_VAR3}"})
	if out["A"] != "v3" {
		t.Errorf("got %q", out["A"])
	}
}
