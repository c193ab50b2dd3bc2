package debugstyle

import "testing"

func TestDisabledRespectsEnvVars(t *testing.T) {
	t.Setenv("LDSIM_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	if Disabled() {
		t.Error("Disabled should be false with neither env var set")
	}

	t.Setenv("NO_COLOR", "1")
	if !Disabled() {
		t.Error("Disabled should be true when NO_COLOR is set")
	}
}

func TestDisabledLDSIMOverride(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("LDSIM_NO_COLOR", "1")
	if !Disabled() {
		t.Error("Disabled should be true when LDSIM_NO_COLOR is set")
	}
}

func TestStyleFunctionsPassThroughWhenDisabled(t *testing.T) {
	t.Setenv("LDSIM_NO_COLOR", "1")
	t.Setenv("NO_COLOR", "")

	for _, fn := range []func(string) string{Resolved, Missing, Binding, Conflict} {
		if got := fn("plain"); got != "plain" {
			t.Errorf("style function must pass text through unchanged when color is disabled, got %q", got)
		}
	}
}
