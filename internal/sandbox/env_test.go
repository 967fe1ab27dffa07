package sandbox

import (
	"strings"
	"testing"
)

func envLookup(env []string, name string) (string, bool) {
	// Later entries win, matching how the OS resolves duplicates.
	prefix := name + "="
	value, found := "", false
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			value, found = strings.TrimPrefix(entry, prefix), true
		}
	}
	return value, found
}

func TestSanitizedEnv_ExcludesUnlistedVariables(t *testing.T) {
	t.Setenv("AWS_SECRET_ACCESS_KEY", "hunter2")
	t.Setenv("OPENAI_API_KEY", "sk-xyz")
	t.Setenv("SOME_FUTURE_CREDENTIAL", "oops")

	env := SanitizedEnv(nil)
	for _, name := range []string{"AWS_SECRET_ACCESS_KEY", "OPENAI_API_KEY", "SOME_FUTURE_CREDENTIAL"} {
		if _, found := envLookup(env, name); found {
			t.Errorf("%s leaked into the sanitized environment", name)
		}
	}
}

func TestSanitizedEnv_CopiesAllowListedVariables(t *testing.T) {
	t.Setenv("BASE_URL", "http://localhost:3000")
	t.Setenv("HEADLESS", "1")

	env := SanitizedEnv(nil)
	if got, _ := envLookup(env, "BASE_URL"); got != "http://localhost:3000" {
		t.Errorf("BASE_URL = %q, want %q", got, "http://localhost:3000")
	}
	if got, _ := envLookup(env, "HEADLESS"); got != "1" {
		t.Errorf("HEADLESS = %q, want %q", got, "1")
	}
}

func TestSanitizedEnv_AbsentVariablesStayAbsent(t *testing.T) {
	// An allow-listed variable not set in the parent must not be invented.
	t.Setenv("BASE_URL", "x")
	env := SanitizedEnv(nil)
	t.Setenv("BASE_URL", "") // restore handled by t.Setenv

	if _, found := envLookup(env, "VIDEO"); found {
		t.Error("VIDEO was not set in the parent but appeared in the child env")
	}
	_ = env
}

func TestSanitizedEnv_ExtrasShadow(t *testing.T) {
	t.Setenv("HOME", "/home/parent")

	env := SanitizedEnv(map[string]string{"HOME": "/sandbox/run-1"})
	if got, _ := envLookup(env, "HOME"); got != "/sandbox/run-1" {
		t.Errorf("HOME = %q, want extra to shadow the parent value", got)
	}
}
