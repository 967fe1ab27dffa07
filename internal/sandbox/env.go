package sandbox

import "os"

// The child environment is built from these allow-lists and nothing else.
// Allow-list construction (rather than denying known credential names)
// guarantees a credential variable added to the parent tomorrow is never
// leaked: it is excluded because it was never listed.
var (
	// baseVars are the minimal POSIX variables a child process needs.
	baseVars = []string{"PATH", "HOME", "USER", "LANG"}

	// runnerVars configure the browser-test runner.
	runnerVars = []string{
		"BASE_URL",
		"PLAYWRIGHT_BROWSERS_PATH",
		"BROWSER_PATH",
		"HEADLESS",
		"SCREENSHOT",
		"VIDEO",
		"TRACE",
	}

	// runtimeVars are scratch/cache locations some runners require.
	runtimeVars = []string{"TMPDIR", "XDG_CACHE_HOME", "NODE_PATH"}
)

// SanitizedEnv builds the child environment. Each allow-listed variable
// is copied from the parent only if present; extra entries are appended
// last and may shadow copied ones (e.g. HOME pointed at a run directory).
func SanitizedEnv(extra map[string]string) []string {
	env := make([]string, 0, len(baseVars)+len(runnerVars)+len(runtimeVars)+len(extra))

	for _, group := range [][]string{baseVars, runnerVars, runtimeVars} {
		for _, name := range group {
			if value, ok := os.LookupEnv(name); ok {
				env = append(env, name+"="+value)
			}
		}
	}

	for name, value := range extra {
		env = append(env, name+"="+value)
	}
	return env
}
