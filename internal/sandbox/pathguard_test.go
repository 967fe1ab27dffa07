package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func testConfig(dirs ...string) *Config {
	cfg := Config{
		AllowedDirs:     dirs,
		AllowedCommands: []string{"npx", "node", "sh", "echo", "sleep"},
	}.WithDefaults()
	return &cfg
}

func TestValidatePath_InsideRoot(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.spec.ts")
	if err := os.WriteFile(file, []byte("test"), 0600); err != nil {
		t.Fatal(err)
	}

	if !ValidatePath(file, testConfig(root)) {
		t.Errorf("ValidatePath(%q) = false, want true", file)
	}
}

func TestValidatePath_Traversal(t *testing.T) {
	root := t.TempDir()
	tests := []string{
		"../../../etc/passwd",
		filepath.Join(root, "..", "escape.txt"),
		"/etc/passwd",
		"",
	}
	for _, path := range tests {
		if ValidatePath(path, testConfig(root)) {
			t.Errorf("ValidatePath(%q) = true, want false", path)
		}
	}
}

func TestValidatePath_DotDotStayingInside(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "suite")
	if err := os.MkdirAll(sub, 0750); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(root, "a.spec.ts")
	if err := os.WriteFile(file, []byte("test"), 0600); err != nil {
		t.Fatal(err)
	}

	// suite/../a.spec.ts canonicalizes back inside the root.
	path := filepath.Join(sub, "..", "a.spec.ts")
	if !ValidatePath(path, testConfig(root)) {
		t.Errorf("ValidatePath(%q) = false, want true", path)
	}
}

func TestValidatePath_RootItselfRejected(t *testing.T) {
	root := t.TempDir()
	if ValidatePath(root, testConfig(root)) {
		t.Error("the root itself should not count as a descendant")
	}
}

func TestValidatePath_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks unreliable on windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("s"), 0600); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(root, "innocent.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	if ValidatePath(link, testConfig(root)) {
		t.Error("symlink resolving outside the root should be rejected")
	}
}

func TestValidatePath_SymlinkContained(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks unreliable on windows")
	}

	root := t.TempDir()
	target := filepath.Join(root, "real.spec.ts")
	if err := os.WriteFile(target, []byte("t"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "alias.spec.ts")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	if !ValidatePath(link, testConfig(root)) {
		t.Error("symlink resolving inside the root should be accepted")
	}
}

func TestValidatePath_NonexistentLeafUnderRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "not-written-yet.png")
	if !ValidatePath(path, testConfig(root)) {
		t.Error("a not-yet-created file under the root should be accepted")
	}
}

func TestValidatePath_NoRoots(t *testing.T) {
	if ValidatePath("anything", testConfig()) {
		t.Error("empty allow-list must reject everything")
	}
}
