package version

import "testing"

func TestDefaults(t *testing.T) {
	if Version == "" || BuildTime == "" || GitCommit == "" {
		t.Fatal("build metadata must never be empty")
	}
}

func TestString(t *testing.T) {
	v, c, b := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = v, c, b })

	Version, GitCommit = "v1.2.3", "unknown"
	if got := String(); got != "v1.2.3" {
		t.Errorf("String() = %q", got)
	}

	GitCommit, BuildTime = "abc123", "2024-01-01"
	if got, want := String(), "v1.2.3 (abc123, built 2024-01-01)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
