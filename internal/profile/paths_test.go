package profile

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsAreUnderProfileDir(t *testing.T) {
	dir := Dir("work")
	paths := []string{
		ConfigPath("work"),
		LockPath("work"),
		LogPath("work"),
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, dir+string(filepath.Separator)) {
			t.Errorf("path %q not under profile dir %q", p, dir)
		}
	}
}

func TestGlobalConfigOutsideProfiles(t *testing.T) {
	if strings.Contains(GlobalConfigPath(), "profiles") {
		t.Errorf("global config %q should not live under profiles/", GlobalConfigPath())
	}
}

func TestProfilesAreIsolated(t *testing.T) {
	if Dir("a") == Dir("b") {
		t.Error("distinct profiles share a directory")
	}
}
