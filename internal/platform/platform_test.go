package platform

import (
	"runtime"
	"testing"
)

func TestDetectMatchesRuntimeOnKnownPlatforms(t *testing.T) {
	detectedOnce = false
	detected = ""

	got := Detect()
	if got == "" {
		t.Fatal("Detect() returned empty OS")
	}

	switch runtime.GOOS {
	case "darwin":
		if got != OSMacOS {
			t.Errorf("expected OSMacOS on darwin, got %s", got)
		}
	case "windows":
		if got != OSWindows {
			t.Errorf("expected OSWindows on windows, got %s", got)
		}
	case "linux":
		if got != OSLinux {
			t.Errorf("expected OSLinux on linux, got %s", got)
		}
	}
}

func TestDetectIsCached(t *testing.T) {
	detectedOnce = false
	detected = ""

	first := Detect()
	second := Detect()
	if first != second {
		t.Errorf("Detect() not cached: got %s then %s", first, second)
	}
}
