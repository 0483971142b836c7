package reagent

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	info := GetVersion()
	if info.Version == "" {
		t.Fatal("empty version")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if !strings.HasPrefix(info.String(), "reagent ") {
		t.Errorf("String() = %q", info.String())
	}
}
