package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestBuildVersionWins(t *testing.T) {
	old := buildVersion
	buildVersion = " v2.0.1 "
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v2.0.1" {
		t.Fatalf("Current() = %q", got)
	}
	info := Describe()
	if info.Version != "v2.0.1" || info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Fatalf("Describe() = %+v", info)
	}
	line := info.String()
	if !strings.HasPrefix(line, info.Module+" v2.0.1 (") {
		t.Fatalf("String() = %q", line)
	}
}

func TestPseudoVersion(t *testing.T) {
	settings := func(kv ...string) *debug.BuildInfo {
		info := &debug.BuildInfo{}
		for i := 0; i+1 < len(kv); i += 2 {
			info.Settings = append(info.Settings, debug.BuildSetting{Key: kv[i], Value: kv[i+1]})
		}
		return info
	}
	cases := []struct {
		name string
		info *debug.BuildInfo
		want string
	}{
		{"nil", nil, ""},
		{"no vcs", settings(), ""},
		{"missing time", settings("vcs.revision", "abc"), ""},
		{"bad time", settings("vcs.revision", "abc", "vcs.time", "yesterday"), ""},
		{
			"clean",
			settings("vcs.revision", "fedcba9876543210", "vcs.time", "2026-03-14T15:09:26Z", "vcs.modified", "false"),
			"v0.0.0-20260314150926-fedcba987654",
		},
		{
			"dirty short revision",
			settings("vcs.revision", "beef", "vcs.time", "2026-03-14T17:09:26+02:00", "vcs.modified", "true"),
			"v0.0.0-20260314150926-beef+dirty",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pseudoFromBuildInfo(tc.info); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
