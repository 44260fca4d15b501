package main

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// versionText describes the build, from the module and VCS information the
// go tool stamps into the binary.
func versionText() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devrun (unknown version)"
	}
	return formatVersion(info)
}

func formatVersion(info *debug.BuildInfo) string {
	version := info.Main.Version
	if version == "" {
		version = "(devel)"
	}
	settings := map[string]string{}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "devrun %s", version)
	if rev := settings["vcs.revision"]; rev != "" {
		if len(rev) > 12 {
			rev = rev[:12]
		}
		fmt.Fprintf(b, " (%s", rev)
		if settings["vcs.modified"] == "true" {
			b.WriteString(", dirty")
		}
		if at := settings["vcs.time"]; at != "" {
			fmt.Fprintf(b, ", %s", at)
		}
		b.WriteString(")")
	}
	return b.String()
}
