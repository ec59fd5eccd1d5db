package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

type VersionCmd struct {
	FullVersion bool `long:"full-version" description:"also show revision, build date and toolchain"`
}

// set by the release build
var (
	version = "dev"
	commit  = "dummy_hash"
	date    = "dummy_date"
)

// buildVersion prefers the linker-set version, then the module version
// recorded by "go install".
func buildVersion(info *debug.BuildInfo) string {
	if version != "dev" || info == nil {
		return version
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return strings.TrimPrefix(v, "v")
	}
	return version
}

func versionLine(full bool, info *debug.BuildInfo) string {
	line := "tinyhttpd " + buildVersion(info)
	if !full {
		return line
	}
	rev := commit
	if info != nil && rev == "dummy_hash" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				rev = s.Value
			}
		}
	}
	return fmt.Sprintf("%s hash %s build %s %s", line, rev, date, runtime.Version())
}

func (cmd VersionCmd) Execute(args []string) error {
	info, _ := debug.ReadBuildInfo()
	fmt.Println(versionLine(cmd.FullVersion, info))
	return nil
}
