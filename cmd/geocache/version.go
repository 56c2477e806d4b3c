package main

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"
)

func newVersionCmd(name string) *cobra.Command {
	return &cobra.Command{
		Use:                   "version",
		Short:                 "Print " + name + " version",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, _ []string) {
			hash, ts := versionHashAndTimestamp()
			fmt.Fprintf(cmd.OutOrStdout(), "%s version: %s from %s\n", name, hash, ts)
		},
	}
}

// versionHashAndTimestamp returns the commit the binary was built from.
// Builds from a dirty tree, go run and go test report @latest.
func versionHashAndTimestamp() (string, string) {
	var (
		hash     string
		ts       string
		modified bool
	)

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				hash = setting.Value
			case "vcs.time":
				ts = setting.Value
			case "vcs.modified":
				modified = setting.Value == "true"
			}
		}
	}

	if modified || hash == "" {
		return "@latest", time.Now().UTC().Format(time.RFC3339)
	}
	return hash, ts
}
