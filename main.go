package main

import (
	"fmt"
	"os"

	"github.com/pointaudio/pointaudio/cmd"
	"github.com/pointaudio/pointaudio/internal/buildinfo"
	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/logging"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate string
)

func main() {
	logging.Init()

	// POINTAUDIO_CONFIG selects an explicit config file, otherwise the
	// default search paths are used
	settings, err := conf.Load(os.Getenv("POINTAUDIO_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings, buildinfo.NewContext(version, buildDate, ""))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
