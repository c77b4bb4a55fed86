package main

import (
	"fmt"
	"io"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X main.Version=v1.2.0 -X main.BuildTime=$(date -u +%FT%TZ) -X main.CommitHash=$(git rev-parse --short HEAD)"
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "qod-bootstrap %s (commit %s, built %s, %s %s/%s)\n",
		Version, CommitHash, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
