package main

import (
	"github.com/robotalks/pulselink/pkg/cli/sh"
	"github.com/robotalks/pulselink/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
