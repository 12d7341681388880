package main

import (
	"github.com/robotalks/groupnet/pkg/cli/sh"
	"github.com/robotalks/groupnet/pkg/env"

	_ "github.com/robotalks/groupnet/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
