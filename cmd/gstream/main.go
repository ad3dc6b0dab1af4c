package main

import (
	"github.com/robotalks/gstream/pkg/cli/sh"
	"github.com/robotalks/gstream/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
