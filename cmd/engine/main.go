package main

import (
	"github.com/creepdata/creep-engine/pkg/cmd"
	"github.com/creepdata/creep-engine/pkg/cmd/engine"
)

func main() {
	if err := engine.NewCommand().Execute(); err != nil {
		cmd.ExitWithErr(err)
	}
}
