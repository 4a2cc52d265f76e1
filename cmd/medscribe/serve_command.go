package main

import (
	"github.com/spf13/cobra"

	"medscribe/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return daemonrun.NewServeCommand("serve", ctx.ensureConfig)
}
