package main

import (
	"github.com/urfave/cli/v2"

	"github.com/chazu/coven/server"
)

func lspCommand() *cli.Command {
	return &cli.Command{
		Name:  "lsp",
		Usage: "serve the language server protocol on stdio",
		Action: func(c *cli.Context) error {
			return server.NewLSP(Version).Run()
		},
	}
}
