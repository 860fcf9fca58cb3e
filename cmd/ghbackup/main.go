package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/ghbackup/cmd/ghbackup/commands"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/version"
)

func main() {
	var cli commands.CLI
	global := &commands.Global{}
	ctx := kong.Parse(&cli,
		kong.Name("ghbackup"),
		kong.Description("Mirror GitHub organizations and retire what disappears upstream."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)
	err := ctx.Run()
	errors.NewCLIErrorAdapter(cli.Verbose, nil).HandleError(err)
}
