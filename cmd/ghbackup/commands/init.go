package commands

import (
	"fmt"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite an existing configuration file"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	if err := config.Init(root.Config, i.Force); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "initialization failed").
			WithContext("path", root.Config).Build()
	}
	fmt.Printf("Wrote example configuration to %s\n", root.Config)
	return nil
}
