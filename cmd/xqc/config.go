package main

import (
	"fmt"
	"os"

	"github.com/midbel/cli"

	"github.com/midbel/xquery/config"
)

var configCmd = cli.Command{
	Name:    "config",
	Summary: "print the effective configuration",
	Handler: &ConfigCmd{},
}

type ConfigCmd struct {
	Default bool
}

func (c *ConfigCmd) Run(args []string) error {
	set := cli.NewFlagSet("config")
	set.BoolVar(&c.Default, "d", false, "print the default configuration")
	if err := set.Parse(args); err != nil {
		return err
	}
	var (
		cfg *config.Config
		err error
	)
	if c.Default {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configFile)
	}
	if err != nil {
		return err
	}
	str, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, str)
	return nil
}
