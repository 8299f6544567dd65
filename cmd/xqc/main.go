package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/midbel/cli"
)

var errFail = errors.New("fail")

var (
	summary = "xqc compiles, evaluates and applies xquery update queries"
	help    = ""
)

var configFile string

func main() {
	var (
		set  = cli.NewFlagSet("xqc")
		root = prepare()
	)
	set.StringVar(&configFile, "c", os.Getenv("XQUERY_CONFIG"), "configuration file")
	root.SetSummary(summary)
	root.SetHelp(help)
	if err := set.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			root.Help()
			os.Exit(2)
		}
	}
	err := root.Execute(set.Args())
	if err != nil {
		if s, ok := err.(cli.SuggestionError); ok && len(s.Others) > 0 {
			fmt.Fprintln(os.Stderr, "similar command(s)")
			for _, n := range s.Others {
				fmt.Fprintln(os.Stderr, "-", n)
			}
		}
		if !errors.Is(err, errFail) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func prepare() *cli.CommandTrie {
	root := cli.New()
	root.Register([]string{"compile"}, &compileCmd)
	root.Register([]string{"eval"}, &evalCmd)
	root.Register([]string{"exec"}, &evalCmd)
	root.Register([]string{"debug"}, &debugCmd)
	root.Register([]string{"bench"}, &benchCmd)
	root.Register([]string{"shell"}, &shellCmd)
	root.Register([]string{"config"}, &configCmd)
	root.Register([]string{"store"}, &storeListCmd)
	root.Register([]string{"store", "list"}, &storeListCmd)
	root.Register([]string{"store", "put"}, &storePutCmd)
	root.Register([]string{"store", "get"}, &storeGetCmd)
	root.Register([]string{"store", "remove"}, &storeRemoveCmd)
	root.Register([]string{"store", "history"}, &storeHistoryCmd)

	return root
}
