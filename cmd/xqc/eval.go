package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/midbel/cli"

	"github.com/midbel/xquery/engine"
)

var evalCmd = cli.Command{
	Name:    "eval",
	Alias:   []string{"exec"},
	Summary: "evaluate a query and apply its updates",
	Handler: &EvalCmd{},
}

type EvalCmd struct {
	Quiet   bool
	Timeout time.Duration
	Bindings
}

const evalInfo = "%s query took %s - %d items, %d updates applied"

func (c *EvalCmd) Run(args []string) error {
	set := cli.NewFlagSet("eval")
	set.BoolVar(&c.Quiet, "q", false, "suppress output - default is to print the result items")
	set.DurationVar(&c.Timeout, "timeout", 0, "maximum time given to the evaluation")
	set.StringVar(&c.Item, "context", "", "document used as context item")
	set.Func("var", "value of an external variable (name=value)", c.setVar)
	set.Func("doc", "document made available to fn:doc (uri=file)", c.setDoc)
	if err := set.Parse(args); err != nil {
		return err
	}
	source, uri, err := readQuery(set.Arg(0))
	if err != nil {
		return err
	}
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	b, err := c.load(ctx, env.Engine.Store())
	if err != nil {
		return err
	}
	b.Timeout = c.Timeout

	req := engine.Request{
		URI:      uri,
		Source:   source,
		Bindings: b,
	}
	res, err := env.Engine.Execute(ctx, req)
	if err != nil {
		printErrors(os.Stderr, err)
		return errFail
	}
	if !c.Quiet {
		printResult(os.Stdout, res)
	}
	var applied int
	if res.Batch != nil {
		applied = res.Batch.Applied
		for _, e := range res.Batch.Saved {
			fmt.Fprintf(os.Stderr, "saved %s (revision %s)\n", e.URI, e.Revision)
		}
	}
	fmt.Fprintf(os.Stderr, evalInfo, res.Category, res.Elapsed, len(res.Items), applied)
	fmt.Fprintln(os.Stderr)
	return nil
}
