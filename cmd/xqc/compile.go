package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/midbel/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/midbel/xquery/xquery"
)

var compileCmd = cli.Command{
	Name:    "compile",
	Summary: "compile a query and print its category and its expression",
	Handler: &CompileCmd{},
}

var debugCmd = cli.Command{
	Name:    "debug",
	Summary: "print the syntax tree of a query and trace its compilation",
	Handler: &DebugCmd{},
}

type CompileCmd struct {
	Quiet     bool
	Externals string
}

func (c *CompileCmd) Run(args []string) error {
	set := cli.NewFlagSet("compile")
	set.BoolVar(&c.Quiet, "q", false, "only report errors")
	set.StringVar(&c.Externals, "e", "", "comma separated list of implicit external variables")
	if err := set.Parse(args); err != nil {
		return err
	}
	source, _, err := readQuery(set.Arg(0))
	if err != nil {
		return err
	}
	var options []xquery.Option
	if c.Externals != "" {
		options = append(options, xquery.WithVariables(strings.Split(c.Externals, ",")...))
	}
	q, err := xquery.Compile(source, options...)
	if err != nil {
		printErrors(os.Stderr, err)
		return errFail
	}
	if c.Quiet {
		return nil
	}
	mod := q.Module()
	fmt.Fprintf(os.Stdout, "category: %s\n", q.Category())
	for _, v := range mod.Variables {
		kind := "declare"
		if v.External {
			kind = "external"
		}
		fmt.Fprintf(os.Stdout, "variable: $%s (%s)\n", v.Name.QualifiedName(), kind)
	}
	for _, f := range mod.Functions {
		fmt.Fprintf(os.Stdout, "function: %s\n", f)
	}
	fmt.Fprintln(os.Stdout, q.String())
	return nil
}

type DebugCmd struct {
	Trace bool
}

func (c *DebugCmd) Run(args []string) error {
	set := cli.NewFlagSet("debug")
	set.BoolVar(&c.Trace, "t", false, "trace the rules of the compiler")
	if err := set.Parse(args); err != nil {
		return err
	}
	source, _, err := readQuery(set.Arg(0))
	if err != nil {
		return err
	}
	p := xquery.NewParser(source)
	root := p.Module()
	if p.FoundErrors() {
		printErrors(os.Stderr, p.Errors())
	}
	xquery.Dump(os.Stdout, root)
	if !c.Trace || p.FoundErrors() {
		return nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	_, err = xquery.Compile(source, xquery.WithTracer(xquery.TraceWith(logger)))
	if err != nil {
		printErrors(os.Stderr, err)
		return errFail
	}
	return nil
}
