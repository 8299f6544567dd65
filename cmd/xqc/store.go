package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/midbel/cli"

	"github.com/midbel/xquery/store"
	"github.com/midbel/xquery/xml"
)

var storeListCmd = cli.Command{
	Name:    "list",
	Summary: "list the documents of the store",
	Handler: &StoreListCmd{},
}

var storePutCmd = cli.Command{
	Name:    "put",
	Summary: "save xml documents in the store",
	Handler: &StorePutCmd{},
}

var storeGetCmd = cli.Command{
	Name:    "get",
	Summary: "print a document of the store",
	Handler: &StoreGetCmd{},
}

var storeRemoveCmd = cli.Command{
	Name:    "remove",
	Alias:   []string{"rm"},
	Summary: "remove documents from the store",
	Handler: &StoreRemoveCmd{},
}

var storeHistoryCmd = cli.Command{
	Name:    "history",
	Summary: "print the revisions of a document",
	Handler: &StoreHistoryCmd{},
}

func withStore(fn func(context.Context, store.Store) error) error {
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(context.Background(), env.Engine.Store())
}

func printEntry(e store.Entry) {
	fmt.Fprintf(os.Stdout, "%-32s %s %8d %s", e.URI, e.Revision, e.Size, e.Modified.Format(time.RFC3339))
	fmt.Fprintln(os.Stdout)
}

type StoreListCmd struct{}

func (c *StoreListCmd) Run(args []string) error {
	set := cli.NewFlagSet("list")
	if err := set.Parse(args); err != nil {
		return err
	}
	return withStore(func(ctx context.Context, docs store.Store) error {
		list, err := docs.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range list {
			printEntry(e)
		}
		return nil
	})
}

type StorePutCmd struct {
	Prefix string
}

func (c *StorePutCmd) Run(args []string) error {
	set := cli.NewFlagSet("put")
	set.StringVar(&c.Prefix, "p", "", "prefix added to the uri of each document")
	if err := set.Parse(args); err != nil {
		return err
	}
	return withStore(func(ctx context.Context, docs store.Store) error {
		for _, file := range set.Args() {
			doc, err := xml.ParseFile(file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			e, err := docs.Put(ctx, c.Prefix+filepath.Base(file), doc)
			if err != nil {
				return err
			}
			printEntry(e)
		}
		return nil
	})
}

type StoreGetCmd struct {
	Compact bool
}

func (c *StoreGetCmd) Run(args []string) error {
	set := cli.NewFlagSet("get")
	set.BoolVar(&c.Compact, "compact", false, "write compact output")
	if err := set.Parse(args); err != nil {
		return err
	}
	return withStore(func(ctx context.Context, docs store.Store) error {
		doc, err := docs.Document(ctx, set.Arg(0))
		if err != nil {
			return err
		}
		ws := xml.NewWriter(os.Stdout)
		if c.Compact {
			ws.WriterOptions |= xml.OptionCompact
		}
		return ws.Write(doc)
	})
}

type StoreRemoveCmd struct{}

func (c *StoreRemoveCmd) Run(args []string) error {
	set := cli.NewFlagSet("remove")
	if err := set.Parse(args); err != nil {
		return err
	}
	return withStore(func(ctx context.Context, docs store.Store) error {
		for _, uri := range set.Args() {
			if err := docs.Remove(ctx, uri); err != nil {
				return err
			}
		}
		return nil
	})
}

type StoreHistoryCmd struct{}

func (c *StoreHistoryCmd) Run(args []string) error {
	set := cli.NewFlagSet("history")
	if err := set.Parse(args); err != nil {
		return err
	}
	return withStore(func(ctx context.Context, docs store.Store) error {
		hist, ok := docs.(store.History)
		if !ok {
			return fmt.Errorf("store does not keep revisions")
		}
		list, err := hist.Revisions(ctx, set.Arg(0))
		if err != nil {
			return err
		}
		for _, e := range list {
			printEntry(e)
		}
		return nil
	})
}
