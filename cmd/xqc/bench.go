package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"time"

	"github.com/midbel/cli"
	"golang.org/x/sync/errgroup"

	"github.com/midbel/xquery/engine"
)

var benchCmd = cli.Command{
	Name:    "bench",
	Summary: "evaluate a query repeatedly and report timings and cache usage",
	Handler: &BenchCmd{},
}

type BenchCmd struct {
	Count   int
	Clients int
	Bindings
}

func (c *BenchCmd) Run(args []string) error {
	set := cli.NewFlagSet("bench")
	set.IntVar(&c.Count, "n", 100, "number of evaluations")
	set.IntVar(&c.Clients, "p", 4, "number of concurrent clients")
	set.Func("var", "value of an external variable (name=value)", c.setVar)
	set.Func("doc", "document made available to fn:doc (uri=file)", c.setDoc)
	if err := set.Parse(args); err != nil {
		return err
	}
	if c.Count <= 0 || c.Clients <= 0 {
		return fmt.Errorf("count and clients must be positive")
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

	var (
		grp, sub = errgroup.WithContext(ctx)
		elapsed  = make([]time.Duration, c.Count)
		failures atomic.Int64
		done     atomic.Int64
		next     atomic.Int64
		spin     = NewSpinner()
		now      = time.Now()
	)
	spin.Run(func() {
		for range c.Clients {
			grp.Go(func() error {
				for {
					i := int(next.Add(1)) - 1
					if i >= c.Count {
						return nil
					}
					req := engine.Request{
						URI:      uri,
						Source:   source,
						Bindings: b,
					}
					res, err := env.Engine.Execute(sub, req)
					if res == nil {
						return err
					}
					if res.Err != nil {
						failures.Add(1)
					}
					elapsed[i] = res.Elapsed
					spin.SetMessage(fmt.Sprintf("%d/%d evaluations", done.Add(1), c.Count))
				}
			})
		}
		err = grp.Wait()
	})
	if err != nil {
		return err
	}
	total := time.Since(now)
	slices.Sort(elapsed)

	var sum time.Duration
	for _, e := range elapsed {
		sum += e
	}
	stats := env.Engine.Cache().Stats()
	fmt.Fprintf(os.Stdout, "evaluations: %d (%d failed) in %s\n", c.Count, failures.Load(), total)
	fmt.Fprintf(os.Stdout, "min: %s, max: %s, avg: %s, p95: %s\n",
		elapsed[0],
		elapsed[len(elapsed)-1],
		sum/time.Duration(len(elapsed)),
		elapsed[(len(elapsed)*95)/100],
	)
	fmt.Fprintf(os.Stdout, "cache: %d compiled, %d hits, %d misses, %d exhausted, %d idle\n",
		stats.Compiled,
		stats.Hits,
		stats.Misses,
		stats.Exhausted,
		stats.Idle,
	)
	if failures.Load() > 0 {
		return errFail
	}
	return nil
}
