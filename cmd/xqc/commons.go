package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/midbel/xquery/cache"
	"github.com/midbel/xquery/config"
	"github.com/midbel/xquery/engine"
	"github.com/midbel/xquery/store"
	"github.com/midbel/xquery/xml"
	"github.com/midbel/xquery/xquery"
)

type Env struct {
	Config *config.Config
	Logger *zap.Logger
	Engine *engine.Engine
}

func (e *Env) Close() error {
	defer e.Logger.Sync()
	err := e.Engine.Close()
	if cerr := e.Engine.Store().Close(); err == nil {
		err = cerr
	}
	return err
}

func setup() (*Env, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		return nil, err
	}
	docs, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	pool, err := cache.New(
		cache.WithSize(cfg.Cache.Size),
		cache.WithMaxIdle(cfg.Cache.MaxIdle),
		cache.WithMaxActive(cfg.Cache.MaxActive),
		cache.WithLogger(logger.Named("cache")),
		cache.WithCompileOptions(xquery.WithLogger(logger.Named("query"))),
	)
	if err != nil {
		docs.Close()
		return nil, err
	}
	eng, err := engine.New(
		engine.WithStore(docs),
		engine.WithCache(pool),
		engine.WithWorkers(cfg.Eval.Workers),
		engine.WithTimeout(cfg.Eval.Timeout),
		engine.WithLogger(logger.Named("engine")),
	)
	if err != nil {
		pool.Close()
		docs.Close()
		return nil, err
	}
	env := Env{
		Config: cfg,
		Logger: logger,
		Engine: eng,
	}
	return &env, nil
}

// readQuery returns the text of the query given on the command line: the
// content of a file, of stdin for "-", or the argument itself.
func readQuery(arg string) (string, string, error) {
	switch {
	case arg == "":
		return "", "", fmt.Errorf("no query given")
	case arg == "-":
		buf, err := io.ReadAll(os.Stdin)
		return string(buf), "", err
	case strings.HasSuffix(arg, ".xq") || strings.HasSuffix(arg, ".xqy"):
		buf, err := os.ReadFile(arg)
		if err != nil {
			return "", "", err
		}
		uri, _ := filepath.Abs(arg)
		return string(buf), uri, nil
	default:
		return arg, "", nil
	}
}

// Bindings collects the values given with -var name=value and the documents
// given with -doc uri=file or -doc file.
type Bindings struct {
	Variables map[string]any
	Documents map[string]string
	Item      string
}

func (b *Bindings) setVar(str string) error {
	name, value, ok := strings.Cut(str, "=")
	if !ok || name == "" {
		return fmt.Errorf("%s: expected name=value", str)
	}
	if b.Variables == nil {
		b.Variables = make(map[string]any)
	}
	b.Variables[name] = value
	return nil
}

func (b *Bindings) setDoc(str string) error {
	uri, file, ok := strings.Cut(str, "=")
	if !ok {
		file = str
		uri = filepath.Base(str)
	}
	if b.Documents == nil {
		b.Documents = make(map[string]string)
	}
	b.Documents[uri] = file
	return nil
}

// load saves the documents in the store of the engine and returns the
// bindings of the query.
func (b *Bindings) load(ctx context.Context, docs store.Store) (xquery.Bindings, error) {
	var qb xquery.Bindings
	for uri, file := range b.Documents {
		doc, err := xml.ParseFile(file)
		if err != nil {
			return qb, err
		}
		if _, err := docs.Put(ctx, uri, doc); err != nil {
			return qb, err
		}
	}
	if b.Item != "" {
		doc, err := xml.ParseFile(b.Item)
		if err != nil {
			return qb, err
		}
		qb.Item = doc
	}
	qb.Variables = b.Variables
	return qb, nil
}

func printResult(w io.Writer, res *engine.Result) {
	for _, s := range res.Output() {
		fmt.Fprintln(w, s)
	}
}

func printErrors(w io.Writer, err error) {
	if list, ok := err.(xquery.ErrorList); ok {
		for _, e := range list {
			fmt.Fprintln(w, e.Error())
		}
		return
	}
	if code := xquery.ErrorCode(err); code != "" && !strings.Contains(err.Error(), code) {
		fmt.Fprintf(w, "[%s] ", code)
	}
	fmt.Fprintln(w, err.Error())
}
