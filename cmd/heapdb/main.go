// Command heapdb inspects and edits heap file tables from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"heapdb/catalog"
	"heapdb/catalog/db_types"
	"heapdb/config"
	"heapdb/db"
	"heapdb/disk/wal"
	"heapdb/logger"
	"heapdb/transaction"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type CLI struct {
	Config   string `name:"config" short:"c" help:"Config file." type:"path"`
	LogLevel string `name:"log-level" help:"Overrides the configured log level."`

	Tables TablesCmd `cmd:"" help:"List the tables of the schema file."`
	Insert InsertCmd `cmd:"" help:"Insert one tuple."`
	Scan   ScanCmd   `cmd:"" help:"Print every tuple of a table."`
	Delete DeleteCmd `cmd:"" help:"Delete the tuples whose column equals a value."`
	Log    LogCmd    `cmd:"" help:"Inspect the write ahead log."`
	Serve  ServeCmd  `cmd:"" help:"Open the database and serve its metrics."`
}

func openDB(cfg *config.Config) (*db.DB, *zap.Logger, error) {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}

	d, err := db.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return d, log, nil
}

// withDB runs fn in one transaction against a freshly opened database and closes it afterwards.
func withDB(cfg *config.Config, fn func(d *db.DB, txn transaction.Transaction) error) (err error) {
	d, _, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); err == nil {
			err = cerr
		}
	}()

	return d.Run(func(txn transaction.Transaction) error {
		return fn(d, txn)
	})
}

type TablesCmd struct{}

func (c *TablesCmd) Run(cfg *config.Config) error {
	d, _, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	for _, id := range d.Catalog().TableIDs() {
		name, _ := d.Catalog().GetTableName(id)
		pkey, _ := d.Catalog().GetPrimaryKey(id)
		schema, _ := d.Catalog().GetSchema(id)
		fmt.Printf("%s\tid=%d\tpk=%s\t%v\n", name, id, pkey, schema)
	}
	return nil
}

type InsertCmd struct {
	Table  string   `arg:"" help:"Table name."`
	Values []string `arg:"" help:"One value per column, in column order."`
}

func (c *InsertCmd) Run(cfg *config.Config) error {
	return withDB(cfg, func(d *db.DB, txn transaction.Transaction) error {
		f, err := d.Table(c.Table)
		if err != nil {
			return err
		}

		values, err := parseValues(f.GetSchema(), c.Values)
		if err != nil {
			return err
		}

		t, err := d.Insert(txn, c.Table, values...)
		if err != nil {
			return err
		}
		fmt.Println(t.Rid)
		return nil
	})
}

func parseValues(schema catalog.Schema, raw []string) ([]*db_types.Value, error) {
	if len(raw) != schema.NumColumns() {
		return nil, fmt.Errorf("%w: want %d values, got %d", catalog.ErrSchemaMismatch, schema.NumColumns(), len(raw))
	}

	values := make([]*db_types.Value, len(raw))
	for i, s := range raw {
		v, err := db_types.ParseValue(schema.GetColumn(i).Type, s)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

type ScanCmd struct {
	Table string `arg:"" help:"Table name."`
	Rids  bool   `name:"rids" help:"Prefix every tuple with its record id."`
}

func (c *ScanCmd) Run(cfg *config.Config) error {
	return withDB(cfg, func(d *db.DB, txn transaction.Transaction) error {
		return d.Scan(txn, c.Table, func(t *catalog.Tuple) error {
			if c.Rids {
				fmt.Printf("%v\t%v\n", t.Rid, t)
				return nil
			}
			fmt.Println(t)
			return nil
		})
	})
}

type DeleteCmd struct {
	Table  string `arg:"" help:"Table name."`
	Column string `arg:"" help:"Column to match."`
	Value  string `arg:"" help:"Value to match."`
}

func (c *DeleteCmd) Run(cfg *config.Config) error {
	deleted := 0
	err := withDB(cfg, func(d *db.DB, txn transaction.Transaction) error {
		f, err := d.Table(c.Table)
		if err != nil {
			return err
		}

		idx, err := f.GetSchema().GetColIdx(c.Column)
		if err != nil {
			return err
		}
		want, err := db_types.ParseValue(f.GetSchema().GetColumn(idx).Type, c.Value)
		if err != nil {
			return err
		}

		return d.Scan(txn, c.Table, func(t *catalog.Tuple) error {
			if !t.GetValue(idx).Equal(want) {
				return nil
			}
			deleted++
			return d.Delete(txn, t)
		})
	})
	if err != nil {
		return err
	}

	fmt.Printf("deleted %d tuples\n", deleted)
	return nil
}

type LogCmd struct {
	Dump LogDumpCmd `cmd:"" help:"Print every record of the log."`
}

type LogDumpCmd struct {
	Path string `name:"path" help:"Log file, defaults to the configured one." type:"path"`
	Type string `name:"type" help:"Only print records of this type." enum:"all,begin,update,commit,abort,checkpoint" default:"all"`
}

func (c *LogDumpCmd) Run(cfg *config.Config) error {
	path := c.Path
	if path == "" {
		path = cfg.Resolve(cfg.WAL.Path)
	}
	if path == "" {
		return errors.New("no log file configured")
	}

	it, err := wal.OpenLogIter(path)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		lr, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Type != "all" && !strings.EqualFold(lr.T.String(), c.Type) {
			continue
		}
		fmt.Println(lr)
	}
}

type ServeCmd struct {
	Addr string `name:"addr" help:"Listen address, defaults to the configured metrics address."`
}

func (c *ServeCmd) Run(cfg *config.Config) error {
	d, log, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	addr := c.Addr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig reads the config file named on the command line, or falls back to the defaults.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return nil, err
		}
	}
	if c.LogLevel != "" {
		cfg.Logger.Level = c.LogLevel
	}
	return cfg, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("heapdb"),
		kong.Description("Heap file storage engine with a locking buffer pool"),
		kong.UsageOnError(),
	)

	cfg, err := cli.loadConfig()
	ctx.FatalIfErrorf(err)

	err = ctx.Run(cfg)
	ctx.FatalIfErrorf(err)
}
