package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/rigado/fpstorage"
	"github.com/rigado/fpstorage/accountkey"
	"github.com/rigado/fpstorage/bond"
	"github.com/rigado/fpstorage/config"
	"github.com/rigado/fpstorage/manager"
	"github.com/rigado/fpstorage/metrics"
	"github.com/rigado/fpstorage/settings/boltdb"
	"github.com/rigado/fpstorage/settings/jsonfile"
)

type env struct {
	cfg    config.Config
	store  *accountkey.Store
	bonds  *bond.Manager
	mgr    *manager.Manager
	closer io.Closer
	reg    *prometheus.Registry
}

var e env

func main() {
	app := cli.NewApp()
	app.Name = "fpstore"
	app.Usage = "inspect and drive a Fast Pair account key store"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML configuration file"},
		cli.StringFlag{Name: "db", Usage: "settings database path"},
		cli.StringFlag{Name: "bonds", Usage: "bond list file"},
		cli.IntFlag{Name: "capacity", Usage: "number of account keys kept"},
		cli.BoolFlag{Name: "verbose, v", Usage: "debug logging"},
		cli.BoolFlag{Name: "metrics", Usage: "print store metrics on exit"},
	}
	app.Before = setup
	app.After = teardown
	app.Commands = []cli.Command{
		{Name: "list", Usage: "list stored account keys", Action: listKeys},
		{Name: "save", Usage: "store an account key", ArgsUsage: "<key hex>", Action: saveKey},
		{Name: "find", Usage: "look up an account key and mark it used", ArgsUsage: "<key hex>", Action: findKey},
		{Name: "bonds", Usage: "list bond records", Action: listBonds},
		{Name: "pair", Usage: "run a pairing procedure that writes an account key", ArgsUsage: "<addr> <key hex>", Action: pair},
		{Name: "unpair", Usage: "remove a bond", ArgsUsage: "<addr>", Action: unpair},
		{Name: "reset", Usage: "factory reset", Action: reset},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(c *cli.Context) error {
	cfg := config.Default()
	if fn := c.String("config"); fn != "" {
		var err error
		if cfg, err = config.Load(fn); err != nil {
			return err
		}
	}
	if c.IsSet("db") {
		cfg.Path = c.String("db")
	}
	if c.IsSet("bonds") {
		cfg.BondsFile = c.String("bonds")
		cfg.BondKeeping = true
	}
	if c.IsSet("capacity") {
		cfg.Capacity = c.Int("capacity")
	}
	if c.Bool("verbose") {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	fpstorage.SetLogLevel(lvl)

	var settings fpstorage.Settings
	switch cfg.Backend {
	case "bolt":
		db, err := boltdb.Open(cfg.Path)
		if err != nil {
			return err
		}
		e.closer = db
		settings = db
	case "json":
		settings = jsonfile.New(cfg.Path)
	}

	opts := cfg.Options()
	if c.Bool("metrics") {
		col := metrics.New()
		e.reg = prometheus.NewRegistry()
		if err := col.Register(e.reg); err != nil {
			return err
		}
		opts = append(opts, accountkey.OptObserver(col))
	}

	store, err := accountkey.New(settings, opts...)
	if err != nil {
		return err
	}

	if cfg.BondKeeping {
		e.bonds = bond.NewBondManager(cfg.BondsFile)
		e.bonds.OnRemove(store.Delete)
		store.RegisterBondRequester(e.bonds)
	}

	e.cfg = cfg
	e.store = store
	e.mgr = manager.New(settings, store)

	return e.mgr.Init()
}

func teardown(c *cli.Context) error {
	if e.reg != nil {
		if err := dumpMetrics(os.Stdout, e.reg); err != nil {
			return err
		}
	}
	if e.mgr != nil {
		if err := e.mgr.Uninit(); err != nil {
			return err
		}
	}
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func parseKey(c *cli.Context, arg int) (fpstorage.AccountKey, error) {
	var k fpstorage.AccountKey

	b, err := hex.DecodeString(c.Args().Get(arg))
	if err != nil {
		return k, errors.Wrap(err, "account key")
	}
	if len(b) != fpstorage.AccountKeyLen {
		return k, errors.Errorf("account key must be %d bytes, got %d", fpstorage.AccountKeyLen, len(b))
	}
	copy(k[:], b)

	return k, nil
}

func listKeys(c *cli.Context) error {
	buf := make([]fpstorage.AccountKey, e.store.Capacity())
	n, err := e.store.Get(buf)
	if err != nil {
		return err
	}

	order, err := e.store.Order()
	if err != nil {
		return err
	}

	fmt.Printf("%d/%d account keys, most recent first: %v\n", n, e.store.Capacity(), order)
	for i, k := range buf[:n] {
		id, _ := e.store.KeyID(k)
		fmt.Printf("  slot %d  id %2d  %x\n", i, id, k[:])
	}

	return nil
}

func saveKey(c *cli.Context) error {
	k, err := parseKey(c, 0)
	if err != nil {
		return err
	}

	return e.store.Save(k, nil)
}

func findKey(c *cli.Context) error {
	k, err := parseKey(c, 0)
	if err != nil {
		return err
	}

	_, err = e.store.Find(func(cand fpstorage.AccountKey) bool { return cand == k })
	if err != nil {
		return err
	}

	id, _ := e.store.KeyID(k)
	fmt.Printf("found, id %d\n", id)

	return nil
}

func listBonds(c *cli.Context) error {
	bonds, err := e.store.Bonds()
	if err != nil {
		return err
	}

	for _, b := range bonds {
		fmt.Printf("  slot %d  %s  key id %d  bonded %v\n", b.Index, b.Addr, b.AccountKeyID, b.Bonded)
	}

	return nil
}

// pair replays what the connection layer does during a procedure: track the
// connection, bond, then write the key if the peer is new to it.
func pair(c *cli.Context) error {
	if e.bonds == nil {
		return errors.New("bond keeping is disabled")
	}

	addr, err := fpstorage.ParseAddr(c.Args().Get(0))
	if err != nil {
		return err
	}
	k, err := parseKey(c, 1)
	if err != nil {
		return err
	}

	conn := addr.String()

	var known *fpstorage.AccountKey
	if _, err := e.store.KeyID(k); err == nil {
		known = &k
	}

	if err := e.store.ConnCreate(conn, addr, known); err != nil {
		return err
	}

	err = func() error {
		if err := e.bonds.Add(addr, nil); err != nil {
			return err
		}
		if err := e.store.ConnConfirm(conn, addr); err != nil {
			return err
		}
		if known == nil {
			return e.store.Save(k, conn)
		}
		return nil
	}()
	if err != nil {
		if cerr := e.store.ConnCancel(conn); cerr != nil {
			fpstorage.GetLogger().Errorf("failed to cancel procedure: %v", cerr)
		}
		return err
	}

	return nil
}

func unpair(c *cli.Context) error {
	if e.bonds == nil {
		return errors.New("bond keeping is disabled")
	}

	addr, err := fpstorage.ParseAddr(c.Args().Get(0))
	if err != nil {
		return err
	}

	return e.bonds.BondRemove(addr)
}

func reset(c *cli.Context) error {
	return e.mgr.FactoryReset()
}
