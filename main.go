package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/hopwatch/check"
	"github.com/thetooth/hopwatch/collect"
	"github.com/thetooth/hopwatch/config"
	"github.com/thetooth/hopwatch/decision"
	"github.com/thetooth/hopwatch/geo"
	"github.com/thetooth/hopwatch/monitor"
	"github.com/thetooth/hopwatch/store"
	"github.com/thetooth/hopwatch/util"
)

const usage = `hopwatch - find the network segment behind a slow or unreachable site

Usage:
  hopwatch [--config hopwatch.yaml] [--log-level info] <command>

Commands:
  collect {popular|frequent|all} [--ping]   measure a site list and store the results
  traceroute <site...>                      measure sites into the frequent dataset
  analyze <site> [--fast-run] [--json]      diagnose connectivity to site
  monitor [--every 30m]                     collect both lists periodically

Options:
`

var (
	path     string
	logLevel string
)

// app holds what every command needs once the configuration is loaded
type app struct {
	cfg     *config.Config
	store   *store.CSV
	prober  *check.ICMPProber
	popular []string
	sites   []string
}

func main() {
	flag.StringVar(&path, "config", "hopwatch.yaml", "Path to configuration, defaults apply when missing")
	flag.StringVar(&logLevel, "log-level", "", "Log level, overrides log_level from the configuration")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if cmd := flag.Arg(0); cmd == "help" {
		flag.CommandLine.SetOutput(os.Stdout)
		flag.Usage()
		return
	}

	// Attempt configuration file load
	cfg, err := config.Load(path)
	if err != nil {
		logrus.Fatal("Unable to load configuration: ", err)
	}
	setupLogging(cfg)

	a, err := bootstrap(cfg)
	if err != nil {
		logrus.Fatal(err)
	}

	// Control signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "collect":
		err = a.handleCollect(ctx, args)
	case "traceroute":
		err = a.handleTraceroute(ctx, args)
	case "analyze":
		err = a.handleAnalyze(ctx, args)
	case "monitor":
		err = a.handleMonitor(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		stop()
		logrus.Fatal(err)
	}
}

func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	name := cfg.LogLevel
	if logLevel != "" {
		name = logLevel
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logrus.Fatal("Invalid log level: ", err)
	}
	logrus.SetLevel(level)
}

// bootstrap checks the site lists and prepares the data directory
func bootstrap(cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}

	for _, list := range []struct {
		path  string
		sites *[]string
	}{
		{cfg.PopularSites, &a.popular},
		{cfg.Sites, &a.sites},
	} {
		*list.sites, err = config.LoadSites(list.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%v does not exist and is needed", list.path)
		}
		if err != nil {
			return nil, err
		}
	}

	if a.store, err = store.OpenCSV(cfg.DataDir); err != nil {
		return nil, err
	}

	var source, source6 string
	if cfg.Interface != "" {
		if source, source6, err = bindSources(cfg.Interface); err != nil {
			return nil, fmt.Errorf("binding probes to %v: %w", cfg.Interface, err)
		}
		logrus.Debug("[ BIND ] interface: ", cfg.Interface, " source: ", source, " source6: ", source6)
	}
	a.prober = check.NewICMPProber(cfg.IsPrivileged(), source, source6, cfg.ProbeTimeout.Duration)
	a.prober.Tracer.MaxTTL = cfg.MaxTTL
	a.prober.Tracer.Interval = cfg.ProbeInterval.Duration
	a.prober.Pinger.Interval = cfg.ProbeInterval.Duration

	return a, nil
}

// bindSources finds an address of each family on iface. One missing family
// is fine, destinations of that family are left to the kernel.
func bindSources(iface string) (source, source6 string, err error) {
	source, err = util.BindIface(iface, false)
	if err != nil && !errors.Is(err, util.ErrNoAddress) {
		return
	}
	source6, err6 := util.BindIface(iface, true)
	if err != nil && err6 != nil {
		return "", "", err
	}
	return source, source6, nil
}

func (a *app) collector(mode collect.Mode) *collect.Collector {
	return &collect.Collector{
		Prober:   a.prober,
		Resolver: net.DefaultResolver,
		Store:    a.store,
		Count:    a.cfg.ProbeCount,
		Mode:     mode,
		Parallel: a.cfg.Parallel,
	}
}

func (a *app) handleCollect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	ping := fs.Bool("ping", false, "store a single direct ping per site instead of a trace")
	positional := parseArgs(fs, args)
	if len(positional) != 1 {
		return errors.New("usage: hopwatch collect {popular|frequent|all} [--ping]")
	}

	mode := collect.ModeTrace
	if *ping {
		mode = collect.ModePing
	}
	c := a.collector(mode)

	datasets := []store.Partition{store.Popular, store.Frequent}
	if positional[0] != "all" {
		p, err := store.ParsePartition(positional[0])
		if err != nil || (p != store.Popular && p != store.Frequent) {
			return fmt.Errorf("unknown dataset %q, expected popular, frequent or all", positional[0])
		}
		datasets = []store.Partition{p}
	}

	for _, p := range datasets {
		targets := a.sites
		if p == store.Popular {
			targets = a.popular
		}
		if err := c.Run(ctx, p, targets); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) handleTraceroute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("traceroute", flag.ExitOnError)
	sites := parseArgs(fs, args)
	if len(sites) == 0 {
		return errors.New("usage: hopwatch traceroute <site...>")
	}
	return a.collector(collect.ModeTrace).Run(ctx, store.Frequent, sites)
}

func (a *app) handleAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	fastRun := fs.Bool("fast-run", false, "stop at the first conclusive finding")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	positional := parseArgs(fs, args)
	if len(positional) != 1 {
		return errors.New("usage: hopwatch analyze <site> [--fast-run] [--json]")
	}
	a.cfg.FastRun = a.cfg.FastRun || *fastRun

	analyzer := &decision.Analyzer{
		Cfg:          a.cfg,
		Prober:       a.prober,
		Resolver:     net.DefaultResolver,
		Store:        a.store,
		PopularSites: a.popular,
		Sites:        a.sites,
	}
	if asn, err := geo.OpenASN(a.cfg.GeoIPASN); err == nil {
		defer asn.Close()
		analyzer.Annotator = asn
	} else {
		logrus.Debug("[ GEOIP ] ASN annotation disabled: ", err)
	}

	start := time.Now()
	report, err := analyzer.Analyze(ctx, positional[0])
	if errors.Is(err, decision.ErrNoGatewayHistory) {
		return fmt.Errorf("%w (hopwatch collect popular)", err)
	}
	if err != nil {
		return err
	}
	logrus.Debug("[ ANALYZE ] done in ", time.Since(start).Round(time.Millisecond))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(os.Stdout, report)
	return nil
}

func (a *app) handleMonitor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	every := fs.Duration("every", a.cfg.CollectInterval.Duration, "collection interval")
	if positional := parseArgs(fs, args); len(positional) != 0 {
		return errors.New("usage: hopwatch monitor [--every 30m]")
	}

	return monitor.Run(ctx, monitor.Options{
		Collector:    a.collector(collect.ModeTrace),
		PopularSites: a.cfg.PopularSites,
		Sites:        a.cfg.Sites,
		Every:        *every,
	})
}

// parseArgs parses flags placed anywhere among the positional arguments
func parseArgs(fs *flag.FlagSet, args []string) (positional []string) {
	for {
		_ = fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}
