package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/mqy/minispace/analysis"
	"github.com/mqy/minispace/auth"
	"github.com/mqy/minispace/cluster"
	"github.com/mqy/minispace/config"
	"github.com/mqy/minispace/media"
	"github.com/mqy/minispace/space"
	"github.com/mqy/minispace/store"
	"github.com/mqy/minispace/ws"
)

const (
	storeMysql = "mysql"
	storeBolt  = "bolt"
)

var (
	flagAddr    = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile = flag.String("pid-file", "minispace.pid", "pid file")
	flagConfig  = flag.String("config", "", "optional yaml config file, explicitly set flags take precedence")

	flagStore    = flag.String("store", storeMysql, "space store: mysql or bolt")
	flagMysqlDsn = flag.String("mysql-dsn", "root:@tcp(127.0.0.1:3306)/minispace?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci", "mysql server dsn")
	flagBoltPath = flag.String("bolt-path", "minispace.db", "bolt file, standalone node only")

	flagKafkaBrokers = flag.String("kafka-brokers", "", "comma separated kafka brokers, empty disables fan-out between nodes")
	flagKafkaTopic   = flag.String("kafka-topic", "minispace-events", "kafka topic of space events")
	flagSessionQuota = flag.Uint("session-quota", 5, "per user session quota of the node, allowed value in [0, 10], 0 means unlimited")

	flagAnalysisAddr  = flag.String("analysis-addr", "", "analysis service address, ip:port; empty uses built-in rules")
	flagServeAnalysis = flag.Bool("serve-analysis", false, "serve the built-in rule analysis over gRPC on --addr")

	flagMediaBaseURL = flag.String("media-base-url", "", "base url media paths are resolved against")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagPprofKinds     = flag.String("pprof-kinds", "cpu,heap,mutex,block", "profiles started by SIGUSR2, comma separated, or all")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

// spaceStore is what main needs from a store implementation.
type spaceStore interface {
	store.ISpaceStore
	Close() error
}

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	conf, err := loadConfig()
	if err != nil {
		return errorf("config: %v", err)
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()
	pprofKinds, _ := parseProfileKinds(*flagPprofKinds)

	st, err := openStore()
	if err != nil {
		return errorf("store: %v", err)
	}
	defer func() {
		_ = st.Close()
	}()

	analyzer, closeAnalyzer, err := newAnalyzer(conf.Space.SuggestTimeout)
	if err != nil {
		return errorf("analysis: %v", err)
	}
	defer closeAnalyzer()

	glog.Info("minispace server is starting")

	registry := space.NewRegistry(conf.SpaceConfig(), st, analyzer)
	resolver := media.NewResolver(conf.Media.BaseURL, conf.Media.Placeholder)
	hub := ws.NewHub(newAuthClient(), registry, resolver, &conf.Ws)

	mux := http.DefaultServeMux
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)

	var grpcServer *grpc.Server
	if *flagServeAnalysis {
		grpcServer = analysis.NewServer(analysis.NewRuleAnalyzer())
	}

	var kafkaBrokers []string
	if *flagKafkaBrokers != "" {
		kafkaBrokers = strings.Split(*flagKafkaBrokers, ",")
	}

	node := cluster.NewStandalone(&cluster.ClusterCfg{
		Pid:        pid,
		Addr:       *flagAddr,
		Hub:        hub,
		Mux:        mux,
		GrpcServer: grpcServer,
		Registry:   registry,

		KafkaBrokers: kafkaBrokers,
		KafkaTopic:   *flagKafkaTopic,

		EventPayloadMaxBytes: conf.Ws.EventPayloadMaxBytes,
		EventMaxAge:          conf.Node.EventMaxAge,

		SessionQuota:  conf.Node.SessionQuota,
		SweepInterval: conf.Space.SweepInterval,
		SpaceIdleTTL:  conf.Space.IdleTTL,
	})

	stopNotifyChan := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go node.Run(ctx, stopNotifyChan)

	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			if fn, err := dumpGoroutines(pprofDir); err != nil {
				glog.Errorf("dump goroutines error: %v", err)
			} else {
				glog.Infof("goroutines dumped to %s", fn)
			}
		case syscall.SIGUSR2:
			if prof == nil {
				prof = StartProfiler(pprofDir, pprofKinds)
			} else {
				prof.Stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("minispace server is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s` stopping", sig.String())
			go func(prof *Profiler) {
				if prof != nil {
					prof.Stop()
				}
				cancel()
				<-stopNotifyChan
				close(stopNotifyChan)
				signal.Stop(sigCh)
				close(sigCh)
			}(prof)
		}
	}

	glog.Info("minispace server exited")
	return 0
}

func newAuthClient() auth.Client {
	// TODO: hook into production auth API.
	return &auth.MockClient{}
}

// loadConfig loads --config over the defaults, then applies explicitly set flags.
func loadConfig() (*config.Config, error) {
	conf := config.Default()
	if *flagConfig != "" {
		var err error
		if conf, err = config.Load(*flagConfig); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "session-quota":
			conf.Node.SessionQuota = int32(*flagSessionQuota)
		case "media-base-url":
			conf.Media.BaseURL = *flagMediaBaseURL
		}
	})

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func openStore() (spaceStore, error) {
	switch *flagStore {
	case storeBolt:
		st, err := store.OpenBoltStore(*flagBoltPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		db, err := sql.Open("mysql", *flagMysqlDsn)
		if err != nil {
			return nil, fmt.Errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
		}

		db.SetConnMaxLifetime(time.Minute * 3)
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(1)

		return store.NewMysqlStore(db), nil
	}
}

// newAnalyzer dials --analysis-addr, or falls back to the built-in rules.
func newAnalyzer(timeout time.Duration) (analysis.IAnalyzer, func(), error) {
	if *flagAnalysisAddr == "" {
		return analysis.NewRuleAnalyzer(), func() {}, nil
	}
	a, err := analysis.Dial(*flagAnalysisAddr, timeout)
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		_ = a.Close()
	}, nil
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if _, err := parseProfileKinds(*flagPprofKinds); err != nil {
		return errorf("--pprof-kinds: %v", err)
	}

	switch *flagStore {
	case storeMysql:
		if *flagMysqlDsn == "" {
			return errorf("--mysql-dsn is required.")
		}
	case storeBolt:
		if *flagBoltPath == "" {
			return errorf("--bolt-path is required.")
		}
		if *flagKafkaBrokers != "" {
			return errorf("--store=bolt can't be shared between nodes, unset --kafka-brokers")
		}
	default:
		return errorf("--store: expect `%s` or `%s`", storeMysql, storeBolt)
	}

	if *flagKafkaBrokers != "" && *flagKafkaTopic == "" {
		return errorf("--kafka-topic is required.")
	}

	if *flagSessionQuota > 10 {
		return errorf("--session-quota MUST in range [0, 10]")
	}

	if *flagAnalysisAddr != "" {
		if _, _, err := net.SplitHostPort(*flagAnalysisAddr); err != nil {
			return errorf("--analysis-addr: %v", err)
		}
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// Ok, see, if we have a stale lockfile here
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			} else {
				glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
