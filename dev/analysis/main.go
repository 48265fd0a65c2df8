package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/mqy/minispace/analysis"
)

// A standalone analysis service serving the built-in rules, for `--analysis-addr`.

var flagAddr = flag.String("addr", "127.0.0.1:8100", "listen address, ip:port")

func main() {
	flag.Parse()
	defer glog.Flush()

	lis, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		glog.Fatalf("listen `%s` error: %v", *flagAddr, err)
	}

	s := analysis.NewServer(analysis.NewRuleAnalyzer())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		glog.Infof("received signal `%s` stopping", sig)
		s.GracefulStop()
	}()

	glog.Infof("analysis service listening on %s", *flagAddr)
	if err := s.Serve(lis); err != nil {
		glog.Errorf("serve error: %v", err)
	}
}
