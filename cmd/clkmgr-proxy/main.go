/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/clkmgr/internal/ptpsource"
	"github.com/facebook/clkmgr/internal/syssource"
	"github.com/facebook/clkmgr/proxy"
	"github.com/facebook/clkmgr/proxy/config"
	"github.com/facebook/clkmgr/proxy/monitor"
	"github.com/facebook/clkmgr/transport"
)

func main() {
	var configPath, monitoringAddr, logLevel string
	flag.StringVar(&configPath, "config", "/etc/clkmgr/proxy.yaml", "Path to the proxy's YAML configuration")
	flag.StringVar(&monitoringAddr, "monitoringaddr", ":8889", "host:port to serve /metrics on")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", logLevel)
	}

	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.EvalAndValidate(); err != nil {
		log.Fatal(err)
	}
	transport.Dir = cfg.QueueDir

	srv, err := proxy.NewServer(cfg, newPTPSource(cfg), newSysSource())
	if err != nil {
		log.Fatalf("building proxy server: %v", err)
	}

	startMetrics(monitoringAddr, srv)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("received %s, shutting down", sig)
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Errorf("proxy server exited: %v", err)
	}
	srv.Stop()
	if err := transport.Finalize(); err != nil {
		log.Warnf("finalizing transport: %v", err)
	}
}

// newPTPSource builds the per-time-base constructor proxy.NewServer uses
// to dial each configured ptp4l management socket.
func newPTPSource(cfg *config.Config) func(config.TimeBase) (monitor.PTPSource, error) {
	return func(tb config.TimeBase) (monitor.PTPSource, error) {
		conn, err := ptpsource.Dial(tb.PTP4lSocket)
		if err != nil {
			return nil, err
		}
		interval := tb.PollInterval
		if interval <= 0 {
			interval = cfg.DefaultPollInterval
		}
		return ptpsource.New(conn, interval), nil
	}
}

// newSysSource builds the per-time-base constructor proxy.NewServer uses
// to dial each configured chronyd control address.
func newSysSource() func(config.TimeBase) (monitor.SysSource, error) {
	return func(tb config.TimeBase) (monitor.SysSource, error) {
		conn, err := syssource.Dial(tb.ChronydAddress)
		if err != nil {
			return nil, err
		}
		return syssource.New(conn), nil
	}
}

// startMetrics registers the proxy-level gauges and serves them on
// monitoringAddr, the same registry-plus-promhttp.Handler wiring
// ptp/sptp/stats.PrometheusExporter uses.
func startMetrics(monitoringAddr string, srv *proxy.Server) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "clkmgr_proxy_sessions",
			Help: "Number of live client sessions.",
		},
		func() float64 { return float64(srv.SessionCount()) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "clkmgr_proxy_session_churn_total",
			Help: "Number of sessions allocated or removed over the proxy's lifetime.",
		},
		func() float64 { return float64(srv.SessionChurn()) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "clkmgr_proxy_notifications_sent_total",
			Help: "Number of Notify messages successfully delivered to a subscriber.",
		},
		func() float64 { return float64(srv.NotificationsSent()) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "clkmgr_proxy_notify_send_failures_total",
			Help: "Number of Notify sends that failed because the session was dead.",
		},
		func() float64 { return float64(srv.NotifySendFailures()) },
	))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(monitoringAddr, mux); err != nil {
			log.Warnf("metrics server on %s exited: %v", monitoringAddr, err)
		}
	}()
}
