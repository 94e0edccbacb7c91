package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/metrics"
	"cdpproxy/internal/replay"
	"cdpproxy/internal/rules"
	"cdpproxy/internal/session"
	"cdpproxy/internal/storage"
	"cdpproxy/pkg/api"
	"cdpproxy/pkg/model"
)

var bindOpts struct {
	proxy    string
	allPages bool
	noRoutes bool
	metrics  bool
}

var bindCmd = &cobra.Command{
	Use:   "bind [target-id...]",
	Short: "Replay every request of the given pages through a proxy until interrupted",
	Long: `Attach to one or more DevTools page targets and replay each of their requests
through the proxy. Routing rules from the config file pick a proxy per request;
without rules every request uses --proxy (or proxy.default).

With no target id the first page target is used.`,
	RunE: runBind,
}

func init() {
	bindCmd.Flags().StringVarP(&bindOpts.proxy, "proxy", "p", "", "proxy URL, e.g. http://127.0.0.1:8080 or socks5://127.0.0.1:1080")
	bindCmd.Flags().BoolVar(&bindOpts.allPages, "all-pages", false, "bind every page target")
	bindCmd.Flags().BoolVar(&bindOpts.noRoutes, "no-routes", false, "ignore routing rules from the config file")
	bindCmd.Flags().BoolVar(&bindOpts.metrics, "metrics", false, "serve Prometheus metrics on metrics.addr")
}

func runBind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	proxy := bindOpts.proxy
	if proxy == "" {
		proxy = cfg.Proxy.Default
	}
	var routes *rules.Engine
	if len(cfg.Routes) > 0 && !bindOpts.noRoutes {
		routes = rules.New(cfg.Routes)
	}
	if proxy == "" && routes == nil {
		return errors.New("no proxy: pass --proxy, set proxy.default or configure routes")
	}

	conn, err := newConnector(cfg, log)
	if err != nil {
		return err
	}
	defer conn.close()
	mgr := session.NewManager(conn.attach, log)
	defer mgr.Close()

	var recorders replay.MultiRecorder
	if cfg.Sqlite.Enabled {
		db, err := storage.Open(cfg.StorageOptions(), log)
		if err != nil {
			return err
		}
		defer storage.Close(db)
		recorders = append(recorders, storage.NewHistory(db, log))
	}
	if cfg.Metrics.Enabled || bindOpts.metrics {
		m := metrics.New()
		recorders = append(recorders, m)
		stop := serveMetrics(cfg.Metrics.Addr, m)
		defer stop()
	}
	svc := api.NewService(log, cfg.ReplayOptions(), replay.WithRecorder(recorders))

	ids, err := bindTargets(ctx, conn, args)
	if err != nil {
		return err
	}
	var bound []*session.Session
	for _, id := range ids {
		s, err := mgr.Attach(ctx, id)
		if err != nil {
			return err
		}
		if routes != nil {
			err = svc.BindRoutes(ctx, s.Page, routes, proxy)
		} else {
			err = svc.Apply(ctx, api.ForPage(s.Page), api.Proxy(proxy))
		}
		if err != nil {
			return err
		}
		recordBinding(mgr, s.Page.Info().ID, proxy, routes)
		bound = append(bound, s)
	}
	log.Info("代理已生效，按 Ctrl+C 退出", "pages", len(bound))

	<-ctx.Done()

	unbindCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range bound {
		if err := svc.Apply(unbindCtx, api.ForPage(s.Page), api.Proxy("")); err != nil {
			log.Warn("解除代理失败", "target", string(s.Page.Info().ID), "error", err)
		}
	}
	return nil
}

// recordBinding 记录页面的绑定信息，失败只记日志
func recordBinding(mgr *session.Manager, id model.TargetID, proxy string, routes *rules.Engine) {
	n := 0
	if routes != nil {
		n = routes.Len()
	}
	if err := mgr.SetBinding(id, agent.Redact(proxy), n); err != nil {
		log.Warn("记录绑定失败", "target", string(id), "error", err)
	}
}

func bindTargets(ctx context.Context, conn *connector, args []string) ([]model.TargetID, error) {
	if bindOpts.allPages {
		targets, err := conn.targets(ctx)
		if err != nil {
			return nil, err
		}
		var ids []model.TargetID
		for _, t := range targets {
			if t.IsPage() {
				ids = append(ids, t.ID)
			}
		}
		if len(ids) == 0 {
			return nil, errors.New("no page targets")
		}
		return ids, nil
	}
	if len(args) == 0 {
		return []model.TargetID{""}, nil
	}
	ids := make([]model.TargetID, 0, len(args))
	for _, a := range args {
		ids = append(ids, model.TargetID(a))
	}
	return ids, nil
}

func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err, "指标服务退出", "addr", addr)
		}
	}()
	log.Info("指标服务已启动", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
