package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Baptiste-Yucca/gainorloss/config"
	"github.com/Baptiste-Yucca/gainorloss/internal/clients"
	"github.com/Baptiste-Yucca/gainorloss/internal/reconcile"
	"github.com/Baptiste-Yucca/gainorloss/internal/storage/txcache"
	"github.com/Baptiste-Yucca/gainorloss/internal/tracker"
	"github.com/Baptiste-Yucca/gainorloss/internal/web"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	conf, err := config.Get()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	cache, err := txcache.Open(conf.CachePath)
	if err != nil {
		logger.Fatal("failed to open transaction cache", zap.Error(err))
	}
	defer cache.Close()

	primary := clients.NewScanClient(conf.PrimaryScan.Name, conf.PrimaryScan.BaseURL, conf.PrimaryScan.APIKey, logger)
	sources := []reconcile.TransferSource{primary}
	if conf.SecondaryScan.BaseURL != "" {
		sources = append(sources, clients.NewScanClient(conf.SecondaryScan.Name, conf.SecondaryScan.BaseURL, conf.SecondaryScan.APIKey, logger))
	}
	subgraph := clients.NewSubgraphClient(conf.SubgraphURL, logger)

	engine := tracker.New(
		logger,
		conf.Reserves,
		subgraph,
		subgraph,
		primary,
		cache,
		reconcile.New(logger, sources...),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	server := web.NewServer(conf.ListenAddr, engine, logger)
	g.Go(func() error { return server.Start(gctx) })

	logger.Info("started",
		zap.String("listen_addr", conf.ListenAddr),
		zap.Int("reserves", len(conf.Reserves)))

	if err := g.Wait(); err != nil {
		logger.Error(err.Error())
	}
}
