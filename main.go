package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perpbot/internal/api"
	"perpbot/internal/bot"
	"perpbot/internal/events"
	"perpbot/internal/gateway"
	"perpbot/internal/ledger"
	"perpbot/internal/market"
	"perpbot/internal/monitor"
	"perpbot/internal/risk"
	sig "perpbot/internal/signal"
	"perpbot/pkg/cache"
	"perpbot/pkg/config"
	"perpbot/pkg/db"
	"perpbot/pkg/ident"
)

var buildVersion = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logTail := monitor.NewLogBuffer(500)
	log.SetOutput(io.MultiWriter(os.Stderr, logTail))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}
	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		log.Fatalf("[main] params: %v", err)
	}

	instanceID := ident.InstanceID()
	log.Printf("[main] perpbot %s starting: asset=%s paper=%v instance=%s", buildVersion, cfg.Asset, cfg.PaperTrading, instanceID)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("[main] open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("[main] migrations: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	engine, err := risk.NewEngine(params.Risk)
	if err != nil {
		log.Fatalf("[main] risk engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market data: mock walk for local development, Binance otherwise.
	var source market.Source
	if cfg.UseMockFeed {
		mock := market.NewMockSource(100, 0.5)
		mock.StartTicker(ctx, bus, cfg.Asset, time.Second)
		source = mock
		log.Printf("[main] using mock price feed")
	} else {
		source = market.NewBinanceSource(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceTestnet)
		if cfg.EnablePriceStream {
			prices := cache.NewPriceCache()
			market.NewStream(bus, cfg.Asset, cfg.CandleInterval, cfg.BinanceTestnet).
				WithPriceCache(prices).
				Start(ctx)
			source = market.NewCachedSource(source, prices, 10*time.Second)
			log.Printf("[main] kline stream enabled for %s@%s", cfg.Asset, cfg.CandleInterval)
		}
	}

	var gw gateway.ExchangeGateway
	if cfg.PaperTrading {
		limits := gateway.SymbolLimits{MinOrderSize: 0.001, StepSize: 0.001}
		gw = gateway.NewPaperGateway(cfg.PaperInitialBalance, limits, source.Price)
		log.Printf("[main] paper gateway: balance=%.2f", cfg.PaperInitialBalance)
	} else {
		gw = gateway.NewFuturesGateway(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceTestnet)
		log.Printf("[main] binance futures gateway: testnet=%v", cfg.BinanceTestnet)
	}

	book := ledger.New(gw, params.LedgerConfig())

	generator := sig.NewTechnical(params.Signal)

	// Intervals were validated when the params file loaded.
	checkInterval, _ := params.PositionCheckInterval()
	analysisInterval, _ := params.AnalysisInterval()

	orchestrator, err := bot.New(bot.Config{
		Asset:                 cfg.Asset,
		CandleInterval:        cfg.CandleInterval,
		CandleLimit:           cfg.CandleLimit,
		PositionCheckInterval: checkInterval,
		AnalysisInterval:      analysisInterval,
		InstanceID:            instanceID,
	}, bot.Deps{
		Engine:  engine,
		Ledger:  book,
		Gateway: gw,
		Market:  source,
		Signals: generator,
		Bus:     bus,
		Store:   database,
		Metrics: metrics,
	})
	if err != nil {
		log.Fatalf("[main] orchestrator: %v", err)
	}

	venue := "binance-futures"
	if cfg.PaperTrading {
		venue = "paper"
	}
	server := api.NewServer(
		orchestrator,
		book,
		engine,
		gw,
		database,
		metrics,
		logTail,
		bus,
		api.SystemMeta{
			Venue:      venue,
			Asset:      cfg.Asset,
			Paper:      cfg.PaperTrading,
			Version:    buildVersion,
			InstanceID: instanceID,
		},
		cfg.JWTSecret,
		cfg.APIPasswordHash,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("[main] api server: %v", err)
		}
	}()
	log.Printf("[main] api listening on :%s", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] shutting down")
	orchestrator.Stop()
	cancel()
}
