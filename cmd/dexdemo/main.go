package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ivynet/dexcore/params"
	"github.com/ivynet/dexcore/pkg/dex"
	"github.com/ivynet/dexcore/pkg/dex/engine"
	"github.com/ivynet/dexcore/pkg/dex/metrics"
	"github.com/ivynet/dexcore/pkg/dex/orderbook"
	"github.com/ivynet/dexcore/pkg/dex/settle"
	"github.com/ivynet/dexcore/pkg/dex/wallet"
	"github.com/ivynet/dexcore/pkg/util"
)

// flatAccountant is a stand-in for the external fee accountant: it adds
// fixed iGas/iTax components to every fee payment.
type flatAccountant struct{}

func (flatAccountant) RecordFeePayment(pair string, fees dex.Fees) (dex.Fees, error) {
	fees.IGas = decimal.NewFromFloat(0.001)
	fees.ITax = decimal.NewFromFloat(0.002)
	return fees, nil
}

func main() {
	cfg := params.LoadFromEnv("")

	var (
		logger *zap.Logger
		err    error
	)
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		logger, err = util.NewLoggerWithFile(logFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("starting", zap.Int64("fee_bps", cfg.Fees.TradeFeeBps), zap.Duration("ttl", cfg.Settlement.ProvisionalTTL))

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
	}

	clock := util.RealClock{}

	w := wallet.NewMemory()
	seed := decimal.NewFromInt(1_000_000)
	for _, u := range []string{"alice", "bob", settle.EscrowUser} {
		_ = w.Deposit(u, "APPLE", seed)
		_ = w.Deposit(u, "SOL", seed)
	}

	books := orderbook.NewRegistry(clock, logger)
	if _, err := books.CreateBook("APPLE/SOL"); err != nil {
		log.Fatalf("create book: %v", err)
	}

	settler := settle.NewManager(w, flatAccountant{}, cfg.Settlement.ProvisionalTTL, clock, logger)
	go settler.Run(cfg.Settlement.SweepInterval)
	defer settler.Stop()

	eng := engine.New(books, settler, settle.NewCalculator(cfg.Fees.TradeFeeBps), cfg.Matching.AllowMarketRest, logger)

	now := clock.Now()
	orders := []*dex.Order{
		{ID: "s1", UserID: "alice", Pair: "APPLE/SOL", Side: dex.Sell, Type: dex.Limit,
			Price: decimal.NewFromInt(10), Amount: decimal.NewFromInt(5), CreatedAt: now},
		{ID: "s2", UserID: "alice", Pair: "APPLE/SOL", Side: dex.Sell, Type: dex.Limit,
			Price: decimal.NewFromInt(11), Amount: decimal.NewFromInt(5), CreatedAt: now},
		{ID: "b1", UserID: "bob", Pair: "APPLE/SOL", Side: dex.Buy, Type: dex.Market,
			Amount: decimal.NewFromInt(10), CreatedAt: now.Add(time.Millisecond)},
	}
	for _, o := range orders {
		res, err := eng.SubmitOrder(o)
		if err != nil {
			logger.Warn("submit_failed", zap.String("order", o.ID), zap.Error(err))
			continue
		}
		logger.Info("submitted",
			zap.String("order", o.ID),
			zap.Bool("matched", res.Matched),
			zap.String("filled", res.FilledAmount.String()),
			zap.String("vwap", res.ExecutionPrice.String()))
	}

	view, _ := eng.BookSnapshot("APPLE/SOL")
	logger.Info("book",
		zap.Int("bid_levels", len(view.Bids)),
		zap.Int("ask_levels", len(view.Asks)),
		zap.String("last", view.LastPrice.String()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}
