package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/speedrun-hq/bridge-harness/pkg/circuitbreaker"
	"github.com/speedrun-hq/bridge-harness/pkg/config"
	"github.com/speedrun-hq/bridge-harness/pkg/contracts"
	"github.com/speedrun-hq/bridge-harness/pkg/events"
	"github.com/speedrun-hq/bridge-harness/pkg/health"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/poller"
	"github.com/speedrun-hq/bridge-harness/pkg/results"
	"github.com/speedrun-hq/bridge-harness/pkg/retry"
	"github.com/speedrun-hq/bridge-harness/pkg/scenario"
	"github.com/speedrun-hq/bridge-harness/pkg/units"
)

func main() {
	var (
		opts   runOptions
		decode string
	)
	pflag.StringSliceVarP(&opts.patterns, "scenario", "s", nil, "scenario names or name prefixes to run (default: all)")
	pflag.BoolVar(&opts.list, "list", false, "print the scenario catalog and exit")
	pflag.BoolVar(&opts.serve, "serve", false, "keep the health server running after the run until interrupted")
	pflag.StringVar(&opts.runID, "run-id", "", "identifier stored with every result (default: start timestamp)")
	pflag.Int64Var(&opts.replayFrom, "replay-from", -1, "log contract events from this block before running (default: live events only)")
	pflag.StringVar(&decode, "decode-retry", "", "print a 0x-prefixed revertReceive payload as JSON and exit")
	pflag.Parse()

	if decode != "" {
		os.Exit(decodeRetry(decode))
	}

	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if opts.runID == "" {
		opts.runID = time.Now().UTC().Format("20060102T150405Z")
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	code := run(ctx, cfg, opts)
	os.Exit(code)
}

type runOptions struct {
	patterns   []string
	list       bool
	serve      bool
	runID      string
	replayFrom int64
}

// decodeRetry prints a pending retry payload the way the harness reads it.
func decodeRetry(payload string) int {
	raw, err := retry.ParsePayload(payload)
	if err != nil {
		log.Printf("parse payload: %v", err)
		return 1
	}
	rec, ok, err := retry.DecodePending(raw)
	if err != nil {
		log.Printf("decode payload: %v", err)
		return 1
	}
	if !ok {
		fmt.Println("nothing pending")
		return 0
	}
	out, err := json.MarshalIndent(struct {
		Kind   string       `json:"kind"`
		Record retry.Record `json:"record"`
	}{Kind: rec.Kind().String(), Record: rec}, "", "  ")
	if err != nil {
		log.Printf("encode record: %v", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) int {
	lg := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	client := ledger.NewEthClient(ledger.EthClientConfig{
		Confirmations: cfg.Confirmations,
		Logger:        lg,
	})

	var (
		ends        []scenario.ChannelEnd
		candidates  []units.Pool
		chainIDs    []int
		tokenChains []int
	)
	poolsByChain := make(map[int][]uint64)
	registry := events.NewRegistry(lg)
	defer registry.Close()
	if err := registry.On("", "", events.LogHandler(lg)); err != nil {
		lg.Error("register event handler: %v", err)
		return 1
	}

	for _, cc := range cfg.Chains {
		chain, err := client.Dial(ctx, cc.Name, cc.RPCURL, cc.PrivateKey, cc.Deployment)
		if err != nil {
			lg.Error("%v", err)
			return 1
		}
		chainIDs = append(chainIDs, chain.ID)
		poolsByChain[chain.ID] = cc.Pools
		for _, id := range cc.Pools {
			candidates = append(candidates, units.Pool{ChainID: chain.ID, PoolID: id})
		}
		for _, ch := range cc.Channels {
			ends = append(ends, scenario.ChannelEnd{
				ChainID:     chain.ID,
				PeerChainID: ch.PeerChainID,
				Port:        ch.Port,
				Channel:     ch.Channel,
			})
		}
		if _, ok := cc.Deployment[contracts.TokiToken]; ok {
			tokenChains = append(tokenChains, chain.ID)
		}
		if err := registry.Attach(ctx, chain.ID, chain.Backend, chain.Deployment); err != nil {
			// events are diagnostics only, scenarios assert through reads
			lg.ErrorWithChain(chain.ID, "watch events: %v", err)
			continue
		}
		if opts.replayFrom >= 0 {
			n, err := registry.Replay(ctx, chain.ID, big.NewInt(opts.replayFrom))
			if err != nil {
				lg.ErrorWithChain(chain.ID, "replay events: %v", err)
				continue
			}
			lg.InfoWithChain(chain.ID, "replayed %d events from block %d", n, opts.replayFrom)
		}
	}
	sort.Ints(chainIDs)

	catalog := scenario.Catalog(poolsByChain)
	if len(tokenChains) > 1 {
		catalog = append(catalog, scenario.TokenCatalog(tokenChains)...)
	}
	if opts.list {
		for _, s := range catalog {
			fmt.Println(s.Name)
		}
		return 0
	}
	selected, err := scenario.Select(catalog, opts.patterns)
	if err != nil {
		lg.Error("%v", err)
		return 1
	}

	routes, err := scenario.BuildRoutes(ends)
	if err != nil {
		lg.Error("build routes: %v", err)
		return 1
	}

	sink, mem, err := results.Open(ctx, cfg.Results)
	if err != nil {
		lg.Error("open result sinks: %v", err)
		return 1
	}
	defer func() {
		if err := sink.Close(); err != nil {
			lg.Error("close result sinks: %v", err)
		}
	}()

	breakers := circuitbreaker.NewSet(cfg.CircuitBreaker, lg)

	server := health.NewServer(health.Options{
		Port:          cfg.MetricsPort,
		MetricsAPIKey: cfg.MetricsAPIKey,
		Chains:        chainIDs,
		Client:        client,
		Watcher:       registry,
		Breakers:      breakers,
		Results:       mem,
		Logger:        lg,
	})
	go server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("health server shutdown: %v", err)
		}
	}()

	env := scenario.NewEnv(client, routes, candidates, poller.Options{
		Timeout:  cfg.PollTimeout,
		Interval: cfg.PollInterval,
		Logger:   lg,
	}, lg)
	env.DepositInterval = cfg.DepositPollInterval

	lg.Notice("run %s: %d scenarios on chains %v, results to %s", opts.runID, len(selected), chainIDs, sink.Name())
	runner := scenario.NewRunner(env, sink, breakers, cfg.WorkerCount, opts.runID)
	out, err := runner.Run(ctx, selected)

	code := 0
	var runErr *scenario.RunError
	switch {
	case errors.As(err, &runErr):
		lg.Error("%d of %d scenarios did not pass: %v", len(runErr.Failed), runErr.Total, runErr.Failed)
		code = 1
	case err != nil:
		lg.Error("run failed: %v", err)
		code = 1
	default:
		lg.Notice("all %d scenarios passed", len(out))
	}

	if opts.serve {
		lg.Info("serving status until interrupted")
		<-ctx.Done()
	}
	return code
}
