// Command ccnode is the node process entrypoint (spec §6): it loads
// configuration, wires the ingestion pipeline, the on-chain tx processor,
// the file GC loop, and a metrics HTTP surface. Grounded on the teacher's
// cobra root-command-plus-subcommands shape (cmd/synnergy/main.go).
//
// The full HTTP query/write API, peer discovery/gossip, chain RPC clients,
// the production relational database, the production MQ broker, and the
// IPFS daemon process itself remain external collaborators (spec §1
// Non-goals); this entrypoint wires only the components that run as this
// repo's own process, plus a thin config/logging/CLI/metrics surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/blobstore"
	"github.com/ccnode/ccnode/internal/broker"
	"github.com/ccnode/ccnode/internal/chaindata"
	"github.com/ccnode/ccnode/internal/chains"
	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/cost"
	"github.com/ccnode/ccnode/internal/files"
	"github.com/ccnode/ccnode/internal/handlers"
	"github.com/ccnode/ccnode/internal/metrics"
	"github.com/ccnode/ccnode/internal/obslog"
	"github.com/ccnode/ccnode/internal/pipeline"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/txprocessor"
	"github.com/ccnode/ccnode/internal/types"
	"github.com/ccnode/ccnode/pkg/config"
)

// gcInterval is the file GC loop's period (spec §4.8 "runs periodically");
// the exact cadence is an operational knob spec.md leaves unspecified.
const gcInterval = 10 * time.Minute

// pendingTxFlushInterval bounds how long an observed on-chain tx can sit
// before its batch is handed to the tx processor even if it never fills up.
const pendingTxFlushInterval = 500 * time.Millisecond

func main() {
	rootCmd := &cobra.Command{Use: "ccnode"}
	rootCmd.AddCommand(runCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the ingestion pipeline, tx processor, file GC loop, and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("ccnode: load config: %w", err)
			}

			log, err := obslog.New(obslog.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
			if err != nil {
				return fmt.Errorf("ccnode: build logger: %w", err)
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runNode(ctx, cfg, log)
		},
	}
}

// runNode constructs every component and blocks until ctx is cancelled.
func runNode(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	m := metrics.New()
	st := store.New()
	mq := broker.New()

	blobs, err := blobstore.New(cfg.Storage.Folder)
	if err != nil {
		return fmt.Errorf("ccnode: open blob store: %w", err)
	}

	var ipfsClient contentstore.IPFSClient
	if cfg.IPFS.Enabled {
		ipfsClient = contentstore.NewHTTPIPFSClient(&http.Client{Timeout: cfg.IPFS.PinTimeout}, cfg.IPFS.Gateway)
	}
	peerClient := contentstore.NewHTTPPeerClient(&http.Client{Timeout: cfg.Storage.GatewayTimeout})
	content := contentstore.New(blobs, ipfsClient, peerClient, nil, log)

	chainsReg := chains.NewRegistry()
	decoder := chaindata.New(content)

	filesManager := files.New(st, blobs, content, ipfsClient, cfg.Storage.GracePeriod, log, m)
	costEngine := cost.New(st, m)
	balances := newAddressBalanceReader(cfg.Balances.Addresses)

	registry := handlers.NewRegistry(st, handlers.Dependencies{
		CostEngine:       costEngine,
		FileDeps:         filesManager,
		Content:          content,
		Balances:         balances,
		BalancesPostType: cfg.Balances.PostType,
	})

	// Admitter is constructed by whatever P2P/HTTP submission surface calls
	// Admit; that surface is out of scope here (spec §1 Non-goals), so this
	// process only runs the Fetch/Process stages plus the on-chain tx path.

	fetcher := pipeline.NewFetcher(st, chainsReg, content, pipeline.FetchConfig{
		Concurrency:  cfg.Jobs.PendingMessages.MaxConcurrency,
		FetchTimeout: cfg.Storage.GatewayTimeout,
	}, log, m)
	processor, procCh, err := pipeline.NewProcessor(st, mq, registry, pipeline.ProcessConfig{}, log, m)
	if err != nil {
		return fmt.Errorf("ccnode: build processor: %w", err)
	}

	txProc := txprocessor.New(st, decoder, log)

	for name, cc := range cfg.Chains {
		if cc.Enabled {
			log.Warn("ccnode: chain sync enabled but no chain RPC client is wired into this build; on-chain ingestion for this chain stays idle until an indexer.ChainReader is attached",
				zap.String("chain", name))
		}
	}

	mq.DeclareExchange(broker.ExchangePendingTx, broker.Durable)
	pendingTxCh, err := mq.Bind(broker.ExchangePendingTx, "ccnode.pending_tx_consumer", "#")
	if err != nil {
		return fmt.Errorf("ccnode: bind pending tx queue: %w", err)
	}

	if leftover := st.Messages().ListPendingTx(); len(leftover) > 0 {
		log.Info("ccnode: replaying pending tx rows left over from a previous run", zap.Int("count", len(leftover)))
		if err := txProc.ProcessBatch(ctx, leftover); err != nil {
			log.Error("ccnode: pending tx replay failed", zap.Error(err))
		}
	}

	go consumePendingTx(ctx, pendingTxCh, txProc, cfg.Jobs.PendingTxs.MaxConcurrency, log)
	go func() {
		if err := fetcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("ccnode: fetcher stopped", zap.Error(err))
		}
	}()
	go processor.Run(ctx, procCh)
	go filesManager.RunForever(ctx, gcInterval)
	go runPendingQueueGauge(ctx, st, m)

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ccnode: metrics server failed", zap.Error(err))
		}
	}()

	log.Info("ccnode: node started", zap.String("metrics_addr", cfg.MetricsAddr))
	<-ctx.Done()
	log.Info("ccnode: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// runPendingQueueGauge samples PendingMessage row count into the
// PendingQueueDepth gauge (spec §6 metrics).
func runPendingQueueGauge(ctx context.Context, st store.Store, m *metrics.Metrics) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.PendingQueueDepth.Set(float64(st.Messages().CountPending()))
		}
	}
}

// consumePendingTx drains the pending_tx exchange's fan-out queue and hands
// batches of tx hashes to the tx processor, closing the wiring gap between
// internal/txpublisher's producer side and internal/txprocessor's consumer
// side (spec §4.6). Envelopes are batched on a flush interval rather than
// processed one at a time so ProcessBatch's per-batch off-chain CID
// deduplication (spec §4.6) has a real batch to operate on.
func consumePendingTx(ctx context.Context, envelopes <-chan broker.Envelope, proc *txprocessor.Processor, batchSize int, log *zap.Logger) {
	if batchSize <= 0 {
		batchSize = 200
	}
	t := time.NewTicker(pendingTxFlushInterval)
	defer t.Stop()

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := proc.ProcessBatch(ctx, batch); err != nil {
			log.Error("ccnode: pending tx batch failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case env, ok := <-envelopes:
			if !ok {
				flush()
				return
			}
			var tx types.ChainTx
			if err := json.Unmarshal(env.Payload, &tx); err != nil {
				log.Warn("ccnode: invalid pending tx envelope payload", zap.Error(err))
				continue
			}
			batch = append(batch, tx.Hash)
			if len(batch) >= batchSize {
				flush()
			}
		case <-t.C:
			flush()
		}
	}
}

// addressBalanceReader authorizes the POST "balances" special case for the
// configured set of oracle addresses (spec §4.7 POST, spec §6
// balances.addresses).
type addressBalanceReader struct {
	authorized map[string]bool
}

func newAddressBalanceReader(addresses []string) *addressBalanceReader {
	authorized := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		authorized[a] = true
	}
	return &addressBalanceReader{authorized: authorized}
}

func (r *addressBalanceReader) IsAuthorizedBalanceSender(sender string) bool {
	return r.authorized[sender]
}
