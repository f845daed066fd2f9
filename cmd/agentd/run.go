package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akellehe/go-paxos/internal/acceptor"
	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/config"
	"github.com/akellehe/go-paxos/internal/httpapi"
	"github.com/akellehe/go-paxos/internal/learner"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/proposer"
	"github.com/akellehe/go-paxos/internal/seeker"
	"github.com/akellehe/go-paxos/internal/snapshot"
	"github.com/akellehe/go-paxos/internal/store"
	"github.com/akellehe/go-paxos/internal/transport"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start this agent's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to cluster.yaml")
	return cmd
}

func openSnapshotter(cfg *config.Conf) (snapshot.Snapshotter, error) {
	switch cfg.Persistence {
	case config.PersistenceNone:
		return nil, nil
	case config.PersistenceSQLite:
		return snapshot.NewSQLiteSnapshotter(cfg.SQLitePath)
	case config.PersistenceRedis:
		return snapshot.NewRedisSnapshotter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, errors.Errorf("unknown persistence driver %q", cfg.Persistence)
	}
}

// flattenRecords rebuilds the map Store.Restore expects from the
// per-key records a Snapshotter hands back.
func flattenRecords(records []snapshot.Record) map[string]map[ballot.Ballot]message.Promise {
	out := make(map[string]map[ballot.Ballot]message.Promise, len(records))
	for _, rec := range records {
		out[rec.Key] = rec.Promises
	}
	return out
}

func loadStore(snap snapshot.Snapshotter, storeName string, s *store.Store) {
	records, err := snap.Load(storeName)
	if err != nil {
		log.WithField("store", storeName).WithError(err).Warn("failed to load snapshot, starting empty")
		return
	}
	s.Restore(flattenRecords(records))
}

func saveStore(snap snapshot.Snapshotter, storeName string, s *store.Store) error {
	snapshotData := s.Snapshot()
	records := make([]snapshot.Record, 0, len(snapshotData))
	for key, promises := range snapshotData {
		records = append(records, snapshot.Record{Store: storeName, Key: key, Promises: promises})
	}
	return snap.Save(storeName, records)
}

func newSeekTicker(ctx context.Context, sk *seeker.Seeker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sk.SeekMissing(ctx); err != nil {
					log.WithError(err).Debug("seek-missing pass failed")
				}
				if err := sk.SeekDangling(ctx); err != nil {
					log.WithError(err).Debug("seek-dangling pass failed")
				}
			}
		}
	}()
}

func runAgent(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	current := store.New()
	completed := store.New()

	snap, err := openSnapshotter(cfg)
	if err != nil {
		return errors.Wrap(err, "open persistence backend")
	}
	if snap != nil {
		defer snap.Close()
		loadStore(snap, "current", current)
		loadStore(snap, "completed", completed)
	}

	peers := transport.NewPeers(cfg.AgentID, cfg.Peers)
	allocator := ballot.NewAllocator(cfg.AgentID)
	tr := transport.NewHTTPTransport(&http.Client{Timeout: cfg.RequestTimeout})

	policy := proposer.PolicyQuorum
	if cfg.LearnPolicy == config.LearnPolicyAll {
		policy = proposer.PolicyAll
	}
	pr := proposer.New(allocator, current, completed, peers, tr,
		proposer.WithTimeout(cfg.RequestTimeout),
		proposer.WithLearnPolicy(policy),
	)
	a := acceptor.New(current, completed)
	l := learner.New(completed)
	sk := seeker.New(current, completed, peers, pr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	newSeekTicker(ctx, sk, 10*time.Second)

	srv := httpapi.New(cfg, a, l, pr, completed)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Router()}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("serving paxos agent")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server exited")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}

	if snap != nil {
		if err := saveStore(snap, "current", current); err != nil {
			log.WithError(err).Error("failed to persist current store on shutdown")
		}
		if err := saveStore(snap, "completed", completed); err != nil {
			log.WithError(err).Error("failed to persist completed store on shutdown")
		}
	}
	return nil
}
