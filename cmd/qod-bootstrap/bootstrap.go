package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/config"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/events"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/observability"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/seed"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/snapshot"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/store"
)

const (
	retryDelay      = 200 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// bootstrap wires every configured component, provisions the seed records
// and tears everything down again. Per-record failures are carried in the
// result. An error with a nil result means nothing was provisioned; an
// error with a result means the batch ran and a later step failed.
func bootstrap(ctx context.Context, cfg *config.Config, seedPath string, dryRun bool, logger *slog.Logger) (res *result, err error) {
	file, err := seed.Load(seedPath)
	if err != nil {
		return nil, err
	}
	res = newResult(seedPath, dryRun, file)

	if dryRun {
		res.validate(file)
		logger.Info("seed validated", "seed", seedPath, "total", res.Total, "valid", res.Succeeded)
		return res, nil
	}

	obs, err := observability.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := obs.Shutdown(sctx); serr != nil {
			logger.Warn("telemetry shutdown failed", "error", serr)
		}
	}()

	backing, err := store.Open(ctx, storeConfig(cfg))
	if err != nil {
		return nil, err
	}

	opts := []provisioning.Option{
		provisioning.WithStoreTimeout(cfg.Store.Timeout),
		provisioning.WithLogger(logger.With("component", "provisioning")),
		provisioning.WithObservability(obs),
	}
	if cfg.Store.RetryOnce {
		opts = append(opts, provisioning.WithRetryOnce(retryDelay))
	}

	var feed *changeFeed
	if cfg.Events.NATSURL != "" {
		feed, err = connectFeed(cfg.Events, logger)
		if err != nil {
			_ = backing.Close()
			return nil, err
		}
		opts = append(opts, provisioning.WithNotifier(feed.publisher))
	}

	reg, err := provisioning.Open(ctx, backing, opts...)
	if err != nil {
		_ = backing.Close()
		if feed != nil {
			feed.close()
		}
		return nil, err
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	// Stop watching before the registry closes.
	if feed != nil {
		defer feed.close()
		if err := feed.watch(reg); err != nil {
			return nil, err
		}
	}

	var blobs snapshot.Store
	if cfg.Snapshot.Type != "" {
		blobs, err = snapshot.NewStoreFromConfig(ctx, snapshotConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		if c, ok := blobs.(io.Closer); ok {
			defer c.Close()
		}

		restored, err := snapshot.Restore(ctx, reg, blobs)
		switch {
		case errors.Is(err, snapshot.ErrNoSnapshot):
			logger.Info("no snapshot to restore")
		case err != nil:
			return nil, fmt.Errorf("failed to restore snapshot: %w", err)
		default:
			res.Restored = restored.Succeeded
			for _, f := range restored.Failures {
				logger.Warn("snapshot record not restored",
					"access_identifier", f.AccessIdentifier, "kind", f.Kind, "error", f.Message)
			}
		}
	}

	var batchOpts []provisioning.BatchOption
	if cfg.Seed.Rate > 0 {
		batchOpts = append(batchOpts, provisioning.WithPace(rate.NewLimiter(rate.Limit(cfg.Seed.Rate), 1)))
	}
	res.apply(reg.ProvisionBatch(ctx, file.Records, batchOpts...), file)

	if blobs != nil {
		hash, err := snapshot.Export(ctx, reg, blobs)
		if err != nil {
			res.Provisioned = reg.Len()
			return res, fmt.Errorf("failed to export snapshot: %w", err)
		}
		res.Snapshot = hash
	}
	res.Provisioned = reg.Len()
	return res, nil
}

// changeFeed publishes this run's writes and reconciles peer writes made
// while it runs.
type changeFeed struct {
	conn      *nats.Conn
	publisher *events.Publisher
	watcher   *events.Watcher
	subject   string
	origin    string
	logger    *slog.Logger
}

func connectFeed(cfg config.EventsConfig, logger *slog.Logger) (*changeFeed, error) {
	log := logger.With("component", "events")
	conn, err := events.Connect(cfg.NATSURL, log)
	if err != nil {
		return nil, err
	}
	origin := events.NewOrigin()
	return &changeFeed{
		conn:      conn,
		publisher: events.NewPublisher(conn, cfg.Subject, origin, log),
		subject:   cfg.Subject,
		origin:    origin,
		logger:    log,
	}, nil
}

func (f *changeFeed) watch(reg events.Refresher) error {
	f.watcher = events.NewWatcher(f.conn, f.subject, f.origin, reg, f.logger)
	return f.watcher.Start()
}

func (f *changeFeed) close() {
	if f.watcher != nil {
		if err := f.watcher.Close(); err != nil {
			f.logger.Warn("failed to stop change watcher", "error", err)
		}
	}
	if err := f.conn.Drain(); err != nil {
		f.logger.Warn("failed to drain NATS connection", "error", err)
	}
}

func telemetryConfig(cfg *config.Config) *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = Version
	oc.Enabled = cfg.Telemetry.Enabled
	oc.OTLPEndpoint = cfg.Telemetry.Endpoint
	oc.Insecure = cfg.Telemetry.Insecure
	return oc
}

func storeConfig(cfg *config.Config) store.Config {
	return store.Config{
		Driver:        store.Driver(cfg.Store.Driver),
		DatabaseURL:   cfg.Store.DatabaseURL,
		SQLitePath:    cfg.Store.SQLitePath,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
	}
}

func snapshotConfig(cfg *config.Config) snapshot.Config {
	return snapshot.Config{
		Type:       snapshot.StoreType(cfg.Snapshot.Type),
		Dir:        cfg.Snapshot.Dir,
		S3Bucket:   cfg.Snapshot.S3Bucket,
		S3Region:   cfg.Snapshot.S3Region,
		S3Endpoint: cfg.Snapshot.S3Endpoint,
		S3Prefix:   cfg.Snapshot.S3Prefix,
		GCSBucket:  cfg.Snapshot.GCSBucket,
		GCSPrefix:  cfg.Snapshot.GCSPrefix,
	}
}
