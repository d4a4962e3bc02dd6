package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPChatSync/data/blobstore"
	"PPChatSync/data/docstore"
	"PPChatSync/data/docstore/memstore"
	"PPChatSync/global/config"
	"PPChatSync/logger"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/reconcile"
	"PPChatSync/module/chat/view"
	"PPChatSync/service/api"
	"PPChatSync/service/dispatcher/kafka"
	"PPChatSync/service/mgo"
	"PPChatSync/service/natsx"
	"PPChatSync/service/storage/redis"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (optional; PPSYNC_* env vars override)")
	envFile := flag.String("env", ".env", "dotenv file loaded before env overrides")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("chatsync exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 1) 变更通知：配置了 NATS 就跨进程广播
	var notifier docstore.Notifier
	if len(cfg.Nats.Servers) > 0 {
		nc, err := natsx.Connect(cfg.Nats)
		if err != nil {
			return err
		}
		closers = append(closers, nc.Close)
		notifier = natsx.NewChangeNotifier(nc, cfg.Nats.SubjectPrefix)
	}

	// 2) 文档 + 附件存储
	var (
		store docstore.Store
		blobs blobstore.Store
	)
	if cfg.Mongo.Database != "" {
		st, err := mgo.Open(ctx, &cfg.Mongo, notifier, cfg.HTTP.MediaBaseURL)
		if err != nil {
			return err
		}
		closers = append(closers, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Close(cctx); err != nil {
				logger.Warn("mongo close", zap.Error(err))
			}
		})
		store, blobs = st.Docs, st.Blobs
	} else {
		logger.Warn("mongo.database not set, using in-memory store")
		store, blobs = memstore.New(), blobstore.NewMemory(cfg.HTTP.MediaBaseURL)
	}

	// 3) 成员资料：Redis 共享缓存在外，进程内缓存在内；发送序号也走 Redis
	var (
		profiles view.ProfileResolver = view.StoreProfiles{Store: store}
		seq      api.SeqSource
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		profiles = redis.NewProfileCache(rdb, profiles, cfg.View.ProfileTTL)
		seq = redis.NewSenderSeq(rdb)
	}
	profiles = view.NewMemoryCache(profiles, cfg.View.ProfileTTL)

	// 4) 领域事件外发
	var sink event.Sink = event.Nop
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.Dial(cfg.Kafka)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = pub.Close() })
		sink = pub
	}

	// 5) 定时修复会话/链接索引
	if cfg.Reconcile.Interval > 0 {
		go sweepLoop(ctx, reconcile.NewSweeper(store), cfg.Reconcile.Interval, cfg.Reconcile.DryRun)
	}

	srv := api.New(api.Deps{
		Store:          store,
		Blobs:          blobs,
		Sink:           sink,
		Profiles:       profiles,
		Seq:            seq,
		JWT:            cfg.JWT.Options(),
		Limits:         cfg.Media.Limits(),
		Window:         cfg.View.Window,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		DevSignIn:      cfg.HTTP.DevSignIn,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	})
	if cfg.HTTP.DevSignIn {
		logger.Warn("dev sign-in enabled: POST /v1/session issues tokens without credentials")
	}
	return srv.Run(ctx, cfg.HTTP.Addr)
}

func sweepLoop(ctx context.Context, sw *reconcile.Sweeper, every time.Duration, dryRun bool) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		rep, err := sw.Sweep(ctx, dryRun)
		if err != nil {
			logger.Warn("reconcile sweep failed", zap.Error(err))
			continue
		}
		if rep.Repairs() > 0 {
			logger.Info("reconcile sweep",
				zap.Int("repairs", rep.Repairs()),
				zap.Int("conversations", rep.Conversations),
				zap.Bool("dry_run", rep.DryRun))
		}
	}
}
