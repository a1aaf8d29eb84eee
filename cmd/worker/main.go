// Command worker is a minimal entrypoint wiring a Redis store+pubsub
// pair into a workflow and activity pool (spec §6.4). It registers a
// single demo workflow/activity so the binary is runnable out of the
// box for smoke-testing a deployment; real hosts register their own
// workflow/activity functions the same way via worker.CreateWorker /
// worker.RegisterActivityWorker before calling Run.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hotmeshio/durable-go/internal"
	"github.com/hotmeshio/durable-go/internal/config"
	"github.com/hotmeshio/durable-go/pubsub/redispubsub"
	"github.com/hotmeshio/durable-go/store"
	"github.com/hotmeshio/durable-go/store/redisstore"
	"github.com/hotmeshio/durable-go/worker"
)

var (
	redisAddr   = flag.String("redis-addr", "127.0.0.1:6379", "redis address for the store+pubsub substrate")
	configFile  = flag.String("config", "", "optional viper config file (overrides defaults, overridden by DURABLE_* env vars)")
	taskQueue   = flag.String("task-queue", "default", "task queue / workflow pool name this process serves")
	breakerOpen = flag.Duration("breaker-open-timeout", 30*time.Second, "how long the store circuit breaker stays open after tripping")
)

func echoActivity(msg string) (string, error) {
	return "echo: " + msg, nil
}

func echoWorkflow(ctx internal.Context, msg string) (string, error) {
	var result string
	err := internal.ProxyActivity(ctx, "echoActivity", internal.ProxyActivityOptions{}, msg).Get(&result)
	return result, err
}

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "durable: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("durable: load config", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()

	var st store.Store = redisstore.New(rdb, cfg.KeyPrefix)
	st = store.NewBreaker(st, "redis", *breakerOpen)
	ps := redispubsub.New(rdb)

	conn := worker.NewConnection(st, ps, cfg, logger)

	wfWorker, err := worker.CreateWorker(conn, *taskQueue, echoWorkflow, worker.Options{
		RetryPolicy: internal.RetryPolicy{
			MaximumAttempts:    cfg.DefaultMaxAttempts,
			BackoffCoefficient: cfg.DefaultBackoffCoefficient,
			MaximumInterval:    cfg.DefaultMaximumInterval,
		},
	})
	if err != nil {
		logger.Fatal("durable: create workflow worker", zap.Error(err))
	}

	actWorker, err := worker.RegisterActivityWorker(conn, *taskQueue+"-activity", map[string]interface{}{
		"echoActivity": echoActivity,
	})
	if err != nil {
		logger.Fatal("durable: register activity worker", zap.Error(err))
	}

	if err := wfWorker.Start(); err != nil {
		logger.Fatal("durable: start workflow worker", zap.Error(err))
	}
	if err := actWorker.Start(); err != nil {
		logger.Fatal("durable: start activity worker", zap.Error(err))
	}

	logger.Info("durable: worker started", zap.String("taskQueue", *taskQueue), zap.String("namespace", cfg.Namespace))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("durable: shutting down")
	wfWorker.Stop()
	actWorker.Stop()
}
