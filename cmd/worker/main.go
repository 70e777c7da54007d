package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/config"
	"github.com/suPer8Hu/assistant-relay/internal/db"
	"github.com/suPer8Hu/assistant-relay/internal/logger"
	"github.com/suPer8Hu/assistant-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/assistant-relay/internal/store/redisstore"
	"github.com/suPer8Hu/assistant-relay/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("load config")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("init logger")
	}
	if cfg.RabbitQueue == "" {
		log.Fatal().Msg("RABBIT_QUEUE is empty, nothing to consume")
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN, false)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}

	repo := chat.NewRepo(gdb)
	svc := chat.NewService(repo, nil, log)

	// live message events are optional
	if rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, message events disabled")
	} else {
		defer rds.Close()
		svc.SetNotifier(rds)
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := worker.New(repo, svc, pub, worker.DefaultMaxAttempts, log)
	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for d := range jobs {
				// finish the delivery in hand even while shutting down
				w.Deliver(context.WithoutCancel(ctx), d)
			}
		}()
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

