package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/chat"
	"github.com/suPer8Hu/support-widget/internal/config"
	"github.com/suPer8Hu/support-widget/internal/conversation"
	"github.com/suPer8Hu/support-widget/internal/db"
	"github.com/suPer8Hu/support-widget/internal/logging"
	"github.com/suPer8Hu/support-widget/internal/store/rabbitmq"
)

const retryDelay = 5 * time.Second

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogConsole)

	gdb := db.Connect(cfg.DBDSN)
	sink := chat.NewTransitionSink(chat.NewRepo(gdb))

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

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	//  strict concurrency control
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

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	// amqp channels are not safe for concurrent publishing
	var publishMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var ev conversation.TransitionEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.EventID == "" {
					log.Warn().Err(err).Int("worker", workerID).Msg("bad message")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				mctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := sink.LogTransition(mctx, ev)
				if err == nil {
					if err := d.Ack(false); err != nil {
						log.Error().Err(err).Int("worker", workerID).Str("event_id", ev.EventID).Msg("ack failed")
					}
					if cost := time.Since(start); cost > 500*time.Millisecond {
						log.Warn().Str("event_id", ev.EventID).Dur("cost", cost).Msg("slow transition insert")
					}
					cancel()
					continue
				}

				attempt := rabbitmq.RetryCount(d)
				log.Error().Err(err).
					Int("worker", workerID).
					Str("event_id", ev.EventID).
					Int32("attempt", attempt).
					Msg("transition insert failed")

				if int(attempt) >= cfg.WorkerMaxRetries {
					cancel()
					_ = d.Nack(false, false) // -> DLQ
					continue
				}
				publishMu.Lock()
				rerr := rabbitmq.Retry(mctx, ch, cfg.RabbitQueue, d, retryDelay)
				publishMu.Unlock()
				cancel()
				if rerr != nil {
					log.Error().Err(rerr).Str("event_id", ev.EventID).Msg("retry publish failed")
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}(i)
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
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
