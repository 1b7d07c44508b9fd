package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soragate/soragate/internal/audit"
	"github.com/soragate/soragate/internal/config"
	"github.com/soragate/soragate/internal/store"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	st, err := store.Open(cfg.DBDSN, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := audit.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("audit worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var ev audit.TerminalEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleEvent(ctx, st, ev); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, ev.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, ev.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleEvent turns one terminal job event into a request-log row.
func handleEvent(ctx context.Context, st *store.Store, ev audit.TerminalEvent) error {
	detail, err := json.Marshal(map[string]any{
		"task_id":     ev.TaskID,
		"model":       ev.Model,
		"status":      ev.Status,
		"progress":    ev.Progress,
		"result_urls": ev.ResultURLs,
		"error":       ev.Error,
		"finished_at": ev.FinishedAt,
	})
	if err != nil {
		return err
	}
	return st.InsertRequestLog(ctx, &store.RequestLog{
		JobID:        ev.JobID,
		CredentialID: ev.CredentialID,
		Operation:    ev.Kind,
		Detail:       string(detail),
	})
}
