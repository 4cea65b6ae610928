package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/elit21/storefront-go/pkg/kafka"
	"github.com/elit21/storefront-go/pkg/logging"
	"github.com/elit21/storefront-go/pkg/metrics"
	"github.com/elit21/storefront-go/pkg/outbox"
)

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	PollInterval time.Duration
	BatchSize    int
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if brokers == "" {
		return cfg{}, errors.New("KAFKA_BROKERS is required")
	}
	pollMS, _ := strconv.Atoi(getenv("POLL_INTERVAL_MS", "1000"))
	batch, _ := strconv.Atoi(getenv("BATCH_SIZE", "100"))
	return cfg{
		Port:         getenv("PORT", "8081"),
		DatabaseURL:  db,
		KafkaBrokers: brokers,
		PollInterval: time.Duration(pollMS) * time.Millisecond,
		BatchSize:    batch,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	client := kafka.NewClient(cfg.KafkaBrokers)
	relay := &relay{
		pool:    pool,
		client:  client,
		batch:   cfg.BatchSize,
		writers: make(map[string]*kafkago.Writer),
	}
	go relay.run(cfg.PollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"db_error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("outbox-relay listening on :%s (poll=%s)", cfg.Port, cfg.PollInterval)
	log.Fatal(srv.ListenAndServe())
}

type relay struct {
	pool    *pgxpool.Pool
	client  *kafka.Client
	batch   int
	writers map[string]*kafkago.Writer
}

func (rl *relay) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := rl.drain(context.Background()); err != nil {
			log.Printf("outbox drain error: %v", err)
		}
	}
}

// drain publishes pending rows oldest first. A row is marked sent only
// after the broker acknowledges it, so a crash between publish and mark
// re-sends the event; consumers dedupe on event_id.
func (rl *relay) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pending, err := outbox.FetchPending(ctx, rl.pool, rl.batch)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		if err := kafka.PublishJSON(ctx, rl.writer(rec.Topic), rec.Key, rec.Payload); err != nil {
			return err
		}
		if err := outbox.MarkSent(ctx, rl.pool, rec.ID); err != nil {
			return err
		}
		logging.Debug(logging.Fields{Service: "outbox-relay", EventID: rec.EventID, Step: "publish", Status: "sent"})
	}
	return nil
}

func (rl *relay) writer(topic string) *kafkago.Writer {
	w, ok := rl.writers[topic]
	if !ok {
		w = rl.client.NewWriter(topic)
		rl.writers[topic] = w
	}
	return w
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
