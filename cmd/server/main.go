package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/soragate/soragate/internal/audit"
	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/config"
	"github.com/soragate/soragate/internal/httpapi"
	"github.com/soragate/soragate/internal/job"
	"github.com/soragate/soragate/internal/pool"
	"github.com/soragate/soragate/internal/proxyroute"
	"github.com/soragate/soragate/internal/store"
	"github.com/soragate/soragate/internal/upstream"
)

func main() {
	cfg := config.Load()

	cat, err := catalog.Load(cfg.ModelCatalogPath)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	st, err := store.Open(cfg.DBDSN, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	creds, err := st.LoadCredentials(context.Background())
	if err != nil {
		log.Fatalf("load credentials: %v", err)
	}

	resolver, err := proxyroute.NewResolver(cfg.GlobalProxy, 0)
	if err != nil {
		log.Fatalf("proxy: %v", err)
	}
	for _, c := range creds {
		if c.ProxyURL != "" {
			if err := resolver.Register(c.ProxyURL); err != nil {
				log.Fatalf("proxy credential=%d: %v", c.ID, err)
			}
		}
	}

	p := pool.New(creds, st, pool.Options{
		FailureThreshold: cfg.FailureThreshold,
		CooldownWindow:   cfg.CooldownWindow,
		MaxCooldowns:     cfg.MaxCooldowns,
	})
	log.Printf("credential pool loaded size=%d", p.Size())

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	locker := pool.NewRedisLocker(rdb)

	backend := upstream.NewClient(cfg.SoraBaseURL, resolver, upstream.ClientOptions{
		SentinelToken: cfg.SentinelToken,
		ParseURL:      cfg.WatermarkParseURL,
		ParseToken:    cfg.WatermarkParseToken,
	})

	submitter := job.NewSubmitter(backend, p, locker,
		job.DefaultRetryPolicy(cfg.MaxSubmitAttempts),
		job.SubmitterOptions{
			UploadTimeout: cfg.UploadTimeout,
			SubmitTimeout: cfg.SubmitTimeout,
			ImageTimeout:  cfg.ImageTimeout,
		})
	poller := job.NewPoller(backend, job.PollerOptions{
		Interval:      cfg.PollInterval,
		ImageTimeout:  cfg.ImageTimeout,
		VideoTimeout:  cfg.VideoTimeout,
		WatermarkFree: cfg.WatermarkFree,
	})

	var auditor job.Auditor
	pub, err := audit.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		// Audit trail is best-effort; the gateway still serves requests.
		log.Printf("audit publisher unavailable: %v", err)
	} else {
		defer pub.Close()
		auditor = pub
	}

	svc := job.NewService(submitter, poller, p, st, auditor)

	r := httpapi.NewRouter(cfg, cat, svc, p)
	log.Printf("listening addr=%s models=%d", cfg.HTTPAddr, len(cat.IDs()))
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
