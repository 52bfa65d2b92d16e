package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChequedMetal/App-Mobile/internal/config"
	"github.com/ChequedMetal/App-Mobile/internal/metrics"
	"github.com/ChequedMetal/App-Mobile/internal/provider"
	"github.com/ChequedMetal/App-Mobile/internal/queue"
	"github.com/ChequedMetal/App-Mobile/internal/store"
)

// Worker drains the work queue: delivers password-reset mails and logs
// recorded scans. It also purges expired reset tokens on a timer.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "appmobile:work")
	}

	var accounts *provider.Postgres
	if cfg.AuthBackend == "postgres" {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		accounts, err = provider.NewPostgres(ctx, db.Client, q, cfg.BcryptCost)
		if err != nil {
			log.Fatalf("provider init failed: %v", err)
		}
		go purgeLoop(ctx, accounts)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Kind {
		case queue.KindReset:
			var mail queue.ResetMail
			if err := json.Unmarshal(msg.Body, &mail); err != nil {
				log.Printf("bad reset message: %v", err)
				continue
			}
			deliverReset(mail)
			metrics.ResetMails.Inc()

		case queue.KindScan:
			var evt queue.ScanEvent
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				log.Printf("bad scan message: %v", err)
				continue
			}
			log.Printf("scan recorded: user=%s seccion=%s code=%s fecha=%s", evt.UID, evt.Seccion, evt.Code, evt.Fecha)

		default:
			log.Printf("unknown message kind %q, dropping", msg.Kind)
		}
	}

	log.Println("worker stopped")
}

// deliverReset hands the reset challenge to the mail transport. There is
// no SMTP relay wired yet, so delivery is the structured log entry the
// operator forwards.
func deliverReset(mail queue.ResetMail) {
	log.Printf("password reset for %s: token=%s", mail.Email, mail.Token)
}

func purgeLoop(ctx context.Context, accounts *provider.Postgres) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			accounts.PurgeExpiredResets(ctx)
		case <-ctx.Done():
			return
		}
	}
}
