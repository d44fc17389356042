package main

import (
	"log"
	"os"
	"time"

	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"

	"github.com/relier-id/relier/adapters/events"
	"github.com/relier-id/relier/adapters/store"
	"github.com/relier-id/relier/adapters/tokenizer"
	"github.com/relier-id/relier/ax"
	"github.com/relier-id/relier/discovery"
	"github.com/relier-id/relier/ports"
	"github.com/relier-id/relier/service"
	"github.com/relier-id/relier/transport/http"
)

func main() {
	// Generate a new ECDSA key pair (you would normally load this from somewhere secure)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}

	callbackURL := os.Getenv("RELIER_CALLBACK_URL")
	if callbackURL == "" {
		callbackURL = "http://localhost:9000/auth/callback"
	}
	realm := os.Getenv("RELIER_REALM")
	if realm == "" {
		realm = "http://localhost:9000"
	}

	nonceWindow := time.Hour

	var (
		assocs   ports.AssociationStore
		nonces   ports.NonceStore
		eventPub ports.EventPublisher
	)

	if path := os.Getenv("SQLITE_PATH"); path != "" {
		// Single-node durable storage without Redis.
		sqlStore, err := store.NewSQLiteStore(path, nonceWindow)
		if err != nil {
			log.Fatalf("Failed to open SQLite store: %v", err)
		}
		defer sqlStore.Close()
		assocs = sqlStore
		nonces = sqlStore
	} else {
		redisURL := os.Getenv("REDIS_URL")
		if redisURL == "" {
			redisURL = "redis://localhost:6379/0"
		}
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(opts)

		// Initialize Watermill Redis publisher
		logger := watermill.NewStdLogger(false, false)
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			logger,
		)
		if err != nil {
			log.Fatalf("Failed to create Redis publisher: %v", err)
		}

		assocs = store.NewRedisAssociationStore(redisClient)
		nonces = store.NewRedisNonceStore(redisClient, nonceWindow)
		eventPub = events.NewWatermillPublisher(publisher)
	}

	rp := service.New(service.Config{
		Associations:      assocs,
		Nonces:            nonces,
		Discoverer:        discovery.New(nil, discovery.NewMemoryCache(24*time.Hour)),
		Events:            eventPub,
		NonceWindow:       nonceWindow,
		RequestAttributes: []string{ax.SchemaEmail, ax.SchemaFullName},
	})

	sessionTokenizer := tokenizer.NewJWTTokenizer(privateKey, tokenizer.DefaultSessionTTL)

	// Setup Gin router
	router := http.SetupRouter(rp, sessionTokenizer, callbackURL, realm)

	// Start server
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":9000"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
