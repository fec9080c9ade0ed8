package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/env"
)

// Options returns the redis options built from CACHE_* environment variables.
func Options() *redis.Options {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	}
}

// SetupCache creates the redis client shared by the queue, the scheduler and the event bus.
func SetupCache() *redis.Client {
	client := redis.NewClient(Options())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to redis: %v", err)
	} else {
		log.Printf("Successfully connected to redis: %s", pong)
	}
	return client
}
