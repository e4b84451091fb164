// Command opctl is the operator CLI for dead-letter inspection and replay
// (spec.md §8), talking directly to Redis rather than through the admin
// HTTP API so it keeps working during an adminapi outage.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/romiteld/crm-sync-engine/internal/bus"
	"github.com/romiteld/crm-sync-engine/internal/config"
	"github.com/romiteld/crm-sync-engine/internal/opctl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "opctl: config: %v\n", err)
		os.Exit(1)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	b := bus.NewRedisBus(client, cfg.BusMaxDeliveries, cfg.BusMaxLifetime)
	runner := &opctl.Runner{Bus: b, Out: os.Stdout}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := runner.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "opctl: %v\n", err)
		os.Exit(1)
	}
}
