// Command hostmqtt samples host metrics and publishes them to an MQTT broker with
// Home Assistant discovery. Each invocation runs one cycle; schedule it with cron
// or a systemd timer.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, defaultDeps())
	stop()
	if err != nil {
		log.Fatalf("hostmqtt: %v", err)
	}
}
