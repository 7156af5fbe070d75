// Command devredis runs an in-memory miniredis server for local
// development and manual testing of broker-worker / broker-producer
// without a real Redis install, adapted from the teacher's
// cmd/redis_server/main.go.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"

	"github.com/relayq/relayq/internal/platform/logger"
)

func main() {
	addr := "127.0.0.1:6379"
	if v := os.Getenv("DEVREDIS_ADDR"); v != "" {
		addr = v
	}

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(addr); err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to start miniredis")
	}
	defer s.Close()

	logger.Log.Info().Str("addr", s.Addr()).Msg("devredis started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Log.Info().Msg("devredis shutting down")
}
