package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/icequery/gologger"
	"github.com/danthegoodman1/icequery/http_server"
	"github.com/danthegoodman1/icequery/page_cache"
	"github.com/danthegoodman1/icequery/pipeline"
	"github.com/danthegoodman1/icequery/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting icequery api")

	pipeline.RegisterFunctions()

	cache := page_cache.New()
	httpServer := http_server.StartHTTPServer(cache)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
}
