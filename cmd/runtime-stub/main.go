// Command runtime-stub stands in for the durable-execution runtime during
// local runs and load tests. It accepts signed dispatches, keeps the most
// recent ones for inspection and optionally reports completion back to
// sitepulse after a delay.
package main

import (
	"net/http"
	"os"

	"github.com/spf13/viper"

	"github.com/djlord-it/sitepulse/internal/logging"
)

func main() {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("ADDR", ":8081")
	v.SetDefault("DISPATCH_SECRET", "")
	v.SetDefault("SITEPULSE_URL", "")
	v.SetDefault("COMPLETE_AFTER", "0s")
	v.SetDefault("COMPLETE_STATUS", "completed")
	v.SetDefault("LOG_LEVEL", "info")

	logger, err := logging.New(v.GetString("LOG_LEVEL"), logging.FormatConsole)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	recv := newReceiver(receiverConfig{
		Secret:         v.GetString("DISPATCH_SECRET"),
		CallbackURL:    v.GetString("SITEPULSE_URL"),
		CompleteAfter:  v.GetDuration("COMPLETE_AFTER"),
		CompleteStatus: v.GetString("COMPLETE_STATUS"),
	}, logger)

	addr := v.GetString("ADDR")
	logger.Infow("runtime stub listening", "addr", addr, "callback", v.GetString("SITEPULSE_URL"))
	if err := http.ListenAndServe(addr, recv); err != nil {
		logger.Fatalw("runtime stub stopped", "error", err)
	}
}
