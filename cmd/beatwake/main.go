package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samueltatapudi-dev/BeatWake/internal/app"
	"github.com/samueltatapudi-dev/BeatWake/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.StdStreams(), os.Args[1:]); err != nil {
		var usageErr *app.UsageError
		var apiErr *model.APIError
		switch {
		case errors.As(err, &usageErr):
		case errors.As(err, &apiErr):
			fmt.Fprintf(os.Stderr, "エラー: %s\n%s\n", apiErr.Message, apiErr.Action)
		default:
			fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
