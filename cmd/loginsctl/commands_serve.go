package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vaultline/logins/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the admin health/metrics HTTP surface until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			srv := server.New(opened.cfg.AdminListen, opened.db, opened.metrics, logrus.StandardLogger())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
				logrus.Info("received shutdown signal")
				cancel()
			}()

			return srv.Start(ctx)
		},
	}
}
