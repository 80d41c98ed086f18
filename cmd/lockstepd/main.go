package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lockstep-dev/lockstep/internal/protocol"
	"github.com/lockstep-dev/lockstep/internal/server"
	"github.com/lockstep-dev/lockstep/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "lockstepd",
	Short: "Authoritative lockstep session server",
	RunE:  runServer,
}

var (
	flagAddr    string
	flagMsgpack bool
	flagDev     bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", ":7780", "listen address for the websocket endpoint")
	flags.BoolVar(&flagMsgpack, "msgpack", false, "use the binary msgpack codec instead of JSON")
	flags.BoolVar(&flagDev, "dev", false, "human-readable console logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Optional: a .env next to the binary seeds LOCKSTEP_* settings.
	_ = godotenv.Load()

	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	var codec protocol.Codec = protocol.JSONCodec{}
	if flagMsgpack {
		codec = protocol.MsgpackCodec{}
	}

	cfg := server.FromEnv()
	srv := server.New(cfg, log, codec)

	ln := transport.NewWSListener(log, codec.Binary())
	srv.Attach(ln)
	if err := ln.Listen(flagAddr); err != nil {
		return fmt.Errorf("listen on %s: %w", flagAddr, err)
	}
	log.Info("listening",
		zap.String("addr", ln.Addr()),
		zap.String("protocol", protocol.Version),
		zap.Bool("binary", codec.Binary()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	if err := ln.Close(); err != nil {
		log.Warn("listener close", zap.Error(err))
	}
	srv.Close()
	return nil
}

func buildLogger() (*zap.Logger, error) {
	if flagDev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
