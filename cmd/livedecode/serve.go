package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	livedecode "github.com/ieee0824/livedecode-go"
	"github.com/ieee0824/livedecode-go/config"
	"github.com/ieee0824/livedecode-go/internal/logging"
	"github.com/ieee0824/livedecode-go/internal/telemetry"
	"github.com/ieee0824/livedecode-go/server"
	"github.com/ieee0824/livedecode-go/store"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		cfgPath   string
		addr      string
		storeDir  string
		maxFrames int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve websocket streaming sessions",
		Long: `Serve streaming decode sessions at ws://ADDR` + server.StreamPath + `.

Each connection gets its own session. Send binary PCM messages at the
configured bits per sample (add ?rate=N when the audio is not at the
model rate) and {"type":"finish"} to end an utterance. Choose the
"msgpack" subprotocol for binary server messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			meter := otel.GetMeterProvider().Meter(telemetry.MeterName)
			metrics, err := telemetry.New(meter)
			if err != nil {
				return err
			}
			base := livedecode.New(livedecode.WithLogger(g.log), livedecode.WithMeter(meter))
			if err := base.Setup(ctx, cfgPath); err != nil {
				return err
			}
			opts := []server.Option{
				server.WithLogger(logging.Component(g.log, "server")),
				server.WithMetrics(metrics),
				server.WithMaxFrames(maxFrames),
			}
			if storeDir != "" {
				st, err := store.Open(store.Options{Dir: storeDir, Logger: logging.Component(g.log, "store")})
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, server.WithStore(st))
			}
			return server.New(base, opts...).ListenAndServe(ctx, addr)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", config.DefaultFile, "master config file")
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.StringVar(&storeDir, "store", "", "store final results in this directory")
	f.IntVar(&maxFrames, "max-frames", 20, "frames decoded between partial results")
	return cmd
}
