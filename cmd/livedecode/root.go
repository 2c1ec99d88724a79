package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ieee0824/livedecode-go/internal/logging"
)

type globalOptions struct {
	logLevel  string
	logFormat string
	noColor   bool
	output    string
	query     string
	log       zerolog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "livedecode",
		Short: "Streaming speech-to-text decoder",
		Long: `livedecode decodes speech with a Kaldi-style online decoder.

A model directory holds a master config (pykaldi.cfg, or a yaml, json or
toml file) naming the acoustic model, the HCLG search graph, the word
table and per-subsystem option files. Resources may be local paths,
s3://bucket/key objects, or gzipped (*.gz).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := logging.Config{Level: g.logLevel, Format: g.logFormat, NoColor: g.noColor}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			g.log = logging.New(cfg)
			return validateOutput(g.output)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "console", "log format (console, json)")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored logs and text output")
	pf.StringVarP(&g.output, "output", "o", formatText, "output format (text, yaml, json)")
	pf.StringVarP(&g.query, "query", "q", "", "jq expression applied to the output")

	root.AddCommand(
		newDecodeCmd(g),
		newServeCmd(g),
		newResultsCmd(g),
		newVersionCmd(g),
	)
	return root
}
