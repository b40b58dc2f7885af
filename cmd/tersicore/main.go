package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tersicore/internal/pipeline"
	"tersicore/internal/server"
)

var (
	configPath string
	addr       string
)

var logger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

var rootCmd = &cobra.Command{
	Use:           "tersicore",
	Short:         "Clone a web page into a self-contained static site",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var generateCmd = &cobra.Command{
	Use:   "generate URL SLUG TITLE [TEMPLATE [FONT]]",
	Short: "Render URL and write static/<SLUG>/index.html",
	Args:  cobra.RangeArgs(3, 5),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline()
		if err != nil {
			return err
		}
		req := pipeline.Request{URL: args[0], Slug: args[1], Title: args[2]}
		if len(args) > 3 {
			req.Template = args[3]
		}
		if len(args) > 4 {
			req.Font = args[4]
		}
		res, err := p.Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.IndexURL)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the generation API and the generated bundles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newPipeline()
		if err != nil {
			return err
		}
		listen := addr
		if !cmd.Flags().Changed("addr") {
			if env := os.Getenv("PORT"); env != "" {
				listen = ":" + env
			}
		}
		srv := &http.Server{
			Addr:              listen,
			Handler:           server.New(server.Config{Runner: p, StaticDir: p.Config().StaticDir, Logger: logger}),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			// A render can take minutes.
			WriteTimeout: p.Config().RenderTimeout + time.Minute,
			IdleTimeout:  60 * time.Second,
			ErrorLog:     log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
		}
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", listen, err)
		}
		go func() {
			<-cmd.Context().Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Println("Listening on", listen)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func newPipeline() (*pipeline.Pipeline, error) {
	cfg := pipeline.DefaultConfig()
	if configPath != "" {
		if err := pipeline.LoadFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.Logger = logger
	return pipeline.New(cfg)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file overlaying the environment configuration")
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address, e.g. :8080 or 0.0.0.0:8080")
	rootCmd.AddCommand(generateCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Printf("ERROR %v", err)
		stop()
		os.Exit(1)
	}
}
