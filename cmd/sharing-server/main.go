// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delta-io/sharing-go/catalog"
	_ "github.com/delta-io/sharing-go/catalog/sql"
	"github.com/delta-io/sharing-go/config"
	sio "github.com/delta-io/sharing-go/io"
	"github.com/delta-io/sharing-go/server"
)

const usage = `sharing-server.

Usage:
  sharing-server serve [options]
  sharing-server -h | --help | --version

Commands:
  serve       Run the sharing gateway.

Options:
  -h --help        show this help message and exit
  --config FILE    path to the YAML configuration file
  --addr ADDR      listen address, overrides the configuration
  --dev            development mode: human-readable logs, debug level
`

func main() {
	args, err := docopt.ParseArgs(usage, os.Args[1:], "sharing-server 0.1.0")
	if err != nil {
		log.Fatal(err)
	}

	var opts struct {
		Serve  bool   `docopt:"serve"`
		Config string `docopt:"--config"`
		Addr   string `docopt:"--addr"`
		Dev    bool   `docopt:"--dev"`
	}
	if err := args.Bind(&opts); err != nil {
		log.Fatal(err)
	}

	logger := newLogger(opts.Dev)
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		sugar.Fatalw("loading configuration", "error", err)
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("server exited", "error", err)
	}
}

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}

	return logger
}

func run(cfg config.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalogType := cfg.Catalog.Type
	if catalogType == "" {
		catalogType = string(catalog.Memory)
	}

	cat, err := catalog.Load(ctx, catalogType, catalogProps(cfg.Catalog))
	if err != nil {
		return err
	}
	sugar.Infow("catalog loaded", "type", catalogType)

	signer, err := buildSigner(ctx, cfg.Signer)
	if err != nil {
		return err
	}

	srv := server.New(cat, cfg.Server,
		server.WithLogger(sugar),
		server.WithSigner(signer, cfg.Signer.Expiry),
		server.WithRegistry(prometheus.NewRegistry()))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Catalog.RefreshInterval > 0 {
		if refresher, ok := cat.(interface{ Refresh(context.Context) error }); ok {
			g.Go(func() error {
				ticker := time.NewTicker(cfg.Catalog.RefreshInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if err := refresher.Refresh(ctx); err != nil {
							sugar.Errorw("catalog refresh", "error", err)
						}
					}
				}
			})
		}
	}

	return g.Wait()
}

func catalogProps(cfg config.CatalogConfig) catalog.Properties {
	props := catalog.Properties{}
	if cfg.Path != "" {
		props["path"] = cfg.Path
	}
	if cfg.Driver != "" {
		props["driver"] = cfg.Driver
	}
	if cfg.URI != "" {
		props["uri"] = cfg.URI
	}

	return props
}

func buildSigner(ctx context.Context, cfg config.SignerConfig) (sio.Signer, error) {
	if len(cfg.S3) == 0 {
		return sio.ForScheme(nil), nil
	}

	s3signer, err := sio.NewS3Signer(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}

	return sio.ForScheme(s3signer), nil
}
