// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// cargo is the staging daemon: it hosts the coordinator and its pool of
// staging workers.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"

	"github.com/admire-eurohpc/cargo/backend"
	"github.com/admire-eurohpc/cargo/cohort"
	"github.com/admire-eurohpc/cargo/master"
	"github.com/admire-eurohpc/cargo/transport"
	"github.com/admire-eurohpc/cargo/worker"
)

// version is stamped by the build.
var version = "dev"

var (
	optConfigPath string
	optListen     string
	optOutput     string
	optWorkers    int
	optBlockKB    int64
	optVersion    bool
)

func init() {
	flag.Var(debug.FlagVar())
	flag.StringVar(&optConfigPath, "config", master.DefaultConfigPath, "Path to daemon config")
	flag.StringVar(&optListen, "listen", "", "Control address (PROTOCOL://host:port)")
	flag.StringVar(&optOutput, "output", "", "Redirect logging to FILE")
	flag.IntVar(&optWorkers, "workers", 0, "Number of staging workers")
	flag.Int64Var(&optBlockKB, "block-size", 0, "Stripe block size in KiB")
	flag.BoolVar(&optVersion, "version", false, "Print version and exit")
}

func interruptHandler(once func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)

	go func() {
		stopping := false
		for sig := range c {
			debug.Printf("signal received: %s", sig)
			if !stopping {
				stopping = true
				once()
			}
		}
	}()
}

func configInitMust() *master.Config {
	cfg := master.NewConfig()

	err := master.LoadConfig(optConfigPath, cfg)
	if err != nil {
		if !(optConfigPath == master.DefaultConfigPath && os.IsNotExist(err)) {
			alert.Fatalf("failed to load config: %s", err)
		}
	}

	if optListen != "" {
		cfg.Address = optListen
	}
	if optOutput != "" {
		cfg.Output = optOutput
	}
	if optWorkers > 0 {
		cfg.NumWorkers = optWorkers
	}
	if optBlockKB > 0 {
		cfg.BlockSizeKB = optBlockKB
	}

	if cfg.ObjectStore != nil {
		backend.SetObjectStoreConfig(backend.ObjectStoreConfig{
			Endpoint: cfg.ObjectStore.Endpoint,
			Region:   cfg.ObjectStore.Region,
			Bucket:   cfg.ObjectStore.Bucket,
			Prefix:   cfg.ObjectStore.Prefix,
			SpoolDir: cfg.ObjectStore.SpoolDir,
		})
	}

	return cfg
}

func main() {
	flag.Parse()

	if optVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if debug.Enabled() {
		// Let child tooling inherit the setting without extra flags.
		os.Setenv("CARGO_DEBUG", "true")
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := configInitMust()

	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			alert.Fatalf("failed to open output file: %s", err)
		}
		defer f.Close()
		audit.SetOutput(f)
		alert.SetOutput(f)
		debug.SetOutput(f)
	}

	debug.Printf("current configuration:\n%v", cfg.String())

	sock, err := transport.Listen(cfg.Address)
	if err != nil {
		alert.Fatalf("failed to listen on %s: %s", cfg.Address, err)
	}

	world := cohort.NewWorld(cfg.NumWorkers)

	var wg sync.WaitGroup
	for rank := 1; rank <= cfg.NumWorkers; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			worker.New(world.Endpoint(rank), cfg.BlockSize()).Run()
		}(rank)
	}

	srv := master.New(cfg, world)
	interruptHandler(func() {
		srv.RequestShutdown()
	})

	if err := srv.Run(sock); err != nil {
		alert.Fatalf("error in coordinator: %s", err)
	}
	wg.Wait()
}
