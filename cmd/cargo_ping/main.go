// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// cargo_ping probes a cargo coordinator for liveness.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/intel-hpdd/logging/alert"

	"github.com/admire-eurohpc/cargo/client"
)

var version string // Set by build environment

func main() {
	app := cli.NewApp()
	app.Name = "cargo_ping"
	app.Usage = "Liveness probe for a Cargo server"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server, s",
			Usage:  "Address of the Cargo server",
			EnvVar: "CCP_SERVER",
		},
	}
	app.Action = runPing
	if err := app.Run(os.Args); err != nil {
		alert.Abort(err)
	}
}

func runPing(c *cli.Context) error {
	if c.String("server") == "" {
		return fmt.Errorf("no server address given (use --server or CCP_SERVER)")
	}

	srv, err := client.NewServer(c.String("server"))
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := client.Ping(srv); err != nil {
		return err
	}

	fmt.Printf("%s is alive\n", srv.Address())
	return nil
}
