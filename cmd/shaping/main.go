// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// shaping pushes a bandwidth-shaping delta to a running cargo transfer.
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
	app.Name = "shaping"
	app.Usage = "Bandwidth control for Cargo transfers"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server, s",
			Usage:  "Address of the Cargo server",
			EnvVar: "CCP_SERVER",
		},
		cli.Uint64Flag{
			Name:  "tid, t",
			Usage: "Transfer to shape",
		},
		cli.IntFlag{
			Name:  "shaping, b",
			Usage: "Signed throttle delta; positive values slow the transfer down",
		},
	}
	app.Action = runShaping
	if err := app.Run(os.Args); err != nil {
		alert.Abort(err)
	}
}

func runShaping(c *cli.Context) error {
	if c.String("server") == "" {
		return fmt.Errorf("no server address given (use --server or CCP_SERVER)")
	}

	srv, err := client.NewServer(c.String("server"))
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := client.BWControl(srv, c.Uint64("tid"), int16(c.Int("shaping"))); err != nil {
		return err
	}

	fmt.Printf("shaping applied to transfer %d\n", c.Uint64("tid"))
	return nil
}
