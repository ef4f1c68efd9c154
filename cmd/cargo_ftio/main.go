// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// cargo_ftio arms FTIO deferred staging on a cargo coordinator.
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
	app.Name = "cargo_ftio"
	app.Usage = "Deferred-staging control for Cargo"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server, s",
			Usage:  "Address of the Cargo server",
			EnvVar: "CCP_SERVER",
		},
		cli.Float64Flag{
			Name:  "conf, c",
			Usage: "Confidence of the FTIO prediction",
		},
		cli.Float64Flag{
			Name:  "probability, p",
			Usage: "Probability of the FTIO prediction",
		},
		cli.Float64Flag{
			Name:  "period, t",
			Usage: "Predicted I/O period in seconds; positive values trigger staging automatically",
			Value: -1,
		},
		cli.BoolFlag{
			Name:  "run",
			Usage: "Trigger the stored transfer now",
		},
	}
	app.Action = runFTIO
	if err := app.Run(os.Args); err != nil {
		alert.Abort(err)
	}
}

func runFTIO(c *cli.Context) error {
	if c.String("server") == "" {
		return fmt.Errorf("no server address given (use --server or CCP_SERVER)")
	}

	srv, err := client.NewServer(c.String("server"))
	if err != nil {
		return err
	}
	defer srv.Close()

	err = client.FTIO(srv,
		float32(c.Float64("conf")),
		float32(c.Float64("probability")),
		c.Float64("period"),
		c.Bool("run"))
	if err != nil {
		return err
	}

	fmt.Println("ftio parameters accepted")
	return nil
}
