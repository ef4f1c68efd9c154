// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// ccp is the cargo parallel copy tool.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/intel-hpdd/logging/alert"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/client"
)

var version string // Set by build environment

func main() {
	app := cli.NewApp()
	app.Name = "ccp"
	app.Usage = "Cargo parallel copy tool"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server, s",
			Usage:  "Address of the Cargo server",
			EnvVar: "CCP_SERVER",
		},
		cli.StringSliceFlag{
			Name:  "input, i",
			Usage: "Input dataset(s)",
		},
		cli.StringSliceFlag{
			Name:  "output, o",
			Usage: "Output dataset(s)",
		},
		cli.StringFlag{
			Name:  "if",
			Usage: "Kind of the input datasets (posix, parallel, none, adhoc-A, adhoc-B, adhoc-C, object-store)",
			Value: "posix",
		},
		cli.StringFlag{
			Name:  "of",
			Usage: "Kind of the output datasets",
			Value: "posix",
		},
	}
	app.Action = runCopy
	if err := app.Run(os.Args); err != nil {
		alert.Abort(err)
	}
}

func datasets(paths []string, kindName string) ([]cargo.Dataset, error) {
	kind, ok := cargo.ParseDatasetKind(kindName)
	if !ok {
		return nil, fmt.Errorf("unknown dataset kind %q", kindName)
	}
	out := make([]cargo.Dataset, 0, len(paths))
	for _, p := range paths {
		out = append(out, cargo.NewDataset(p, kind))
	}
	return out, nil
}

func runCopy(c *cli.Context) error {
	if c.String("server") == "" {
		return fmt.Errorf("no server address given (use --server or CCP_SERVER)")
	}
	if len(c.StringSlice("input")) == 0 || len(c.StringSlice("output")) == 0 {
		return fmt.Errorf("both --input and --output are required")
	}

	srv, err := client.NewServer(c.String("server"))
	if err != nil {
		return err
	}
	defer srv.Close()

	sources, err := datasets(c.StringSlice("input"), c.String("if"))
	if err != nil {
		return err
	}
	targets, err := datasets(c.StringSlice("output"), c.String("of"))
	if err != nil {
		return err
	}

	tx, err := client.TransferDatasets(srv, sources, targets)
	if err != nil {
		return err
	}

	st, err := tx.Wait()
	if err != nil {
		return err
	}
	if st.Failed() {
		ec := st.Error()
		return fmt.Errorf("transfer %d failed: %s", tx.ID(), ec.Message())
	}

	fmt.Printf("transfer %d completed\n", tx.ID())
	return nil
}
