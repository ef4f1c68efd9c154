// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package master

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/logging/alert"
)

// Defaults for the coordinator configuration.
const (
	DefaultConfigPath  = "/etc/cargo/cargo.conf"
	DefaultAddress     = "tcp://localhost:62000"
	DefaultNumWorkers  = 3
	DefaultBlockSizeKB = 512
)

// ObjectStoreSettings configures the object-store backend from the config
// file.
type ObjectStoreSettings struct {
	Endpoint string `hcl:"endpoint"`
	Region   string `hcl:"region"`
	Bucket   string `hcl:"bucket"`
	Prefix   string `hcl:"prefix"`
	SpoolDir string `hcl:"spool_dir"`
}

// Config is the coordinator configuration. Values come from the optional
// HCL config file and may be overridden by daemon flags.
type Config struct {
	Name        string               `hcl:"name"`
	Address     string               `hcl:"address"`
	NumWorkers  int                  `hcl:"num_workers"`
	BlockSizeKB int64                `hcl:"block_size_kb"`
	Output      string               `hcl:"output"`
	ObjectStore *ObjectStoreSettings `hcl:"object_store"`
}

// NewConfig returns a Config with the defaults filled in.
func NewConfig() *Config {
	return &Config{
		Name:        "cargo",
		Address:     DefaultAddress,
		NumWorkers:  DefaultNumWorkers,
		BlockSizeKB: DefaultBlockSizeKB,
	}
}

// BlockSize returns the stripe block size in bytes.
func (c *Config) BlockSize() int64 {
	return c.BlockSizeKB * 1024
}

// BlockSizeText formats the block size for log lines.
func (c *Config) BlockSizeText() string {
	return humanize.IBytes(uint64(c.BlockSize()))
}

func (c *Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		alert.Abort(errors.Wrap(err, "marshal config failed"))
	}

	var out bytes.Buffer
	json.Indent(&out, data, "", "\t")
	return out.String()
}

// LoadConfig reads the config file at path and decodes it over cfg. The
// file must not be group- or world-accessible.
func LoadConfig(path string, cfg *Config) error {
	fi, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "stat config file failed")
	}
	if (int(fi.Mode()) & 077) != 0 {
		return errors.New("config file permissions are insecure")
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file failed")
	}

	if err := hcl.Decode(cfg, string(data)); err != nil {
		return errors.Wrap(err, "decode config file failed")
	}

	return nil
}
