// Package config loads and validates declared network definitions.
//
// A definition names subnets with their hosts and routers joining them,
// plus the flags that shape provisioning (internet egress, private-only
// routing, hosts-file updates) and the images nodes run.
//
// Definition file locations when none is given (priority order):
//  1. $VNET_CONFIG
//  2. ./vnet.yaml
//  3. $XDG_CONFIG_HOME/vnet/config.yaml
//  4. ~/.config/vnet/config.yaml
//  5. /etc/vnet/config.yaml
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultName        = "vnet"
	DefaultNodeImage   = "d_host"
	DefaultRouterImage = "d_router"
	DefaultNetnsDir    = "/var/run/netns"
	DefaultCallTimeout = 30 * time.Second
)

// Load finds and loads the definition file
func Load() (*Network, string, error) {
	path := FindConfigPath()
	if path == "" {
		return nil, "", errors.New("no network definition found")
	}
	return LoadFromPath(path)
}

// LoadFromPath loads and validates a definition from a specific path
func LoadFromPath(path string) (*Network, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, errors.Wrap(err, "read config")
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes, defaults and validates a definition
func Parse(data []byte) (*Network, error) {
	var cfg Network
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the definition to path
func (n *Network) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := yaml.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	return os.WriteFile(path, data, 0644)
}

// applyDefaults fills in missing values with defaults
func (n *Network) applyDefaults() {
	if n.Version == 0 {
		n.Version = 1
	}
	if n.Name == "" {
		n.Name = DefaultName
	}
	if n.Images.Node == "" {
		n.Images.Node = DefaultNodeImage
	}
	if n.Images.Router == "" {
		n.Images.Router = DefaultRouterImage
	}
	if n.NetnsDir == "" {
		n.NetnsDir = DefaultNetnsDir
	}
}
