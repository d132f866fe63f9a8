// Package config loads the declarative YAML description of a process's
// network/node/instance/servlet tables (SPEC_FULL.md §1.3), standing
// in for the out-of-scope embedded-Lua table population that
// original_source/server/libs/libgx/network.cpp's Network::init() and
// application.cpp's Application::init() perform via script.h.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opengxv/solo/internal/network"
)

// Instance is one NetworkInstance entry under a node.
type Instance struct {
	ID       uint32  `yaml:"id"`
	Host     string  `yaml:"host"`
	Port     int     `yaml:"port"`
	Servlets []uint16 `yaml:"servlets"`
}

// Node is one NetworkNode entry: a node_type, its regular instances,
// and its (never-dialed) AP instances.
type Node struct {
	Type        uint32     `yaml:"type"`
	Name        string     `yaml:"name"`
	Instances   []Instance `yaml:"instances"`
	APInstances []Instance `yaml:"ap_instances"`
}

// File is the top-level shape of etc/network.yaml.
type File struct {
	RPCTimeoutMS     int64  `yaml:"rpc_timeout_ms"`
	ConnectTimeoutMS int64  `yaml:"connect_timeout_ms"`
	RetryIntervalMS  int64  `yaml:"retry_interval_ms"`
	Nodes            []Node `yaml:"nodes"`
}

// Load parses path and returns the decoded File.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// NetworkConfig extracts the timeout/retry parameters as a
// network.Config.
func (f *File) NetworkConfig() network.Config {
	return network.Config{
		RPCTimeoutMS:     f.RPCTimeoutMS,
		ConnectTimeoutMS: f.ConnectTimeoutMS,
		RetryIntervalMS:  f.RetryIntervalMS,
	}
}

// Populate adds every node/instance described by f to n, via
// n.AddNode/n.AddInstance, matching spec.md §4.H.1's "populated once at
// startup ... and never mutated thereafter".
func Populate(n *network.Network, f *File) {
	for _, nd := range f.Nodes {
		node := n.AddNode(nd.Type, nd.Name)
		for _, in := range nd.Instances {
			n.AddInstance(toInstance(in, node, false), node)
		}
		for _, in := range nd.APInstances {
			n.AddInstance(toInstance(in, node, true), node)
		}
	}
}

func toInstance(in Instance, node *network.Node, isAP bool) *network.Instance {
	servlets := make(map[uint16]bool, len(in.Servlets))
	for _, st := range in.Servlets {
		servlets[st] = true
	}
	return &network.Instance{
		ID:       network.InstanceID{Type: uint16(node.Type), ID: in.ID},
		Host:     in.Host,
		Port:     in.Port,
		Node:     node,
		IsAP:     isAP,
		Servlets: servlets,
	}
}
