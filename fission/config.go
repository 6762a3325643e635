// YAML run configuration.
//
// A minimal example:
//
//	repositories:
//	  - name: kernel
//	    match: "^src/"
//	  - name: rest
//	    match: ""
//	max_revisions: 40000
//
// Destination order matters; a path goes to the first match.  An empty
// pattern matches everything, so a catch-all destination goes last.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"fmt"
	"io/ioutil"

	yaml "gopkg.in/yaml.v3"
)

type RepoConfig struct {
	Name          string `yaml:"name"`
	Match         string `yaml:"match"`
	ImportCommand string `yaml:"import_command,omitempty"`
}

type LayoutConfig struct {
	Trunk    string `yaml:"trunk,omitempty"`
	Branches string `yaml:"branches,omitempty"`
	Tags     string `yaml:"tags,omitempty"`
}

type Config struct {
	Repositories    []RepoConfig `yaml:"repositories"`
	Layout          LayoutConfig `yaml:"layout,omitempty"`
	IgnoreRevisions []uint32     `yaml:"ignore_revisions,omitempty"`
	IgnoreTags      []string     `yaml:"ignore_tags,omitempty"`
	MaxRevisions    uint32       `yaml:"max_revisions,omitempty"`
	FilterTabs      bool         `yaml:"filter_tabs,omitempty"`
	Encoding        string       `yaml:"encoding,omitempty"`
}

func loadConfig(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if len(cfg.Repositories) == 0 {
		return nil, fmt.Errorf("%s: must define at least one destination repository", path)
	}
	seen := make(map[string]bool)
	for _, rc := range cfg.Repositories {
		if rc.Name == "" {
			return nil, fmt.Errorf("%s: destination with no name", path)
		}
		if seen[rc.Name] {
			return nil, fmt.Errorf("%s: duplicate destination name %q", path, rc.Name)
		}
		seen[rc.Name] = true
	}
	return cfg, nil
}

// layout resolves the configured path bases, defaulting to the
// conventional Subversion shape.
func (cfg *Config) layout() Layout {
	trunk, branches, tags := cfg.Layout.Trunk, cfg.Layout.Branches, cfg.Layout.Tags
	if trunk == "" {
		trunk = "trunk"
	}
	if branches == "" {
		branches = "branches"
	}
	if tags == "" {
		tags = "tags"
	}
	return newLayout(trunk, branches, tags)
}

// end
