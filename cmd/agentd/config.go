package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentd/agentd/internal/permission"
)

// Config is agentd's top-level configuration document, decoded from YAML
// (spec §6): the permission configuration plus a handful of process-level
// knobs the core itself leaves to the embedder.
type Config struct {
	Permission permission.Configuration `yaml:"permission"`
	Mode       string                   `yaml:"mode,omitempty"`

	// ToolCeilings maps a tool name to its declared permission level
	// ("read_only", "standard", "elevated", "dangerous"), consulted at
	// Permission Engine evaluation step 6.
	ToolCeilings map[string]string `yaml:"tool_ceilings,omitempty"`

	// FabricListenAddr, if set, starts the gRPC transport's server side
	// on this address; the same address is the transport's dial target for
	// outbound invocations.
	FabricListenAddr string `yaml:"fabric_listen_addr,omitempty"`
}

// LoadConfig reads and decodes a Config from path. A missing file is not
// an error: it yields the zero Config (no rules and no default_action, so
// every tool call needs an approval, which expires into a denial when
// unanswered; no tool ceilings configured).
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func toolLevel(name string) permission.ToolLevel {
	switch name {
	case "dangerous":
		return permission.LevelDangerous
	case "elevated":
		return permission.LevelElevated
	case "read_only":
		return permission.LevelReadOnly
	default:
		return permission.LevelStandard
	}
}

func toolMode(name string) permission.Mode {
	switch name {
	case "bypass_permissions":
		return permission.ModeBypassPermissions
	case "plan":
		return permission.ModePlan
	case "accept_edits":
		return permission.ModeAcceptEdits
	default:
		return permission.ModeDefault
	}
}
