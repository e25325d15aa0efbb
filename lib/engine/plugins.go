// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/lukaszwojciechowski/cynara/lib/config"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// Plugin describes one plugin policy type: which agent answers it and
// how it is named in the admin tools.
type Plugin struct {
	Type        policy.Type
	Name        string
	Agent       string
	Description string
}

// Description pairs a policy type with its display name.
type Description struct {
	Type policy.Type
	Name string
}

// Plugins is the registry of plugin types. It is immutable after
// construction.
type Plugins struct {
	byType map[policy.Type]Plugin
	byName map[string]Plugin
}

// NewPlugins builds a registry, rejecting predefined types, duplicate
// types and duplicate names.
func NewPlugins(plugins []Plugin) (*Plugins, error) {
	registry := &Plugins{
		byType: make(map[policy.Type]Plugin, len(plugins)),
		byName: make(map[string]Plugin, len(plugins)),
	}
	for _, plugin := range plugins {
		if plugin.Type.IsPredefined() {
			return nil, fmt.Errorf("plugin %q: type %d is predefined", plugin.Name, plugin.Type)
		}
		if plugin.Agent == "" {
			return nil, fmt.Errorf("plugin %q: agent type is required", plugin.Name)
		}
		if _, exists := registry.byType[plugin.Type]; exists {
			return nil, fmt.Errorf("plugin %q: type %d registered twice", plugin.Name, plugin.Type)
		}
		registry.byType[plugin.Type] = plugin
		if plugin.Name == "" {
			continue
		}
		name := strings.ToLower(plugin.Name)
		if _, exists := registry.byName[name]; exists {
			return nil, fmt.Errorf("plugin name %q registered twice", plugin.Name)
		}
		registry.byName[name] = plugin
	}
	return registry, nil
}

// PluginsFromConfig builds a registry from the daemon configuration.
func PluginsFromConfig(plugins []config.Plugin) (*Plugins, error) {
	converted := make([]Plugin, len(plugins))
	for i, plugin := range plugins {
		converted[i] = Plugin{
			Type:        policy.Type(plugin.Type),
			Name:        plugin.Name,
			Agent:       plugin.Agent,
			Description: plugin.Description,
		}
	}
	return NewPlugins(converted)
}

// Lookup returns the plugin registered for t.
func (p *Plugins) Lookup(t policy.Type) (Plugin, bool) {
	plugin, ok := p.byType[t]
	return plugin, ok
}

// ParseType resolves a plugin name (case-insensitive) or anything
// [policy.ParseType] accepts. It is the type parser for seed files
// and admin input.
func (p *Plugins) ParseType(text string) (policy.Type, error) {
	if plugin, ok := p.byName[strings.ToLower(strings.TrimSpace(text))]; ok {
		return plugin.Type, nil
	}
	return policy.ParseType(text)
}

// AgentTypes returns the distinct agent types plugins refer to, sorted.
func (p *Plugins) AgentTypes() []string {
	var agents []string
	for _, plugin := range p.byType {
		if !slices.Contains(agents, plugin.Agent) {
			agents = append(agents, plugin.Agent)
		}
	}
	slices.Sort(agents)
	return agents
}

// Descriptions lists the predefined types followed by the plugin
// types in ascending order. Plugins without a name are described by
// their number.
func (p *Plugins) Descriptions() []Description {
	descriptions := make([]Description, 0, len(policy.Predefined())+len(p.byType))
	for _, t := range policy.Predefined() {
		descriptions = append(descriptions, Description{Type: t, Name: t.Name()})
	}

	plugins := make([]Plugin, 0, len(p.byType))
	for _, plugin := range p.byType {
		plugins = append(plugins, plugin)
	}
	slices.SortFunc(plugins, func(a, b Plugin) int {
		return cmp.Compare(a.Type, b.Type)
	})
	for _, plugin := range plugins {
		name := plugin.Name
		if name == "" {
			name = plugin.Type.String()
		}
		descriptions = append(descriptions, Description{Type: plugin.Type, Name: name})
	}
	return descriptions
}
