// Package generator produces synthetic audit events, both on a fixed
// interval and on demand through the injection endpoint.
package generator

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Pools hold the value sets random event fields draw from.
type Pools struct {
	Hostnames []string `yaml:"hostnames"`
	Users     []string `yaml:"users"`
	Files     []string `yaml:"files"`
	Commands  []string `yaml:"commands"`
	Services  []string `yaml:"services"`
	Protocols []string `yaml:"protocols"`
}

func (p *Pools) byName(name string) []string {
	switch name {
	case "hostnames":
		return p.Hostnames
	case "users":
		return p.Users
	case "files":
		return p.Files
	case "commands":
		return p.Commands
	case "services":
		return p.Services
	case "protocols":
		return p.Protocols
	}
	return nil
}

// Template fixes the static shape of one synthetic event kind. Details
// listed here are copied verbatim into every generated event.
type Template struct {
	EventType    string                 `yaml:"event_type"`
	Severity     string                 `yaml:"severity"`
	ActionResult string                 `yaml:"action_result"`
	ResourcePool string                 `yaml:"resource_pool"`
	Details      map[string]interface{} `yaml:"details"`
}

// Catalog is the parsed event catalog.
type Catalog struct {
	Pools     Pools      `yaml:"pools"`
	Templates []Template `yaml:"templates"`
}

func loadCatalog() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(templatesYAML, &c); err != nil {
		return nil, fmt.Errorf("parse event catalog: %w", err)
	}
	if len(c.Templates) == 0 {
		return nil, fmt.Errorf("event catalog has no templates")
	}

	for name, pool := range map[string][]string{
		"hostnames": c.Pools.Hostnames,
		"users":     c.Pools.Users,
		"files":     c.Pools.Files,
		"commands":  c.Pools.Commands,
		"services":  c.Pools.Services,
		"protocols": c.Pools.Protocols,
	} {
		if len(pool) == 0 {
			return nil, fmt.Errorf("event catalog pool %q is empty", name)
		}
	}

	for _, tmpl := range c.Templates {
		if tmpl.EventType == "" || tmpl.ActionResult == "" {
			return nil, fmt.Errorf("event catalog template missing event_type or action_result")
		}
		if tmpl.ResourcePool != "" && c.Pools.byName(tmpl.ResourcePool) == nil {
			return nil, fmt.Errorf("template %s references unknown pool %q",
				tmpl.EventType, tmpl.ResourcePool)
		}
	}
	return &c, nil
}
