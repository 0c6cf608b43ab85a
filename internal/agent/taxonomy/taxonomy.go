// Package taxonomy loads the declarative routing tree: one root, its domains
// and each domain's responders.
package taxonomy

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/banking-router-poc/server/config"
	"github.com/banking-router-poc/server/internal/agent/knowledge"
	"github.com/banking-router-poc/server/internal/agent/model"
	"github.com/banking-router-poc/server/pkg/validate"
)

type Responder struct {
	Name         string   `yaml:"name" validate:"required"`
	Title        string   `yaml:"title" validate:"required"`
	AgentName    string   `yaml:"agent_name" validate:"required"`
	Description  string   `yaml:"description"`
	Topics       []string `yaml:"topics" validate:"min=1,dive,required"`
	Instructions []string `yaml:"instructions"`
	Collections  []string `yaml:"collections"`
}

func (r Responder) Category() model.RoutingCategory {
	return model.RoutingCategory{
		Name:           r.Name,
		Title:          r.Title,
		Description:    r.Description,
		ExemplarTopics: r.Topics,
	}
}

type Domain struct {
	Name        string      `yaml:"name" validate:"required"`
	Title       string      `yaml:"title" validate:"required"`
	AgentName   string      `yaml:"agent_name" validate:"required"`
	Partition   string      `yaml:"partition"`
	Endpoint    string      `yaml:"endpoint" validate:"required,startswith=/"`
	Description string      `yaml:"description"`
	Topics      []string    `yaml:"topics"`
	Corpus      []string    `yaml:"corpus" validate:"min=1"`
	Responders  []Responder `yaml:"responders" validate:"min=1,dive"`
}

// Category describes the domain to its parent. Its topics are the domain's own
// topics followed by every responder's, without duplicates.
func (d Domain) Category() model.RoutingCategory {
	topics := slices.Clone(d.Topics)
	for _, r := range d.Responders {
		for _, t := range r.Topics {
			if !slices.Contains(topics, t) {
				topics = append(topics, t)
			}
		}
	}
	return model.RoutingCategory{
		Name:           d.Name,
		Title:          d.Title,
		Description:    d.Description,
		ExemplarTopics: topics,
	}
}

// Categories lists the routing categories of the domain's responders.
func (d Domain) Categories() []model.RoutingCategory {
	out := make([]model.RoutingCategory, 0, len(d.Responders))
	for _, r := range d.Responders {
		out = append(out, r.Category())
	}
	return out
}

type Root struct {
	Name        string `yaml:"name" validate:"required"`
	Title       string `yaml:"title" validate:"required"`
	AgentName   string `yaml:"agent_name" validate:"required"`
	Partition   string `yaml:"partition" validate:"required"`
	Endpoint    string `yaml:"endpoint" validate:"required,startswith=/"`
	Description string `yaml:"description"`
}

type Taxonomy struct {
	Root    Root     `yaml:"root" validate:"required"`
	Domains []Domain `yaml:"domains" validate:"min=1,dive"`
}

// Load reads the taxonomy from path, or the embedded default when path is empty.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Parse(config.Taxonomy)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	for i := range t.Domains {
		if t.Domains[i].Partition == "" {
			t.Domains[i].Partition = t.Domains[i].Name
		}
	}
	if err := validate.Struct(t); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}
	if err := t.checkUnique(); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}
	return &t, nil
}

func (t *Taxonomy) checkUnique() error {
	names := map[string]bool{t.Root.Name: true}
	partitions := map[string]bool{t.Root.Partition: true}
	for _, d := range t.Domains {
		if names[d.Name] {
			return fmt.Errorf("duplicate node name %q", d.Name)
		}
		names[d.Name] = true
		if partitions[d.Partition] {
			return fmt.Errorf("duplicate partition %q", d.Partition)
		}
		partitions[d.Partition] = true
		for _, r := range d.Responders {
			if names[r.Name] {
				return fmt.Errorf("duplicate node name %q", r.Name)
			}
			names[r.Name] = true
		}
	}
	return nil
}

// Domain returns the domain with the given name.
func (t *Taxonomy) Domain(name string) (Domain, bool) {
	for _, d := range t.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// Categories lists the root's routing categories, one per domain.
func (t *Taxonomy) Categories() []model.RoutingCategory {
	out := make([]model.RoutingCategory, 0, len(t.Domains))
	for _, d := range t.Domains {
		out = append(out, d.Category())
	}
	return out
}

// KnowledgePartitions lists the corpus files behind each domain partition.
func (t *Taxonomy) KnowledgePartitions() []knowledge.Partition {
	out := make([]knowledge.Partition, 0, len(t.Domains))
	for _, d := range t.Domains {
		out = append(out, knowledge.Partition{Name: d.Partition, Files: d.Corpus})
	}
	return out
}
