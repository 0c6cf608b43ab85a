package api

import "github.com/banking-router-poc/server/internal/agent/taxonomy"

type AgentInfo struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
}

// AgentDirectory lists the umbrella agent and one entry per domain.
type AgentDirectory struct {
	MainAgent         AgentInfo   `json:"main_agent"`
	SpecializedAgents []AgentInfo `json:"specialized_agents"`
}

func NewAgentDirectory(tax *taxonomy.Taxonomy) AgentDirectory {
	dir := AgentDirectory{
		MainAgent: AgentInfo{
			Name:        tax.Root.AgentName,
			Endpoint:    tax.Root.Endpoint,
			Description: tax.Root.Description,
		},
		SpecializedAgents: make([]AgentInfo, 0, len(tax.Domains)),
	}
	for _, d := range tax.Domains {
		dir.SpecializedAgents = append(dir.SpecializedAgents, AgentInfo{
			Name:        d.AgentName,
			Endpoint:    d.Endpoint,
			Description: d.Description,
		})
	}
	return dir
}
