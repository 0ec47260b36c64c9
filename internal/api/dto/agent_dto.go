package dto

import "time"

// CreateAgentPayload registers a field agent.
type CreateAgentPayload struct {
	AgentCode     string            `json:"agent_code"`
	Name          string            `json:"name"`
	Department    string            `json:"department"`
	Skills        []string          `json:"skills"`
	CoverageZones []string          `json:"coverage_zones"`
	Active        *bool             `json:"active,omitempty"`
	Contacts      map[string]string `json:"contacts"`
}

// AgentResponse projects an agent.
type AgentResponse struct {
	ID            string            `json:"id"`
	AgentCode     string            `json:"agent_code"`
	Name          string            `json:"name"`
	Department    string            `json:"department"`
	Skills        []string          `json:"skills"`
	CoverageZones []string          `json:"coverage_zones"`
	Active        bool              `json:"active"`
	Contacts      map[string]string `json:"contacts"`
	CreatedAt     time.Time         `json:"created_at"`
}
