package domain

import "time"

// Agent is read-only roster data as far as the lifecycle engine is
// concerned. Workload is derived by counting active requests, not stored.
type Agent struct {
	ID            string
	AgentCode     string
	Name          string
	Department    string
	Skills        []string
	CoverageZones []string
	Active        bool
	Contacts      map[string]string
	CreatedAt     time.Time
}

// CoversZone reports whether the agent's coverage includes the zone.
func (a *Agent) CoversZone(zoneID string) bool {
	for _, zone := range a.CoverageZones {
		if zone == zoneID {
			return true
		}
	}
	return false
}

// HasSkill reports whether the agent lists the given skill. Agents with no
// skill data are handled by the caller; absence of data is not
// disqualifying.
func (a *Agent) HasSkill(skill string) bool {
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// GeneralSkill is the catch-all skill accepted for any category.
const GeneralSkill = "general"
