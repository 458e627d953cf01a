package store

import "fmt"

// AgentRegistration binds an agent name to a repository with the tier and
// default role the assignment dispatcher and PR reviewer-queue builder
// consult.
type AgentRegistration struct {
	RepoID      string
	AgentName   string
	Tier        string
	DefaultRole string
}

// SaveAgentRegistration inserts or replaces a repository's agent entry.
func (s *Store) SaveAgentRegistration(r AgentRegistration) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_registry (repo_id, agent_name, tier, default_role)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id, agent_name) DO UPDATE SET
			tier=excluded.tier, default_role=excluded.default_role
	`, r.RepoID, r.AgentName, r.Tier, r.DefaultRole)
	if err != nil {
		return fmt.Errorf("save agent registration: %w", err)
	}
	return nil
}

// AgentsForRepo returns every agent registered against a repository.
func (s *Store) AgentsForRepo(repoID string) ([]AgentRegistration, error) {
	rows, err := s.db.Query(`
		SELECT repo_id, agent_name, tier, default_role FROM agent_registry WHERE repo_id = ?
	`, repoID)
	if err != nil {
		return nil, fmt.Errorf("agents for repo: %w", err)
	}
	defer rows.Close()

	var out []AgentRegistration
	for rows.Next() {
		var r AgentRegistration
		if err := rows.Scan(&r.RepoID, &r.AgentName, &r.Tier, &r.DefaultRole); err != nil {
			return nil, fmt.Errorf("scan agent registration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RemoveAgentRegistration deregisters an agent from a repository.
func (s *Store) RemoveAgentRegistration(repoID, agentName string) error {
	_, err := s.db.Exec(`DELETE FROM agent_registry WHERE repo_id = ? AND agent_name = ?`, repoID, agentName)
	if err != nil {
		return fmt.Errorf("remove agent registration: %w", err)
	}
	return nil
}
