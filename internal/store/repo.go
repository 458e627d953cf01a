package store

import (
	"database/sql"
	"fmt"

	"github.com/devflow-ai/devflow/internal/errkind"
)

// RepoBinding is the (owner, name, installation ID, webhook secret,
// default branch) tuple from §3.
type RepoBinding struct {
	ID             string
	Owner          string
	Name           string
	InstallationID int64
	WebhookSecret  string
	DefaultBranch  string
}

// FullName returns "owner/name".
func (b RepoBinding) FullName() string { return b.Owner + "/" + b.Name }

// SaveRepoBinding inserts or replaces a repository binding.
func (s *Store) SaveRepoBinding(b RepoBinding) error {
	_, err := s.db.Exec(`
		INSERT INTO repo_bindings (id, owner, name, installation_id, webhook_secret, default_branch)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner=excluded.owner, name=excluded.name, installation_id=excluded.installation_id,
			webhook_secret=excluded.webhook_secret, default_branch=excluded.default_branch
	`, b.ID, b.Owner, b.Name, b.InstallationID, b.WebhookSecret, b.DefaultBranch)
	if err != nil {
		return fmt.Errorf("save repo binding: %w", err)
	}
	return nil
}

// GetRepoBindingByInstallation looks up a binding by installation ID, the
// lookup the webhook gateway performs to reject unknown installations.
func (s *Store) GetRepoBindingByInstallation(installationID int64) (RepoBinding, error) {
	var b RepoBinding
	err := s.db.QueryRow(`
		SELECT id, owner, name, installation_id, webhook_secret, default_branch
		FROM repo_bindings WHERE installation_id = ?
	`, installationID).Scan(&b.ID, &b.Owner, &b.Name, &b.InstallationID, &b.WebhookSecret, &b.DefaultBranch)
	if err == sql.ErrNoRows {
		return RepoBinding{}, errkind.UnknownInstallation
	}
	if err != nil {
		return RepoBinding{}, fmt.Errorf("get repo binding: %w", err)
	}
	return b, nil
}

// GetRepoBindingByFullName looks up a binding by owner/name, the lookup
// the HTTP API performs for the `/repos/{owner}/{name}/...` routes and
// for resolving a webhook payload's `repository.full_name` back to a
// local repo ID.
func (s *Store) GetRepoBindingByFullName(owner, name string) (RepoBinding, error) {
	var b RepoBinding
	err := s.db.QueryRow(`
		SELECT id, owner, name, installation_id, webhook_secret, default_branch
		FROM repo_bindings WHERE owner = ? AND name = ?
	`, owner, name).Scan(&b.ID, &b.Owner, &b.Name, &b.InstallationID, &b.WebhookSecret, &b.DefaultBranch)
	if err == sql.ErrNoRows {
		return RepoBinding{}, errkind.NotFound
	}
	if err != nil {
		return RepoBinding{}, fmt.Errorf("get repo binding by full name: %w", err)
	}
	return b, nil
}

// GetRepoBinding looks up a binding by its local ID.
func (s *Store) GetRepoBinding(id string) (RepoBinding, error) {
	var b RepoBinding
	err := s.db.QueryRow(`
		SELECT id, owner, name, installation_id, webhook_secret, default_branch
		FROM repo_bindings WHERE id = ?
	`, id).Scan(&b.ID, &b.Owner, &b.Name, &b.InstallationID, &b.WebhookSecret, &b.DefaultBranch)
	if err == sql.ErrNoRows {
		return RepoBinding{}, errkind.NotFound
	}
	if err != nil {
		return RepoBinding{}, fmt.Errorf("get repo binding: %w", err)
	}
	return b, nil
}
