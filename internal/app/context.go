package app

import (
	"context"
	"errors"
	"fmt"

	"archon/internal/config"
	"archon/internal/engine"
	"archon/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures its
// config exists in the DB, seeding defaults if missing. It prefers the
// override, then a single-project DB.
func ResolveProjectAndConfig(ctx context.Context, projectOverride, actorID string, eng engine.Engine) (string, *config.Config, error) {
	r := eng.Repo
	projectID := projectOverride
	if projectID == "" {
		projects, err := r.ListProjects(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(projects) != 1 {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = projects[0].ID
	}
	seedCfg := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := eng.InitProject(ctx, projectID, projectID, actorID); err != nil {
			return "", nil, fmt.Errorf("create project: %w", err)
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
