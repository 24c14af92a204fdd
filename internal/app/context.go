package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courtline/internal/config"
	"courtline/internal/repo"
)

// ResolveCourtAndConfig ensures a court and its configuration exist in the
// database, seeding defaults when missing. The workspace court.yml, when
// present, takes precedence over the stored copy so statutory changes are
// picked up on the next run.
func ResolveCourtAndConfig(ctx context.Context, workspace, courtOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	courtID := courtOverride
	if courtID == "" && fileCfg != nil {
		courtID = fileCfg.Court.ID
	}
	if courtID == "" {
		courtID = "default-court"
	}

	seedCfg := fileCfg
	if seedCfg == nil {
		seedCfg = config.Default(courtID)
	}
	if err := ensureCourt(ctx, r, courtID, seedCfg); err != nil {
		return "", nil, err
	}

	if fileCfg != nil {
		if err := r.UpsertCourtConfig(ctx, courtID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store court config: %w", err)
		}
		return courtID, fileCfg, nil
	}

	cfg, err := r.GetCourtConfig(ctx, courtID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertCourtConfig(ctx, courtID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed court config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Court.ID = courtID
	return courtID, cfg, nil
}

func ensureCourt(ctx context.Context, r repo.Repo, courtID string, cfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureCourt(ctx, tx, courtID, cfg.Court.Name, cfg.Court.Venue, now); err != nil {
		return fmt.Errorf("ensure court: %w", err)
	}
	return tx.Commit()
}
