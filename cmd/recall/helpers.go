package main

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spacedlabs/recall/internal/catalog"
	"github.com/spacedlabs/recall/internal/config"
	"github.com/spacedlabs/recall/internal/database"
	"github.com/spacedlabs/recall/internal/idempotency"
	"github.com/spacedlabs/recall/internal/quiz"
	"github.com/spacedlabs/recall/internal/review"
	"github.com/spacedlabs/recall/internal/scheduler"
	"github.com/spacedlabs/recall/internal/selector"
	"github.com/spacedlabs/recall/internal/service"
	"github.com/spacedlabs/recall/internal/state"
)

func loadConfig() (*config.Config, error) {
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}
	return loader.Load()
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// buildService wires the scheduling core: repositories, memory model, guard,
// recorder, selector and quiz assembler behind the service facade.
func buildService(cfg *config.Config, db *sqlx.DB) *service.Service {
	states := state.NewDBRepository(db)
	ledger := review.NewDBLedger(db)
	model := scheduler.NewModel(cfg.Scheduler)
	guard := idempotency.NewDBGuard(db, time.Duration(cfg.Idempotency.TTLSeconds)*time.Second)
	recorder := review.NewRecorder(db, states, ledger, model, cfg.Session.LatencyBucketsMs, cfg.Scheduler.MaxRetryAttempts)
	sel := selector.NewSelector(states, cfg.Session)
	quizzes := quiz.NewDBRepository(db)
	assembler := quiz.NewAssembler(db, quizzes, sel, ledger, cfg.Session.MinCandidateItems)
	items := catalog.NewDBCatalog(db)

	return service.NewService(db, guard, recorder, assembler, sel, items, states, model)
}
