package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"viewsync/internal/config"
	"viewsync/internal/consistency"
	"viewsync/internal/engine"
	"viewsync/internal/flow"
	"viewsync/internal/logging"
	"viewsync/internal/views"
)

var seedDemo bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine with periodic consistency validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		return runService(cfg)
	},
}

func init() {
	runCmd.Flags().BoolVar(&seedDemo, "seed", false, "seed sample pipeline data on startup")
}

func runService(cfg config.Config) error {
	mappings := cfg.FlowMappings()
	table, err := flow.NewTable(mappings, nil)
	if err != nil {
		return err
	}
	store := views.NewStore(table.DeclaredTypes())
	engCfg := cfg.EngineConfig()
	eng := engine.New(store, table, engCfg)
	validator, err := consistency.New(store, table, cfg.ValidatorConfig())
	if err != nil {
		return err
	}

	eng.Start()
	defer eng.Stop()
	logging.Boot("viewsync %s up: %d flow mappings, tick %v, validation every %v",
		version, len(mappings), engCfg.TickInterval, cfg.GetValidationInterval())

	if seedDemo {
		if err := seedPipeline(eng); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.GetValidationInterval())
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logging.Boot("received %v, shutting down", sig)
			return nil
		case <-ticker.C:
			result, err := validator.RunValidation()
			if err != nil {
				logging.Validator("validation failed: %v", err)
				continue
			}
			if cfg.AutoFix && result.OverallStatus != consistency.StatusPassed {
				for _, outcome := range validator.ApplyAutomatedFixes(eng) {
					if outcome.Err != nil {
						logging.Validator("auto-fix %s: %v", outcome.Type, outcome.Err)
					}
				}
			}
			logging.Get(logging.CategoryMetrics).Info("engine: %s", eng.Metrics())
		}
	}
}

// seedPipeline pushes a handful of organizations and leads through the flow
// so a fresh install has something to sync and validate.
func seedPipeline(eng *engine.Engine) error {
	now := time.Now()
	orgs := []views.Record{
		{ID: "org-001", Fields: map[string]interface{}{"name": "Acme Analytics", "domain": "acme.example"}, Score: 0.82, UpdatedAt: now},
		{ID: "org-002", Fields: map[string]interface{}{"name": "Borealis Labs", "domain": "borealis.example"}, Score: 0.64, UpdatedAt: now},
		{ID: "org-003", Fields: map[string]interface{}{"name": "Cobalt Systems", "domain": "cobalt.example"}, Score: 0.47, UpdatedAt: now},
	}
	if err := eng.LoadViewSnapshot(views.ViewDiscover, views.DataOrganizations, orgs); err != nil {
		return err
	}
	leads := []views.Record{
		{ID: "lead-101", Fields: map[string]interface{}{"name": "Dana Reyes", "fit_score": 0.9, "intent_score": 0.7}, Score: 0.8, UpdatedAt: now},
		{ID: "lead-102", Fields: map[string]interface{}{"name": "Jo Lindqvist", "fit_score": 0.5, "intent_score": 0.4}, Score: 0.45, UpdatedAt: now},
	}
	if err := eng.LoadViewSnapshot(views.ViewResearch, views.DataLeads, leads); err != nil {
		return err
	}

	if _, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, orgs, engine.PriorityHigh); err != nil {
		return err
	}
	if _, err := eng.TriggerSync(views.ViewResearch, nil, views.DataLeads, leads, engine.PriorityMedium); err != nil {
		return err
	}
	logging.Boot("seeded %d organizations and %d leads", len(orgs), len(leads))
	return nil
}
