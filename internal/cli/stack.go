package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/quorum/internal/config"
	"github.com/Dicklesworthstone/quorum/internal/dispatch"
	"github.com/Dicklesworthstone/quorum/internal/history"
	"github.com/Dicklesworthstone/quorum/internal/logging"
	"github.com/Dicklesworthstone/quorum/internal/orchestrator"
	"github.com/Dicklesworthstone/quorum/internal/plan"
	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/responder"
	"github.com/Dicklesworthstone/quorum/internal/score"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

// stack is the wired runtime shared by submit and serve.
type stack struct {
	cfg    config.Config
	log    *zap.Logger
	handle *registry.Handle
	store  *history.Store
	orch   *orchestrator.Orchestrator
	sink   dispatch.Sink
}

// buildStack wires the registry, responder pool, history store, and
// orchestrator from configuration. sink may be nil.
func buildStack(cfg config.Config, sink dispatch.Sink) (*stack, error) {
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return nil, err
	}

	reg, err := registry.LoadOrDefault(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load responder catalog: %w", err)
	}
	handle := registry.NewHandle(reg)

	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = history.InMemoryDSN
	}
	store, err := history.Open(historyPath)
	if err != nil {
		return nil, err
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithCandidateTimeout(cfg.Dispatch.CandidateTimeout),
		dispatch.WithLogger(log),
	}
	if sink != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithEventSink(sink))
	}
	dispatcher := dispatch.New(responder.PoolFromRegistry(reg), dispatchOpts...)

	orch := orchestrator.New(handle, dispatcher, cfg.PlannerConfigFor(),
		orchestrator.WithLogger(log),
		orchestrator.WithHistory(store),
		orchestrator.WithThresholds(cfg.ScoreThresholds()),
		orchestrator.WithEnsembleThresholds(cfg.EnsembleThresholds()),
		orchestrator.WithCostNormalizer(cfg.Scoring.CostNormalizer),
		orchestrator.WithRecentWindow(cfg.Scoring.RecentWindow),
	)

	return &stack{cfg: cfg, log: log, handle: handle, store: store, orch: orch, sink: sink}, nil
}

func (s *stack) Close() {
	if s.store != nil {
		s.store.Close()
	}
	s.log.Sync()
}

// buildDryRunStack wires the same pipeline over canned responders: every
// catalog profile answers with a deterministic text, credential checks are
// skipped, and evidence is synthesized so the acceptance path is reachable
// without any network call.
func buildDryRunStack(cfg config.Config) (*stack, error) {
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return nil, err
	}

	base, err := registry.LoadOrDefault(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load responder catalog: %w", err)
	}
	profiles := base.List()
	pool := dispatch.NewPool()
	for i := range profiles {
		profiles[i].CredentialEnv = ""
		profiles[i].ReliabilityBaseline = 1.0
		pool.Put(&responder.Static{
			ResponderName: profiles[i].Name,
			Text:          dryRunAnswer(profiles[i].Name),
			Cost:          profiles[i].CostPerUnit / 1000,
		})
	}
	reg, err := registry.New(profiles)
	if err != nil {
		return nil, err
	}
	handle := registry.NewHandle(reg)

	store, err := history.Open(history.InMemoryDSN)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(handle, dispatch.New(pool, dispatch.WithLogger(log)), cfg.PlannerConfigFor(),
		orchestrator.WithLogger(log),
		orchestrator.WithHistory(store),
		orchestrator.WithThresholds(cfg.ScoreThresholds()),
		orchestrator.WithEnsembleThresholds(cfg.EnsembleThresholds()),
		orchestrator.WithEvidenceSource(dryRunEvidence),
	)

	return &stack{cfg: cfg, log: log, handle: handle, store: store, orch: orch}, nil
}

func dryRunAnswer(name string) string {
	return fmt.Sprintf(`# Dry run

- Responder %s would answer the task here after a real dispatch.
- Planning, scoring, merging, and aggregation all ran for real.

We recommend rerunning without --dry-run once credentials are configured.`, name)
}

func dryRunEvidence(t task.Task, c plan.Candidate) score.Evidence {
	return score.Evidence{
		Checks:         []score.CheckResult{{Name: "dry-run", Passed: true}},
		Claims:         []string{"would answer the task"},
		SourceText:     "responder would answer the task here after a real dispatch",
		FluencyBoost:   0.05,
		RelevanceBoost: 0.05,
	}
}
