package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/batch"
	"github.com/JonMunkholm/addrintel/internal/config"
	"github.com/JonMunkholm/addrintel/internal/confirm"
	"github.com/JonMunkholm/addrintel/internal/country"
	"github.com/JonMunkholm/addrintel/internal/logging"
	"github.com/JonMunkholm/addrintel/internal/metrics"
	"github.com/JonMunkholm/addrintel/internal/oracle"
	"github.com/JonMunkholm/addrintel/internal/store"
	"github.com/JonMunkholm/addrintel/internal/validation"
)

// saveTimeout bounds persisting a batch row result.
const saveTimeout = 5 * time.Second

// Deps are the collaborators a Service is built from. Interpreter is
// required. A nil Agent disables confirmation, a nil Store keeps results
// in memory and a nil Registry reads rules from the configured directory.
type Deps struct {
	Interpreter oracle.Interpreter
	Agent       confirm.Agent
	Store       store.Store
	Metrics     *metrics.Metrics
	Registry    *country.Registry
}

// Service provides the address validation operations used by the HTTP API
// and the bulk CLI.
type Service struct {
	cfg       *config.Config
	registry  *country.Registry
	validator *validation.Validator
	jobs      *batch.Manager
	tracker   *confirm.Tracker
	store     store.Store
	metrics   *metrics.Metrics
	model     string
	startedAt time.Time
}

// NewService wires a Service from configuration and dependencies.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Interpreter == nil {
		return nil, errors.New("oracle interpreter is required")
	}

	s := &Service{
		cfg:       cfg,
		registry:  deps.Registry,
		store:     deps.Store,
		metrics:   deps.Metrics,
		model:     oracle.ModelName(deps.Interpreter),
		startedAt: time.Now(),
	}
	if s.store == nil {
		s.store = store.NewMemory()
	}
	if s.registry == nil {
		s.registry = country.NewDirRegistry(cfg.Country.RulesDir, cfg.Country.DefaultSlug,
			country.WithRecorder(deps.Metrics))
	}

	s.validator = validation.NewValidator(s.registry, deps.Interpreter,
		validation.WithTimeout(cfg.Oracle.Timeout),
		validation.WithMetrics(deps.Metrics),
	)

	s.jobs = batch.NewManager(s.validator, batch.Config{
		Workers:           cfg.Batch.Workers,
		RowTimeout:        cfg.Batch.RowTimeout,
		MaxConcurrentJobs: cfg.Batch.MaxConcurrentJobs,
		MaxWait:           cfg.Batch.MaxWait,
		Retention:         cfg.Batch.Retention,
		MaxRows:           cfg.Batch.MaxRows,
	},
		batch.WithMetrics(deps.Metrics),
		batch.WithResultHook(s.saveBatchResult),
	)

	if deps.Agent != nil {
		s.tracker = confirm.NewTracker(deps.Agent, s.store,
			confirm.WithPollInterval(cfg.Confirmation.PollInterval),
			confirm.WithMetrics(deps.Metrics),
		)
	}

	return s, nil
}

// Start restores polling for confirmations triggered before a restart.
func (s *Service) Start(ctx context.Context) error {
	if s.tracker == nil {
		return nil
	}
	n, err := s.tracker.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume confirmations: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).Info("resumed pending confirmations", "count", n)
	}
	return nil
}

// ValidateSingle validates one address and stores the result so it can be
// confirmed later.
func (s *Service) ValidateSingle(ctx context.Context, q address.Query) (*address.Result, error) {
	ctx = validation.ContextWithSource(ctx, validation.SourceSingle)

	res, err := s.validator.Validate(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveResult(ctx, res); err != nil {
		logging.FromContext(ctx).Error("failed to save validation result",
			"result_id", res.ID, "error", err)
	}
	return res, nil
}

// ParseBatch reads a CSV upload into rows. country overrides the
// configured default for rows without a country cell.
func (s *Service) ParseBatch(r io.Reader, country string) ([]batch.Row, error) {
	def := strings.TrimSpace(country)
	if def == "" {
		def = s.registry.Default()
	}
	return ParseBatchCSV(r, def, s.cfg.Batch.MaxUploadBytes)
}

// BatchTicket identifies a submitted batch job.
type BatchTicket struct {
	JobID string `json:"job_id"`
	Total int    `json:"total"`
}

// SubmitBatch creates a job for rows and starts it in the background.
func (s *Service) SubmitBatch(ctx context.Context, rows []batch.Row) (BatchTicket, error) {
	id, err := s.jobs.Submit(rows)
	if err != nil {
		return BatchTicket{}, err
	}
	if err := s.jobs.Start(id); err != nil {
		return BatchTicket{}, err
	}

	logging.FromContext(ctx).With(clientFields(ctx)...).Info("batch job submitted",
		"job_id", id, "rows", len(rows))
	return BatchTicket{JobID: id, Total: len(rows)}, nil
}

// RunBatch validates rows synchronously and returns the finished job.
func (s *Service) RunBatch(ctx context.Context, rows []batch.Row) (batch.Snapshot, error) {
	id, err := s.jobs.Submit(rows)
	if err != nil {
		return batch.Snapshot{}, err
	}
	return s.jobs.Run(ctx, id)
}

// BatchStatus returns the current state of a job.
func (s *Service) BatchStatus(id string) (batch.Snapshot, error) {
	return s.jobs.Status(id)
}

// SubscribeBatch streams progress of a job until it finishes.
func (s *Service) SubscribeBatch(id string) (<-chan batch.Progress, error) {
	return s.jobs.Subscribe(id)
}

// CancelBatch stops a job. Rows already validated keep their results.
func (s *Service) CancelBatch(id string) (batch.Snapshot, error) {
	return s.jobs.Cancel(id)
}

// ExportBatch writes the results of a finished job as CSV.
func (s *Service) ExportBatch(w io.Writer, id string) error {
	snap, err := s.jobs.Status(id)
	if err != nil {
		return err
	}
	if !snap.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobRunning, id, snap.Status)
	}
	return WriteResultsCSV(w, snap)
}

// BatchLimiter reports batch job slot usage.
func (s *Service) BatchLimiter() batch.LimiterStatus {
	return s.jobs.LimiterStatus()
}

// TriggerAgent asks the confirmation agent to verify a stored result.
func (s *Service) TriggerAgent(ctx context.Context, resultID, action string) (confirm.Record, error) {
	if s.tracker == nil {
		return confirm.Record{}, ErrAgentDisabled
	}
	res, err := s.store.Result(ctx, resultID)
	if err != nil {
		return confirm.Record{}, err
	}
	rec, err := s.tracker.Trigger(ctx, res, action)
	if err != nil {
		return confirm.Record{}, err
	}

	logging.FromContext(ctx).With(clientFields(ctx)...).Info("confirmation requested",
		"result_id", resultID, "reference", rec.Reference, "action", rec.Action)
	return rec, nil
}

// ConfirmationStatus is the confirmation state of a result as seen by API
// clients.
type ConfirmationStatus struct {
	ResultID         string          `json:"result_id"`
	Status           string          `json:"status"`
	Reference        string          `json:"reference,omitempty"`
	ConfirmedAddress string          `json:"confirmed_address,omitempty"`
	Record           *confirm.Record `json:"confirmation,omitempty"`
}

// Confirmation status values.
const (
	ConfirmationPending   = "pending"
	ConfirmationConfirmed = "confirmed"
)

// ConfirmedAddress reports whether a result has been confirmed. Results
// that were never triggered report pending.
func (s *Service) ConfirmedAddress(ctx context.Context, resultID string) (ConfirmationStatus, error) {
	if _, err := s.store.Result(ctx, resultID); err != nil {
		return ConfirmationStatus{}, err
	}

	st := ConfirmationStatus{ResultID: resultID, Status: ConfirmationPending}

	rec, err := s.latestConfirmation(ctx, resultID)
	if errors.Is(err, confirm.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return ConfirmationStatus{}, err
	}

	st.Reference = rec.Reference
	if rec.State == confirm.StateConfirmed {
		st.Status = ConfirmationConfirmed
		st.Record = &rec
		if rec.Confirmed != nil {
			st.ConfirmedAddress = rec.Confirmed.Address
		}
	}
	return st, nil
}

func (s *Service) latestConfirmation(ctx context.Context, resultID string) (confirm.Record, error) {
	if s.tracker != nil {
		return s.tracker.ByResult(ctx, resultID)
	}

	recs, err := s.store.ConfirmationsByResult(ctx, resultID)
	if err != nil {
		return confirm.Record{}, err
	}
	if len(recs) == 0 {
		return confirm.Record{}, fmt.Errorf("%w: result %s", confirm.ErrNotFound, resultID)
	}
	latest := recs[len(recs)-1]
	for _, r := range recs {
		if r.State == confirm.StateConfirmed {
			return r, nil
		}
	}
	return latest, nil
}

// CountryList is the set of countries with rule documents.
type CountryList struct {
	Default   string   `json:"default"`
	Available []string `json:"available"`
}

// Countries lists the available rule documents.
func (s *Service) Countries() (CountryList, error) {
	slugs, err := s.registry.Slugs()
	if err != nil {
		return CountryList{}, err
	}
	if slugs == nil {
		slugs = []string{}
	}
	return CountryList{Default: s.registry.Default(), Available: slugs}, nil
}

// Stats summarizes validation activity. Results come from the store; row
// errors and job counts come from the jobs still retained.
type Stats struct {
	TotalValidated    int            `json:"total_validated"`
	SuccessRate       int            `json:"success_rate"`
	FailedValidations int            `json:"failed_validations"`
	CompletedJobs     int            `json:"completed_jobs"`
	ActiveJobs        int            `json:"active_jobs"`
	ValidationMethods map[string]int `json:"validation_methods"`
	Oracle            string         `json:"oracle"`
	LLMAvailable      bool           `json:"llm_available"`
}

// Stats reports how many addresses were validated and how many of them are
// usable. Rows that failed before producing a result count as failed
// validations.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	tally, err := s.store.Tally(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	jobs := s.jobs.Counts()

	st := Stats{
		TotalValidated:    tally.Total + jobs.RowsFailed,
		FailedValidations: tally.Total - tally.Complete + jobs.RowsFailed,
		CompletedJobs:     jobs.Completed,
		ActiveJobs:        jobs.Active,
		ValidationMethods: tally.ByModel,
		Oracle:            s.oracleName(),
		LLMAvailable:      s.model != validation.RuleModel,
	}
	if st.TotalValidated > 0 {
		st.SuccessRate = tally.Complete * 100 / st.TotalValidated
	}
	return st, nil
}

func (s *Service) oracleName() string {
	if s.model == "" {
		return "custom"
	}
	return s.model
}

// Health is the service health summary.
type Health struct {
	Status       string              `json:"status"`
	Oracle       string              `json:"oracle"`
	Database     string              `json:"database"`
	Confirmation string              `json:"confirmation"`
	Polling      int                 `json:"polling"`
	Jobs         batch.LimiterStatus `json:"jobs"`
	Uptime       string              `json:"uptime"`
}

// Health status values.
const (
	HealthOK       = "healthy"
	HealthDegraded = "degraded"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports the state of the service and its store.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:       HealthOK,
		Oracle:       s.oracleName(),
		Database:     "memory",
		Confirmation: "disabled",
		Jobs:         s.jobs.LimiterStatus(),
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
	}

	if p, ok := s.store.(pinger); ok {
		h.Database = "connected"
		if err := p.Ping(ctx); err != nil {
			logging.FromContext(ctx).Warn("database ping failed", "error", err)
			h.Database = "unreachable"
			h.Status = HealthDegraded
		}
	}

	if s.tracker != nil {
		h.Confirmation = "enabled"
		h.Polling = s.tracker.Polling()
	}
	return h
}

// Close cancels running jobs and stops confirmation polling. The store is
// owned by the caller and stays open.
func (s *Service) Close(ctx context.Context) error {
	err := s.jobs.Shutdown(ctx)
	if s.tracker != nil {
		s.tracker.Close()
	}
	return err
}

func (s *Service) saveBatchResult(ctx context.Context, res *address.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := s.store.SaveResult(ctx, res); err != nil {
		logging.FromContext(ctx).Error("failed to save batch result",
			"result_id", res.ID, "error", err)
	}
}
