package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/country"
	"github.com/JonMunkholm/addrintel/internal/logging"
	"github.com/JonMunkholm/addrintel/internal/metrics"
	"github.com/JonMunkholm/addrintel/internal/oracle"
)

// DefaultOracleTimeout bounds one oracle call.
const DefaultOracleTimeout = 30 * time.Second

// ErrOracleTimeout is returned when the oracle does not answer in time.
var ErrOracleTimeout = errors.New("oracle call timed out")

// OracleError wraps a failed oracle call that was not a timeout.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string {
	return "oracle call failed: " + e.Err.Error()
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// ConfigSource resolves a country input to its rule set.
type ConfigSource interface {
	Load(input string) (*country.Config, error)
}

// Validator runs the single-address pipeline.
type Validator struct {
	configs ConfigSource
	oracle  oracle.Interpreter
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithTimeout sets the per-call oracle deadline.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator.
func NewValidator(configs ConfigSource, interp oracle.Interpreter, opts ...Option) *Validator {
	v := &Validator{
		configs: configs,
		oracle:  interp,
		timeout: DefaultOracleTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate resolves the country, asks the oracle, enforces the output schema
// and post-processes the answer into a result with a fresh id.
func (v *Validator) Validate(ctx context.Context, q address.Query) (*address.Result, error) {
	start := time.Now()

	cfg, err := v.configs.Load(q.Country)
	if err != nil {
		return nil, fmt.Errorf("resolve country %q: %w", q.Country, err)
	}

	req, err := oracle.Assemble(q.Address, cfg)
	if err != nil {
		return nil, err
	}

	raw, err := v.interpret(ctx, req)
	if err != nil {
		return nil, err
	}

	out, err := oracle.ValidateOutput(raw)
	if err != nil {
		v.metrics.IncSchemaRejection()
		logging.WithFields(ctx, "country", cfg.Slug).Warn("oracle output rejected", "error", err)
		return nil, err
	}

	o := Process(out, cfg)
	res := &address.Result{
		ID:                uuid.NewString(),
		OriginalAddress:   req.Address,
		NormalizedAddress: o.NormalizedAddress,
		Fields:            o.Fields,
		ConfidenceScore:   o.Score,
		ConfidenceLevel:   o.Band,
		Completeness:      o.Completeness,
		Issues:            o.Issues,
		Suggestions:       o.Suggestions,
		Country:           cfg.Slug,
		Contact:           q.Contact,
		Model:             oracle.ModelName(v.oracle),
		CreatedAt:         v.now().UTC(),
		ProcessingTime:    time.Since(start),
	}

	v.metrics.ObserveValidation(SourceFromContext(ctx), string(res.ConfidenceLevel), start)
	logging.WithFields(ctx,
		"result_id", res.ID,
		"country", res.Country,
	).Debug("address validated",
		"score", res.ConfidenceScore,
		"band", res.ConfidenceLevel,
		"issues", len(res.Issues),
		"duration_ms", res.ProcessingTime.Milliseconds(),
	)

	return res, nil
}

// interpret calls the oracle under the configured deadline.
func (v *Validator) interpret(ctx context.Context, req oracle.Request) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	raw, err := v.oracle.Interpret(callCtx, req)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		v.metrics.ObserveOracle("ok", elapsed)
		return raw, nil
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		v.metrics.ObserveOracle("timeout", elapsed)
		return nil, fmt.Errorf("%w after %s", ErrOracleTimeout, v.timeout)
	case ctx.Err() != nil:
		v.metrics.ObserveOracle("error", elapsed)
		return nil, ctx.Err()
	default:
		v.metrics.ObserveOracle("error", elapsed)
		return nil, &OracleError{Err: err}
	}
}
