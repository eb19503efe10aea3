package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-formflow/logging"
	rcron "github.com/robfig/cron/v3"
)

// Reloader re-reads definition files on a cron schedule and publishes the
// versions the registry does not hold yet. A failed reload is logged; the
// registry keeps serving what it had.
type Reloader struct {
	publisher Publisher
	paths     []string
	logger    logging.Logger

	mu   sync.Mutex
	cron *rcron.Cron
	last Report
	err  error
}

// NewReloader builds a reloader for the given definition paths.
func NewReloader(p Publisher, paths []string, logger logging.Logger) *Reloader {
	return &Reloader{
		publisher: p,
		paths:     append([]string(nil), paths...),
		logger:    logging.Normalize(logger),
	}
}

// Reload runs one load-and-publish pass.
func (r *Reloader) Reload(ctx context.Context) (Report, error) {
	set, err := LoadDefinitions(r.paths...)
	if err != nil {
		r.record(Report{}, err)
		return Report{}, err
	}
	report, err := Publish(ctx, r.publisher, set)
	r.record(report, err)
	return report, err
}

func (r *Reloader) record(report Report, err error) {
	r.mu.Lock()
	r.last, r.err = report, err
	r.mu.Unlock()

	logger := logging.WithFields(r.logger, map[string]any{"paths": strings.Join(r.paths, ",")})
	if err != nil {
		logger.Error("definition reload failed: %v", err)
	}
	if len(report.Published) > 0 {
		logger.Info("definitions published: %s", strings.Join(report.Published, ", "))
	}
}

// Last returns the outcome of the most recent pass.
func (r *Reloader) Last() (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.err
}

// Start schedules Reload on expr (standard five-field cron syntax or a
// descriptor such as "@every 1m"). Start fails if already running.
func (r *Reloader) Start(ctx context.Context, expr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reloader already started")
	}
	c := rcron.New(rcron.WithLogger(cronLogger{r.logger}), rcron.WithChain(rcron.SkipIfStillRunning(cronLogger{r.logger})))
	if _, err := c.AddFunc(expr, func() { _, _ = r.Reload(ctx) }); err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", expr, err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reloader) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// cronLogger adapts Logger to robfig/cron's key/value logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: %s %s", msg, formatKV(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: %s: %v %s", msg, err, formatKV(keysAndValues))
}

func formatKV(kv []any) string {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%v=%v", kv[i], kv[i+1]))
	}
	return strings.Join(parts, " ")
}
