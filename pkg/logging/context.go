package logging

import "context"

type contextKey int

const (
	studyKey contextKey = iota
	domainKey
	stageKey
	attemptKey
)

// WithRun annotates a context with the study and domain of the owning run.
// Every log entry written with this context carries both identifiers.
func WithRun(ctx context.Context, study, domain string) context.Context {
	ctx = context.WithValue(ctx, studyKey, study)
	return context.WithValue(ctx, domainKey, domain)
}

// WithStage annotates a context with the pipeline stage currently executing.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// WithAttempt annotates a context with the current convergence attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

func runFromContext(ctx context.Context) (study, domain string) {
	if v, ok := ctx.Value(studyKey).(string); ok {
		study = v
	}
	if v, ok := ctx.Value(domainKey).(string); ok {
		domain = v
	}
	return study, domain
}

func stageFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(stageKey).(string); ok {
		return v
	}
	return ""
}

func attemptFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(attemptKey).(int); ok {
		return v
	}
	return 0
}
