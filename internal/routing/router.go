package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davidbz/switchboard/internal/domain"
	"github.com/davidbz/switchboard/internal/observability"
)

const defaultMaxAttempts = 3

// Option configures a FailoverRouter.
type Option func(*FailoverRouter)

// WithMaxAttempts bounds backend attempts before the final synthetic call (default: 3).
func WithMaxAttempts(n int) Option {
	return func(r *FailoverRouter) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithStats records every attempt and rotation.
func WithStats(stats domain.StatsRecorder) Option {
	return func(r *FailoverRouter) {
		r.stats = stats
	}
}

// FailoverRouter executes a request with bounded attempts, credential
// rotation on authentication failures and fallback along the priority order.
//
// Rotation policy: an authentication failure rotates the kind's credential
// and retries the same provider while the pool still has credentials this
// request has not tried (at least one rotation, even for single-key pools).
// After that the router advances to the next eligible provider.
type FailoverRouter struct {
	registry    domain.ProviderRegistry
	credentials domain.CredentialPool
	stats       domain.StatsRecorder
	maxAttempts int
	nowFunc     func() time.Time
}

// NewFailoverRouter creates a new router.
func NewFailoverRouter(
	registry domain.ProviderRegistry,
	credentials domain.CredentialPool,
	opts ...Option,
) *FailoverRouter {
	r := &FailoverRouter{
		registry:    registry,
		credentials: credentials,
		maxAttempts: defaultMaxAttempts,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send runs the failover state machine for one request. The only error it
// returns for backend failures wraps domain.ErrSyntheticUnavailable; caller
// cancellation returns the context error.
func (r *FailoverRouter) Send(ctx context.Context, req *domain.CompletionRequest) (*domain.RouteResult, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)

	pinned := req.Provider != ""
	original := req.Provider
	if !pinned {
		best, ok := r.registry.BestAvailable(ctx)
		if !ok {
			return nil, fmt.Errorf("%w: no providers registered", domain.ErrSyntheticUnavailable)
		}
		original = best.ID()
	}

	providerID := original
	rotations := make(map[string]int)
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		provider, found := r.registry.Get(ctx, providerID)

		var (
			resp *domain.CompletionResponse
			err  error
		)
		if found {
			resp, err = r.invoke(ctx, provider, attempt+1, req)
		} else {
			err = fmt.Errorf("%w: %s", domain.ErrProviderNotFound, providerID)
		}

		if err == nil {
			fallback := attempt > 0 || providerID != original || (provider.IsSynthetic() && !pinned)
			result := &domain.RouteResult{
				Response:   resp,
				ProviderID: providerID,
				Attempt:    attempt + 1,
				Fallback:   fallback,
			}
			if fallback {
				result.OriginalError = lastErr
			}
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if found && provider.IsSynthetic() {
			return nil, fmt.Errorf("%w: %w", domain.ErrSyntheticUnavailable, err)
		}

		lastErr = err
		attempt++
		kind := domain.Classify(err)

		logger.Warn("provider attempt failed",
			observability.String("provider_id", providerID),
			observability.Int("attempt", attempt),
			observability.String("error_kind", string(kind)),
			observability.Error(err))

		if found && kind == domain.ErrorKindAuthentication && r.canRotate(provider, rotations) {
			rotations[provider.Config.Kind]++
			rotateErr := r.rotate(ctx, provider)
			if rotateErr == nil {
				continue
			}
			logger.Warn("credential rotation failed",
				observability.String("provider_id", providerID),
				observability.Error(rotateErr))
		}

		if attempt < r.maxAttempts {
			next, ok := r.registry.NextEligible(ctx, providerID)
			if !ok {
				break
			}
			providerID = next.ID()
		}
	}

	return r.finalFallback(ctx, req, lastErr)
}

// finalFallback makes the unconditional last call against the synthetic provider.
func (r *FailoverRouter) finalFallback(
	ctx context.Context,
	req *domain.CompletionRequest,
	originalErr error,
) (*domain.RouteResult, error) {
	synthetic, ok := r.registry.Synthetic(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no synthetic provider registered: %w", domain.ErrSyntheticUnavailable, originalErr)
	}

	observability.FromContext(ctx).Warn("attempts exhausted, using synthetic provider",
		observability.String("provider_id", synthetic.ID()),
		observability.Int("max_attempts", r.maxAttempts))

	resp, err := r.invoke(ctx, synthetic, r.maxAttempts+1, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSyntheticUnavailable, err)
	}

	return &domain.RouteResult{
		Response:      resp,
		ProviderID:    synthetic.ID(),
		Attempt:       r.maxAttempts + 1,
		Fallback:      true,
		OriginalError: originalErr,
	}, nil
}

// invoke calls the backend under the provider's timeout and records the attempt.
func (r *FailoverRouter) invoke(
	ctx context.Context,
	provider domain.Provider,
	attempt int,
	req *domain.CompletionRequest,
) (*domain.CompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(observability.WithProvider(ctx, provider.ID()), provider.Config.Timeout())
	defer cancel()

	start := r.nowFunc()
	resp, err := provider.Backend.GenerateCompletion(attemptCtx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("provider %s returned an empty response", provider.ID())
	}
	duration := r.nowFunc().Sub(start)

	if r.stats != nil {
		r.stats.RecordAttempt(domain.AttemptRecord{
			ProviderID: provider.ID(),
			Attempt:    attempt,
			StartedAt:  start,
			Duration:   duration,
			Success:    err == nil,
			ErrorKind:  domain.Classify(err),
			Synthetic:  provider.IsSynthetic(),
		})
	}

	if err != nil {
		r.registry.RecordFailure(ctx, provider.ID(), err)
		return nil, err
	}

	r.registry.RecordUsage(ctx, provider.ID())
	return resp, nil
}

// canRotate reports whether the request may still try another credential.
func (r *FailoverRouter) canRotate(provider domain.Provider, rotations map[string]int) bool {
	kind := provider.Config.Kind
	if r.credentials == nil || !r.credentials.Has(kind) {
		return false
	}

	limit := r.credentials.Size(kind) - 1
	if limit < 1 {
		limit = 1
	}
	return rotations[kind] < limit
}

// rotate advances the kind's credential and re-initializes the provider with it.
func (r *FailoverRouter) rotate(ctx context.Context, provider domain.Provider) error {
	kind := provider.Config.Kind

	credential, err := r.credentials.Rotate(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to rotate credential for %s: %w", kind, err)
	}
	if r.stats != nil {
		r.stats.RecordRotation(kind)
	}

	return r.registry.Reinitialize(ctx, provider.ID(), credential)
}
