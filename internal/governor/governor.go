// Package governor is the single entry gate every handler passes through:
// it authenticates the bearer credential, resolves the org the request runs
// in, meters it against nested org and user rate buckets, and produces the
// scoped TenantContext all downstream data access must honor.
package governor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/httperr"
	"github.com/paddockhq/governance/internal/identity"
	"github.com/paddockhq/governance/internal/models"
	"github.com/paddockhq/governance/internal/ratelimit"
	"github.com/paddockhq/governance/internal/tenant"
)

// Tier selects the rate-limit budget of an endpoint.
type Tier string

const (
	TierLow       Tier = "low"
	TierStandard  Tier = "standard"
	TierHigh      Tier = "high"
	TierExpensive Tier = "expensive"
)

type tierLimits struct {
	orgPerMin  int
	userPerMin int
}

// Per-minute quotas per tier. The user bucket is deliberately smaller than
// the org bucket so one user cannot drain the org's shared quota.
var tierTable = map[Tier]tierLimits{
	TierLow:       {orgPerMin: 30, userPerMin: 10},
	TierStandard:  {orgPerMin: 100, userPerMin: 20},
	TierHigh:      {orgPerMin: 300, userPerMin: 50},
	TierExpensive: {orgPerMin: 10, userPerMin: 2},
}

const rateWindow = time.Minute

// anonymousUser stands in when auth is optional and no credential was sent.
const anonymousUser = "anonymous"

type GateConfig struct {
	RequireAuth   bool
	RequireTenant bool
	Tier          Tier
}

type Governor struct {
	jwtSecret string
	resolver  *tenant.Resolver
	limiter   *ratelimit.Limiter
	log       zerolog.Logger
}

func New(jwtSecret string, resolver *tenant.Resolver, limiter *ratelimit.Limiter, log zerolog.Logger) *Governor {
	return &Governor{
		jwtSecret: jwtSecret,
		resolver:  resolver,
		limiter:   limiter,
		log:       log.With().Str("component", "governor").Logger(),
	}
}

// Admit runs the gate steps in order, each able to short-circuit with a
// typed rejection: identity, org resolution, org+user rate buckets, then
// best-effort capability and flag loads. The returned ratelimit.Result
// describes the bucket that decided (or would decide) admission and is
// non-zero even on rejection, so callers can emit quota headers.
func (g *Governor) Admit(ctx context.Context, authorization string, cfg GateConfig) (*models.TenantContext, ratelimit.Result, error) {
	requestID := uuid.NewString()
	log := g.log.With().Str("request_id", requestID).Logger()

	// 1. Identity. Required-but-missing fails closed before the resolver or
	// limiter are touched.
	userID := anonymousUser
	token := bearerToken(authorization)
	if token == "" {
		if cfg.RequireAuth {
			return nil, ratelimit.Result{}, httperr.Unauthenticated("authentication required")
		}
	} else {
		claims, err := identity.ValidateToken(token, g.jwtSecret)
		if err != nil {
			if cfg.RequireAuth {
				log.Warn().Err(err).Msg("invalid credential")
				return nil, ratelimit.Result{}, httperr.Unauthenticated("invalid authentication")
			}
		} else {
			userID = claims.UserID
		}
	}

	// 2. Org resolution: membership lookup with self-tenant fallback.
	orgID := userID
	if userID != anonymousUser {
		resolved, err := g.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, ratelimit.Result{}, httperr.UpstreamUnavailable("identity store unavailable", err)
		}
		orgID = resolved
	}
	if cfg.RequireTenant && orgID == "" {
		return nil, ratelimit.Result{}, httperr.TenantNotFound("organization not found")
	}

	// 3. Nested rate buckets for the gate tier.
	limits, ok := tierTable[cfg.Tier]
	if !ok {
		limits = tierTable[TierStandard]
	}

	orgResult, err := g.limiter.Check(ctx, "org:"+string(cfg.Tier), orgID, limits.orgPerMin, rateWindow)
	if err != nil {
		log.Warn().Str("org_id", orgID).Msg("org bucket exhausted")
		return nil, orgResult, err
	}
	userResult, err := g.limiter.Check(ctx, "user:"+string(cfg.Tier), userID, limits.userPerMin, rateWindow)
	if err != nil {
		log.Warn().Str("org_id", orgID).Str("user_id", userID).Msg("user bucket exhausted")
		return nil, userResult, err
	}

	// 4. Capabilities and flags are best effort: a failed read never aborts
	// an already-admitted request.
	var capabilities []string
	var flags map[string]bool
	if userID != anonymousUser {
		capabilities, err = g.resolver.Capabilities(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Msg("capability load failed, defaulting to none")
			capabilities = nil
		}
		flags, err = g.resolver.Flags(ctx, orgID)
		if err != nil {
			log.Warn().Err(err).Msg("flag load failed, defaulting to none")
			flags = nil
		}
	}
	if flags == nil {
		flags = map[string]bool{}
	}

	log.Info().
		Str("user_id", userID).
		Str("org_id", orgID).
		Str("tier", string(cfg.Tier)).
		Int("rate_remaining", orgResult.Remaining).
		Msg("request admitted")

	return &models.TenantContext{
		UserID:       userID,
		OrgID:        orgID,
		Capabilities: capabilities,
		Flags:        flags,
		RequestID:    requestID,
	}, orgResult, nil
}

func bearerToken(authorization string) string {
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
