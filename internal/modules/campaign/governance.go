package campaign

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
)

// StandardLimits bounds what a standard-tier profile may request. Parameters
// beyond these require an elevated tier with governance approval.
type StandardLimits struct {
	MaxCapital      float64
	MaxDrawdownPct  float64 // deepest drawdown a standard profile may configure
	MaxDurationDays int
	MaxRiskMult     float64
}

// DefaultStandardLimits returns the production standard-tier limits
func DefaultStandardLimits() StandardLimits {
	return StandardLimits{
		MaxCapital:      25000,
		MaxDrawdownPct:  0.15,
		MaxDurationDays: 180,
		MaxRiskMult:     1.0,
	}
}

// elevated-tier approval requirements
const (
	minElevatedPlanLevel = 2
	minElevatedTenure    = 180 // days
	minGovernanceScore   = 0.7
)

// EligibilityDecision is the single resolved governance decision carried
// through the rest of the start pipeline. It is computed exactly once.
type EligibilityDecision struct {
	Tier             domain.ProfileTier
	RequiresElevated bool
	ExceededLimits   []string
}

// Governance validates investor-profile eligibility for campaign parameters
type Governance struct {
	limits StandardLimits
	log    zerolog.Logger
}

// NewGovernance creates a governance service
func NewGovernance(limits StandardLimits, log zerolog.Logger) *Governance {
	return &Governance{
		limits: limits,
		log:    log.With().Str("service", "governance").Logger(),
	}
}

// Resolve checks the requested parameters against the profile's tier. Requests
// within standard limits pass for any tier; requests beyond them require an
// elevated tier that meets every approval requirement. Rejections carry the
// specific parameter or requirement that failed.
func (g *Governance) Resolve(profile *domain.InvestorProfile, params StartParams) (*EligibilityDecision, error) {
	if profile == nil {
		return nil, domain.ValidationErr("investor profile is required")
	}

	decision := &EligibilityDecision{Tier: profile.Tier}

	if params.InitialCapital > g.limits.MaxCapital {
		decision.ExceededLimits = append(decision.ExceededLimits, "initial_capital")
	}
	if params.MaxDrawdownPct > g.limits.MaxDrawdownPct {
		decision.ExceededLimits = append(decision.ExceededLimits, "max_drawdown_pct")
	}
	if params.EndDate.Sub(params.StartDate) > time.Duration(g.limits.MaxDurationDays)*24*time.Hour {
		decision.ExceededLimits = append(decision.ExceededLimits, "duration")
	}
	if params.RiskMultiplier > g.limits.MaxRiskMult {
		decision.ExceededLimits = append(decision.ExceededLimits, "risk_multiplier")
	}

	decision.RequiresElevated = len(decision.ExceededLimits) > 0
	if !decision.RequiresElevated {
		return decision, nil
	}

	if profile.Tier == domain.TierStandard {
		return nil, domain.GovernanceErr(
			"parameters %v exceed standard-tier limits; elevated tier required", decision.ExceededLimits)
	}

	// Elevated tier: every approval requirement must hold
	switch {
	case profile.PlanLevel < minElevatedPlanLevel:
		return nil, domain.GovernanceErr("plan level %d below required %d", profile.PlanLevel, minElevatedPlanLevel)
	case profile.TenureDays < minElevatedTenure:
		return nil, domain.GovernanceErr("account tenure %d days below required %d", profile.TenureDays, minElevatedTenure)
	case profile.GovernanceScore < minGovernanceScore:
		return nil, domain.GovernanceErr("governance score %.2f below required %.2f", profile.GovernanceScore, minGovernanceScore)
	case profile.AntifraudFlags > 0:
		return nil, domain.GovernanceErr("%d outstanding antifraud flags", profile.AntifraudFlags)
	case !profile.TermsAccepted:
		return nil, domain.GovernanceErr("current legal terms not accepted")
	}

	g.log.Info().
		Str("user_id", profile.UserID).
		Str("tier", string(profile.Tier)).
		Strs("exceeded_limits", decision.ExceededLimits).
		Msg("Elevated-tier parameters approved")

	return decision, nil
}
