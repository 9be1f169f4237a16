package ledger

// Plan is an account's subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStandard   Plan = "standard"
	PlanBuilder    Plan = "builder"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
	PlanCustom     Plan = "custom"
)

// Limits are one plan's admission ceilings: requests per second and the
// usage-unit allowance for a billing cycle.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
	CycleUnits        int64
}

var planLimits = map[Plan]Limits{
	PlanFree:       {RequestsPerSecond: 1, Burst: 1, CycleUnits: 50},
	PlanStandard:   {RequestsPerSecond: 5, Burst: 5, CycleUnits: 2500},
	PlanBuilder:    {RequestsPerSecond: 20, Burst: 20, CycleUnits: 15000},
	PlanPro:        {RequestsPerSecond: 40, Burst: 40, CycleUnits: 100000},
	PlanEnterprise: {RequestsPerSecond: 100, Burst: 100, CycleUnits: 1500000},
}

// LimitsFor returns the ceilings for a plan. Custom plans carry their own
// limits on the account row; callers pass those through overrides instead.
func LimitsFor(p Plan) (Limits, bool) {
	l, ok := planLimits[p]
	return l, ok
}

// Plans returns every tier with fixed limits.
func Plans() []Plan {
	return []Plan{PlanFree, PlanStandard, PlanBuilder, PlanPro, PlanEnterprise}
}
