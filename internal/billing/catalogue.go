package billing

import "github.com/dmitrymomot/filevault/internal/core"

const (
	gb = int64(1 << 30)
	mb = int64(1 << 20)
)

// Catalogue is the plan set installed by SeedPlans.
var Catalogue = []core.Plan{
	{
		Code:              "free",
		Name:              "Free",
		MaxBytes:          500 * mb,
		MonthlyPriceCents: 0,
		DisplayOrder:      0,
		IsActive:          true,
		Features:          []string{"500MB Storage", "Basic File Sharing", "Standard Support", "100MB File Size Limit"},
	},
	{
		Code:              "basic",
		Name:              "Basic",
		MaxBytes:          5 * gb,
		MonthlyPriceCents: 500,
		DisplayOrder:      1,
		IsActive:          true,
		Features:          []string{"5GB Storage", "Advanced File Sharing", "Priority Support"},
	},
	{
		Code:              "pro",
		Name:              "Professional",
		MaxBytes:          50 * gb,
		MonthlyPriceCents: 1500,
		DisplayOrder:      2,
		IsActive:          true,
		Features:          []string{"50GB Storage", "Advanced File Sharing", "Priority Support", "Advanced Analytics"},
	},
	{
		Code:              "enterprise",
		Name:              "Enterprise",
		MaxBytes:          200 * gb,
		MonthlyPriceCents: 5000,
		DisplayOrder:      3,
		IsActive:          true,
		Features:          []string{"200GB Storage", "Advanced File Sharing", "24/7 Priority Support", "Advanced Analytics", "Team Collaboration"},
	},
}
