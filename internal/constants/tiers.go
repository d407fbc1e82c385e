package constants

import (
	"fmt"
	"strings"
)

// Tier names
const (
	TierFree       = "free"
	TierStarter    = "starter"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// TierLimits defines the numeric limits for a subscription tier.
// A zero value means unlimited.
type TierLimits struct {
	// MaxScheduledTasks is the max active (non-paused) scheduled tasks.
	MaxScheduledTasks int
	// MaxConcurrentJobs is the max jobs running at once.
	MaxConcurrentJobs int
	// MaxPagesPerCrawl caps the limit a crawl request may ask for.
	MaxPagesPerCrawl int
	// RequestsPerMinute is the API rate limit.
	RequestsPerMinute int
	// MonthlyCredits is the credit allocation granted each billing period.
	MonthlyCredits int64
}

// Tiers defines limits for each subscription tier.
// To change tier limits, modify this map. Deployments can override it at
// runtime through the S3 tier settings loader.
var Tiers = map[string]TierLimits{
	TierFree: {
		MaxScheduledTasks: 2,
		MaxConcurrentJobs: 2,
		MaxPagesPerCrawl:  50,
		RequestsPerMinute: 10,
		MonthlyCredits:    500,
	},
	TierStarter: {
		MaxScheduledTasks: 10,
		MaxConcurrentJobs: 10,
		MaxPagesPerCrawl:  500,
		RequestsPerMinute: 60,
		MonthlyCredits:    5000,
	},
	TierPro: {
		MaxScheduledTasks: 50,
		MaxConcurrentJobs: 50,
		MaxPagesPerCrawl:  2000,
		RequestsPerMinute: 300,
		MonthlyCredits:    50000,
	},
	TierEnterprise: {
		MaxScheduledTasks: 0, // Unlimited
		MaxConcurrentJobs: 0, // Unlimited
		MaxPagesPerCrawl:  5000,
		RequestsPerMinute: 0, // Unlimited
		MonthlyCredits:    500000,
	},
}

// GetTierLimits returns the limits for a tier, defaulting to the free tier.
func GetTierLimits(tier string) TierLimits {
	if limits, ok := Tiers[tier]; ok {
		return limits
	}

	normalized := NormalizeTierName(tier)
	if limits, ok := Tiers[normalized]; ok {
		return limits
	}

	return Tiers[TierFree]
}

// NormalizeTierName maps external tier spellings to internal tier names.
// API keys provisioned before the Standard plan was renamed carry the old
// slug.
func NormalizeTierName(tier string) string {
	normalized := strings.ToLower(strings.TrimSpace(tier))

	aliases := map[string]string{
		"standard": TierStarter,
		"business": TierPro,
	}
	if mapped, ok := aliases[normalized]; ok {
		return mapped
	}

	return normalized
}

// ScheduledTaskLimitMessage returns a user-friendly message for the active
// scheduled task limit.
func ScheduledTaskLimitMessage(tier string) string {
	normalized := NormalizeTierName(tier)
	limits := GetTierLimits(normalized)
	switch normalized {
	case TierFree:
		return fmt.Sprintf("You can have %d active scheduled tasks on the free tier. Pause a task or upgrade to Starter for %d.",
			limits.MaxScheduledTasks, Tiers[TierStarter].MaxScheduledTasks)
	case TierStarter:
		return fmt.Sprintf("You've reached your Starter plan limit of %d active scheduled tasks. Pause a task or upgrade to Pro for %d.",
			limits.MaxScheduledTasks, Tiers[TierPro].MaxScheduledTasks)
	default:
		return fmt.Sprintf("You've reached your limit of %d active scheduled tasks. Pause a task to create a new one.",
			limits.MaxScheduledTasks)
	}
}

// ConcurrentJobLimitMessage returns a user-friendly message for the
// concurrent job limit.
func ConcurrentJobLimitMessage(tier string) string {
	normalized := NormalizeTierName(tier)
	limits := GetTierLimits(normalized)
	switch normalized {
	case TierFree:
		return fmt.Sprintf("You can only run %d jobs at a time on the free tier. Wait for a job to complete or upgrade to Starter for %d concurrent jobs.",
			limits.MaxConcurrentJobs, Tiers[TierStarter].MaxConcurrentJobs)
	case TierStarter:
		return fmt.Sprintf("You've reached your Starter plan limit of %d concurrent jobs. Wait for a job to complete or upgrade to Pro for %d concurrent jobs.",
			limits.MaxConcurrentJobs, Tiers[TierPro].MaxConcurrentJobs)
	default:
		return fmt.Sprintf("You've reached your limit of %d concurrent jobs. Wait for a job to complete.",
			limits.MaxConcurrentJobs)
	}
}

// CrawlLimitMessage returns a user-friendly message for a crawl limit above
// the tier's page cap.
func CrawlLimitMessage(tier string, requested int) string {
	limits := GetTierLimits(tier)
	return fmt.Sprintf("Crawl limit %d exceeds your plan's maximum of %d pages per crawl.",
		requested, limits.MaxPagesPerCrawl)
}
