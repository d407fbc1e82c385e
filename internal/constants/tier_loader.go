package constants

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/trawlhq/trawl-api/internal/config"
)

// TierSettingsJSON represents the JSON structure for tier settings from S3.
type TierSettingsJSON struct {
	Tiers map[string]TierLimitsJSON `json:"tiers"`
}

// TierLimitsJSON represents tier limits in JSON format. Zero means unlimited,
// matching TierLimits.
type TierLimitsJSON struct {
	MaxScheduledTasks int   `json:"max_scheduled_tasks"`
	MaxConcurrentJobs int   `json:"max_concurrent_jobs"`
	MaxPagesPerCrawl  int   `json:"max_pages_per_crawl"`
	RequestsPerMinute int   `json:"requests_per_minute"`
	MonthlyCredits    int64 `json:"monthly_credits"`
}

// TierSettingsLoader provides S3-backed tier settings with caching.
type TierSettingsLoader struct {
	loader *config.S3Loader

	mu     sync.RWMutex
	tiers  map[string]TierLimits // overrides from S3
	logger *slog.Logger
}

// TierSettingsConfig holds configuration for the tier settings loader.
type TierSettingsConfig = config.S3LoaderConfig

// Global tier settings loader instance
var (
	tierLoader     *TierSettingsLoader
	tierLoaderOnce sync.Once
)

// InitTierLoader initializes the global tier settings loader.
// Call this at startup if you want S3-backed tier settings.
func InitTierLoader(cfg TierSettingsConfig) {
	tierLoaderOnce.Do(func() {
		tierLoader = &TierSettingsLoader{
			loader: config.NewS3Loader(cfg),
			tiers:  make(map[string]TierLimits),
			logger: cfg.Logger,
		}
		if tierLoader.logger == nil {
			tierLoader.logger = slog.Default()
		}
	})
}

// GetTierLoader returns the global tier settings loader (may be nil if not
// initialized).
func GetTierLoader() *TierSettingsLoader {
	return tierLoader
}

// IsEnabled returns true if S3 is configured.
func (t *TierSettingsLoader) IsEnabled() bool {
	return t.loader.IsEnabled()
}

// MaybeRefresh checks if we need to refresh tier settings from S3.
func (t *TierSettingsLoader) MaybeRefresh(ctx context.Context) {
	if !t.loader.NeedsRefresh() {
		return
	}

	// Refresh in background to not block requests
	go t.refresh(context.WithoutCancel(ctx))
}

// refresh fetches tier settings from S3 and parses them.
func (t *TierSettingsLoader) refresh(ctx context.Context) {
	result, err := t.loader.Fetch(ctx)
	if err != nil {
		// S3Loader already logged the error
		return
	}
	if result == nil || result.NotChanged {
		return
	}

	var settings TierSettingsJSON
	if err := json.Unmarshal(result.Data, &settings); err != nil {
		t.logger.Error("failed to parse tier settings JSON", "error", err)
		return
	}

	newTiers := make(map[string]TierLimits)
	for name, limits := range settings.Tiers {
		newTiers[NormalizeTierName(name)] = TierLimits{
			MaxScheduledTasks: limits.MaxScheduledTasks,
			MaxConcurrentJobs: limits.MaxConcurrentJobs,
			MaxPagesPerCrawl:  limits.MaxPagesPerCrawl,
			RequestsPerMinute: limits.RequestsPerMinute,
			MonthlyCredits:    limits.MonthlyCredits,
		}
	}

	t.mu.Lock()
	t.tiers = newTiers
	t.mu.Unlock()

	t.logger.Info("tier settings loaded from S3",
		"tier_count", len(newTiers),
	)
}

// GetLimits returns tier limits, checking S3 overrides first.
// Returns nil if no override exists for the tier.
func (t *TierSettingsLoader) GetLimits(tier string) *TierLimits {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limits, ok := t.tiers[tier]; ok {
		return &limits
	}
	return nil
}

// GetTierLimitsWithS3 returns tier limits, checking S3 overrides first.
// This is the main function to call; it handles normalization and fallback.
func GetTierLimitsWithS3(ctx context.Context, tier string) TierLimits {
	normalized := NormalizeTierName(tier)

	if tierLoader != nil && tierLoader.IsEnabled() {
		tierLoader.MaybeRefresh(ctx)

		if limits := tierLoader.GetLimits(normalized); limits != nil {
			return *limits
		}
	}

	// Fall back to hardcoded defaults
	return GetTierLimits(tier)
}
