package config

// BillingConfig holds credit pricing configuration.
type BillingConfig struct {
	// CostPerScrape is the credit cost of a single page scrape.
	CostPerScrape int64

	// CostPerCrawlPage is the credit cost of each crawled page. The same
	// rate prices the up-front crawl charge and the per-page charges.
	CostPerCrawlPage int64

	// CostPerMap is the credit cost of a URL discovery (map) operation.
	CostPerMap int64

	// SearchResultsPerCredit is how many search results one credit buys.
	SearchResultsPerCredit int

	// TierCredits defines the monthly credit allocation per tier.
	TierCredits map[string]int64
}

// DefaultBillingConfig returns the default credit pricing.
func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		CostPerScrape:          1,
		CostPerCrawlPage:       1,
		CostPerMap:             1,
		SearchResultsPerCredit: 10,

		TierCredits: map[string]int64{
			"free":       500,
			"starter":    5000,
			"pro":        50000,
			"enterprise": 500000,
		},
	}
}

// EstimateCredits returns the estimated credit cost of one execution of the
// given task type. Crawl and search estimates scale with the requested limit;
// the result is never below one credit.
func (c *BillingConfig) EstimateCredits(taskType string, limit int) int64 {
	var cost int64
	switch taskType {
	case "scrape":
		cost = c.CostPerScrape
	case "crawl":
		cost = int64(limit) * c.CostPerCrawlPage
	case "search":
		per := c.SearchResultsPerCredit
		if per < 1 {
			per = 1
		}
		cost = int64((limit + per - 1) / per)
	case "map":
		cost = c.CostPerMap
	default:
		cost = 1
	}
	if cost < 1 {
		cost = 1
	}
	return cost
}

// GetTierCredits returns the monthly credit allocation for a tier.
func (c *BillingConfig) GetTierCredits(tier string) int64 {
	if credits, ok := c.TierCredits[tier]; ok {
		return credits
	}
	return 0
}
