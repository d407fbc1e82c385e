package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/trawlhq/trawl-api/internal/models"
)

func TestChargeDeltaDebitsOnce(t *testing.T) {
	ctx := context.Background()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertJob(t, db, "job-1", "key-1", "crawl", "running")

	billing := NewBillingService(db, repos, true, nil)

	result, err := billing.ChargeDelta(ctx, "job-1", 10, "crawl_pages", "job-1:pages", nil)
	if err != nil {
		t.Fatalf("ChargeDelta failed: %v", err)
	}
	if result.Charged != 10 || result.RemainingCredits != 90 {
		t.Errorf("first charge: got %+v, want charged=10 remaining=90", result)
	}

	// Same idempotency key must not debit again.
	result, err = billing.ChargeDelta(ctx, "job-1", 10, "crawl_pages", "job-1:pages", nil)
	if err != nil {
		t.Fatalf("duplicate ChargeDelta failed: %v", err)
	}
	if result.Charged != 0 {
		t.Errorf("duplicate charge: got charged=%d, want 0", result.Charged)
	}

	key, err := repos.APIKey.GetByID(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if key.Credits != 90 {
		t.Errorf("credits after duplicate: got %d, want 90", key.Credits)
	}

	job, err := repos.Job.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job.CreditsUsed != 10 {
		t.Errorf("credits_used: got %d, want 10", job.CreditsUsed)
	}
	if job.DeductedAt == nil {
		t.Error("deducted_at not set")
	}

	entries, err := repos.Ledger.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries: got %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Charged != 10 || entry.BeforeUsed != 0 || entry.AfterUsed != 10 {
		t.Errorf("ledger entry: %+v", entry)
	}
	if entry.BeforeCredits == nil || *entry.BeforeCredits != 100 ||
		entry.AfterCredits == nil || *entry.AfterCredits != 90 {
		t.Errorf("ledger balances: before=%v after=%v", entry.BeforeCredits, entry.AfterCredits)
	}
}

func TestChargeDeltaAllowsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 3)
	insertJob(t, db, "job-1", "key-1", "crawl", "running")

	billing := NewBillingService(db, repos, true, nil)

	result, err := billing.ChargeDelta(ctx, "job-1", 5, "crawl_pages", "job-1:overrun", nil)
	if err != nil {
		t.Fatalf("ChargeDelta failed: %v", err)
	}
	if result.Charged != 5 || result.RemainingCredits != -2 {
		t.Errorf("overdraft charge: got %+v, want charged=5 remaining=-2", result)
	}
}

func TestChargeDetailsNormalizedToUnattributed(t *testing.T) {
	ctx := context.Background()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertJob(t, db, "job-1", "key-1", "scrape", "running")

	billing := NewBillingService(db, repos, true, nil)

	// Items sum to 7 but delta is 10: details must collapse to a single
	// unattributed adjustment so the ledger balances.
	details := &models.ChargeDetails{
		Total: 7,
		Items: []models.ChargeDetailItem{
			{Type: "scrape", Credits: 5},
			{Type: "screenshot", Credits: 2},
		},
	}
	if _, err := billing.ChargeDelta(ctx, "job-1", 10, "scrape", "job-1:scrape", details); err != nil {
		t.Fatalf("ChargeDelta failed: %v", err)
	}

	entries, err := repos.Ledger.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries: got %d, want 1", len(entries))
	}
	var persisted models.ChargeDetails
	if err := json.Unmarshal([]byte(entries[0].ChargeDetailsJSON), &persisted); err != nil {
		t.Fatalf("unmarshal details failed: %v", err)
	}
	if persisted.Total != 10 || len(persisted.Items) != 1 ||
		persisted.Items[0].Type != models.ChargeItemUnattributedAdjustment ||
		persisted.Items[0].Credits != 10 {
		t.Errorf("normalized details: %+v", persisted)
	}
}

func TestChargeToUsedNeverRefunds(t *testing.T) {
	ctx := context.Background()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertJob(t, db, "job-1", "key-1", "crawl", "running")

	billing := NewBillingService(db, repos, true, nil)

	result, err := billing.ChargeToUsed(ctx, "job-1", 5, "crawl_upfront")
	if err != nil {
		t.Fatalf("ChargeToUsed failed: %v", err)
	}
	if result.Charged != 5 || result.RemainingCredits != 95 {
		t.Errorf("first target charge: got %+v", result)
	}

	// A lower target charges nothing and leaves credits_used alone.
	result, err = billing.ChargeToUsed(ctx, "job-1", 3, "crawl_settle")
	if err != nil {
		t.Fatalf("lower target failed: %v", err)
	}
	if result.Charged != 0 {
		t.Errorf("lower target charged %d, want 0", result.Charged)
	}
	job, _ := repos.Job.GetByID(ctx, "job-1")
	if job.CreditsUsed != 5 {
		t.Errorf("credits_used after lower target: got %d, want 5", job.CreditsUsed)
	}

	// Raising the target charges only the difference.
	result, err = billing.ChargeToUsed(ctx, "job-1", 8, "crawl_settle")
	if err != nil {
		t.Fatalf("raise target failed: %v", err)
	}
	if result.Charged != 3 || result.RemainingCredits != 92 {
		t.Errorf("raised target: got %+v, want charged=3 remaining=92", result)
	}

	entries, err := repos.Ledger.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	var total int64
	for _, entry := range entries {
		total += entry.Charged
		if entry.AfterUsed < entry.BeforeUsed {
			t.Errorf("ledger entry lowered credits_used: %+v", entry)
		}
	}
	if total != job.CreditsUsed+3 {
		t.Errorf("ledger total: got %d, want %d", total, job.CreditsUsed+3)
	}
}

func TestChargeToUsedReReadsMovedCounter(t *testing.T) {
	ctx := context.Background()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertJob(t, db, "job-1", "key-1", "crawl", "running")

	billing := NewBillingService(db, repos, true, nil)

	if _, err := billing.ChargeToUsed(ctx, "job-1", 3, "crawl_pages"); err != nil {
		t.Fatalf("ChargeToUsed failed: %v", err)
	}

	// Another writer advances the counter outside the billing path. The next
	// target charge must read the moved value and debit only the difference.
	if _, err := db.Exec(`UPDATE jobs SET credits_used = 5 WHERE id = 'job-1'`); err != nil {
		t.Fatalf("failed to advance counter: %v", err)
	}

	result, err := billing.ChargeToUsed(ctx, "job-1", 7, "crawl_pages")
	if err != nil {
		t.Fatalf("ChargeToUsed after move failed: %v", err)
	}
	if result.Charged != 2 {
		t.Errorf("charged %d after external advance, want 2", result.Charged)
	}

	job, _ := repos.Job.GetByID(ctx, "job-1")
	if job.CreditsUsed != 7 {
		t.Errorf("credits_used = %d, want 7", job.CreditsUsed)
	}
}

func TestBillingDisabledShortCircuits(t *testing.T) {
	ctx := context.Background()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertJob(t, db, "job-1", "key-1", "scrape", "running")

	billing := NewBillingService(db, repos, false, nil)
	if billing.Enabled() {
		t.Fatal("Enabled() true with credits disabled")
	}

	result, err := billing.ChargeDelta(ctx, "job-1", 10, "scrape", "job-1:scrape", nil)
	if err != nil {
		t.Fatalf("ChargeDelta failed: %v", err)
	}
	if result.Charged != 0 {
		t.Errorf("disabled charge: got charged=%d, want 0", result.Charged)
	}

	result, err = billing.ChargeToUsed(ctx, "job-1", 10, "scrape")
	if err != nil {
		t.Fatalf("ChargeToUsed failed: %v", err)
	}
	if result.Charged != 0 {
		t.Errorf("disabled target charge: got charged=%d, want 0", result.Charged)
	}

	key, _ := repos.APIKey.GetByID(ctx, "key-1")
	if key.Credits != 100 {
		t.Errorf("credits touched while disabled: %d", key.Credits)
	}
	entries, _ := repos.Ledger.ListByJob(ctx, "job-1")
	if len(entries) != 0 {
		t.Errorf("ledger written while disabled: %d entries", len(entries))
	}
}
