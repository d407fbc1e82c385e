package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260301-000000",
		Description: "initial schema",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id TEXT PRIMARY KEY,
				user_id TEXT,
				name TEXT NOT NULL DEFAULT '',
				key_hash TEXT NOT NULL UNIQUE,
				key_prefix TEXT NOT NULL DEFAULT '',
				tier TEXT NOT NULL DEFAULT 'free',
				credits INTEGER NOT NULL DEFAULT 0,
				is_active INTEGER NOT NULL DEFAULT 1,
				last_used_at TEXT,
				expires_at TEXT,
				created_at TEXT NOT NULL,
				revoked_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,

			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				api_key_id TEXT NOT NULL,
				user_id TEXT,
				type TEXT NOT NULL,
				engine TEXT NOT NULL DEFAULT 'cheerio',
				queue_name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				is_success INTEGER NOT NULL DEFAULT 0,
				url TEXT,
				payload_json TEXT,
				origin TEXT NOT NULL DEFAULT 'api',
				total INTEGER NOT NULL DEFAULT 0,
				completed INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				credits_used INTEGER NOT NULL DEFAULT 0,
				deducted_at TEXT,
				error_message TEXT,
				webhook_url TEXT,
				started_at TEXT,
				completed_at TEXT,
				expires_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_api_key ON jobs(api_key_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,

			`CREATE TABLE IF NOT EXISTS job_results (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				url TEXT NOT NULL,
				status_code INTEGER NOT NULL DEFAULT 0,
				title TEXT,
				description TEXT,
				content_key TEXT,
				data_json TEXT,
				error_message TEXT,
				from_cache INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_job_results_job ON job_results(job_id, id)`,

			`CREATE TABLE IF NOT EXISTS scheduled_tasks (
				id TEXT PRIMARY KEY,
				api_key_id TEXT NOT NULL,
				user_id TEXT,
				name TEXT NOT NULL,
				description TEXT,
				cron_expression TEXT NOT NULL,
				timezone TEXT NOT NULL DEFAULT 'UTC',
				task_type TEXT NOT NULL,
				task_payload_json TEXT,
				concurrency_mode TEXT NOT NULL DEFAULT 'skip',
				max_executions_per_day INTEGER NOT NULL DEFAULT 0,
				min_credits_required INTEGER NOT NULL DEFAULT 0,
				is_active INTEGER NOT NULL DEFAULT 1,
				is_paused INTEGER NOT NULL DEFAULT 0,
				pause_reason TEXT,
				next_execution_at TEXT,
				last_execution_at TEXT,
				total_executions INTEGER NOT NULL DEFAULT 0,
				successful_executions INTEGER NOT NULL DEFAULT 0,
				failed_executions INTEGER NOT NULL DEFAULT 0,
				consecutive_failures INTEGER NOT NULL DEFAULT 0,
				tags_json TEXT,
				metadata_json TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_api_key ON scheduled_tasks(api_key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_updated ON scheduled_tasks(updated_at)`,

			`CREATE TABLE IF NOT EXISTS task_executions (
				id TEXT PRIMARY KEY,
				scheduled_task_id TEXT NOT NULL REFERENCES scheduled_tasks(id) ON DELETE CASCADE,
				execution_number INTEGER NOT NULL,
				idempotency_key TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'pending',
				scheduled_for TEXT NOT NULL,
				started_at TEXT,
				completed_at TEXT,
				triggered_by TEXT NOT NULL DEFAULT 'scheduler',
				job_id TEXT,
				error_message TEXT,
				error_code TEXT,
				error_details_json TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_task_executions_task ON task_executions(scheduled_task_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_task_executions_status ON task_executions(status)`,

			`CREATE TABLE IF NOT EXISTS page_cache (
				id TEXT PRIMARY KEY,
				url_hash TEXT NOT NULL,
				options_hash TEXT NOT NULL,
				url TEXT NOT NULL,
				domain TEXT NOT NULL,
				content_hash TEXT,
				title TEXT,
				description TEXT,
				status_code INTEGER NOT NULL DEFAULT 0,
				content_type TEXT,
				content_length INTEGER NOT NULL DEFAULT 0,
				engine TEXT NOT NULL DEFAULT 'cheerio',
				has_proxy INTEGER NOT NULL DEFAULT 0,
				has_screenshot INTEGER NOT NULL DEFAULT 0,
				content_key TEXT,
				data_json TEXT,
				scraped_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE(url_hash, options_hash)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_page_cache_domain ON page_cache(domain)`,

			`CREATE TABLE IF NOT EXISTS map_cache (
				id TEXT PRIMARY KEY,
				domain_hash TEXT NOT NULL,
				domain TEXT NOT NULL,
				source TEXT NOT NULL,
				url_count INTEGER NOT NULL DEFAULT 0,
				content_key TEXT,
				data_json TEXT,
				discovered_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE(domain_hash, source)
			)`,

			`CREATE TABLE IF NOT EXISTS billing_ledger (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL,
				api_key_id TEXT NOT NULL DEFAULT '',
				mode TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				idempotency_key TEXT NOT NULL UNIQUE,
				charged INTEGER NOT NULL DEFAULT 0,
				before_used INTEGER NOT NULL DEFAULT 0,
				after_used INTEGER NOT NULL DEFAULT 0,
				before_credits INTEGER,
				after_credits INTEGER,
				charge_details_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_billing_ledger_job ON billing_ledger(job_id)`,

			`CREATE TABLE IF NOT EXISTS webhooks (
				id TEXT PRIMARY KEY,
				api_key_id TEXT NOT NULL,
				user_id TEXT,
				name TEXT NOT NULL,
				url TEXT NOT NULL,
				secret_encrypted TEXT,
				events_json TEXT NOT NULL DEFAULT '["*"]',
				headers_json TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhooks_api_key ON webhooks(api_key_id)`,

			`CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				webhook_id TEXT REFERENCES webhooks(id) ON DELETE CASCADE,
				event TEXT NOT NULL,
				resource_id TEXT NOT NULL,
				url TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				response_status INTEGER,
				response_time_ms INTEGER,
				error_message TEXT,
				next_retry_at TEXT,
				delivered_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries(webhook_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_resource ON webhook_deliveries(resource_id)`,
		},
	})
}
