package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260412-000000",
		Description: "task templates",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS templates (
				id TEXT PRIMARY KEY,
				api_key_id TEXT NOT NULL,
				user_id TEXT,
				name TEXT NOT NULL,
				description TEXT,
				task_type TEXT NOT NULL,
				payload_json TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_templates_api_key ON templates(api_key_id)`,

			`CREATE TABLE IF NOT EXISTS template_executions (
				id TEXT PRIMARY KEY,
				template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
				task_execution_id TEXT NOT NULL,
				resolved_type TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_template_executions_template ON template_executions(template_id)`,
		},
	})
}
