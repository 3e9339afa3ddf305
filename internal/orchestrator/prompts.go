package orchestrator

import (
	"strings"

	"github.com/dvail/porterd/internal/job"
)

const plannerPrompt = `You are a PostgreSQL to MongoDB migration specialist.

You have full access to the cloned repository (current working directory),
bash commands (psql, git, npm, grep) and every file in the codebase.

## YOUR TASK

Analyze this codebase and create a comprehensive migration plan.

1. Explore the codebase: find all PostgreSQL usage (pg imports, pool.query /
   client.query calls, raw SQL strings, JOIN patterns, transactions).
2. If a PostgreSQL connection is available, inspect the live schema with psql
   (\dt, \d tablename), foreign keys and indexes.
3. For each table, document the target MongoDB collection, field types,
   relationships (references vs embedded documents) and required indexes.
   For each query, document its location (file:line), type and the Mongoose
   equivalent.

Output a JSON object in a fenced code block with keys: summary, tables,
queries, files_to_modify, schemas_to_create, complexity_notes,
data_migration_strategy.

Be thorough and specific; the plan must be executable by the execution agent.`

const executorPromptHeader = `You are a PostgreSQL to MongoDB migration executor.

You have full access to the cloned repository (current working directory),
bash commands (psql, pg_dump, git, npm, the gh CLI) and every file in the
codebase.

Execute the migration plan below: create the Mongoose schemas, rewrite the
queries, migrate the data, and open a pull request with the changes.

When done, output a JSON object in a fenced code block with keys: pr_url,
pr_number, files_changed, collections_created, rows_migrated (per table),
notes.

## MIGRATION PLAN

`

// PlannerPrompt builds the analysis instruction for the planning turn,
// including whatever database connections the job was configured with.
func PlannerPrompt(cfg job.Config) string {
	return withConnections(plannerPrompt, cfg)
}

// ExecutorPrompt builds the execution instruction carrying the serialized plan.
func ExecutorPrompt(planJSON string, cfg job.Config) string {
	return withConnections(executorPromptHeader+planJSON, cfg)
}

func withConnections(prompt string, cfg job.Config) string {
	var b strings.Builder
	b.WriteString(prompt)
	if strings.TrimSpace(cfg.PostgresURL) != "" {
		b.WriteString("\n\n## PostgreSQL Connection\nConnection string: ")
		b.WriteString(cfg.PostgresURL)
		b.WriteString("\nUse psql or pg_dump to inspect the database.")
	}
	if strings.TrimSpace(cfg.MongoURL) != "" {
		b.WriteString("\n\n## MongoDB Connection\nConnection string: ")
		b.WriteString(cfg.MongoURL)
		b.WriteString("\nUse mongosh to interact with MongoDB.")
	}
	return b.String()
}
