package db

import "embed"

// MigrationFS embeds the SQL migrations for users, refresh_tokens and audit_logs.
// The migrate runner (cmd/migrate) applies them in version order.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
