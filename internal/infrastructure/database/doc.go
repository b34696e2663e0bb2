// Package database provides the SQLite store behind the BLE bridge's radio
// event audit.
//
// Open configures a single-connection pool with WAL mode and a busy timeout.
// Migrate applies the embedded up-migrations in version order, each in its
// own transaction, and records them in schema_migrations.
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Schema changes are additive: new columns are nullable
// or carry a default.
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
