// Package database provides the relay's local SQLite store.
//
// The store is small: it keeps the connectivity and control event log
// written by the audit package. Schema changes are plain SQL files named
// YYYYMMDD_HHMMSS_description.up.sql (with an optional .down.sql), passed
// to Migrate as an fs.FS.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
