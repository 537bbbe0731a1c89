// Package database provides SQLite connectivity for chargegate's credential store.
//
// The database holds operator accounts for the interactive console and API
// client credentials for the machine chain. Sessions and dispatched tasks are
// not stored here.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to mode 0600
//   - Only password hashes are stored, never plaintext
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive where possible and each version ships both an
// .up.sql and a .down.sql file.
package database
