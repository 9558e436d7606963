// Package database provides SQLite connectivity for fleetd.
//
// The database holds the execution history written by the results
// package. It is opened in WAL mode with a single writer connection,
// and its schema is managed by versioned, embedded migrations:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
//	    return err
//	}
package database
