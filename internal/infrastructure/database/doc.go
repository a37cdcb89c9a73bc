// Package database provides the SQLite store used by the HomematicIP bridge.
//
// The store holds endpoint records so that endpoint identifiers survive
// restarts. Schema changes are applied from versioned migration files:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql file should ship with a matching .down.sql.
package database
