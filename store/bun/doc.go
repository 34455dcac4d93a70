// Package bunstore implements store.Store using the Bun ORM with
// PostgreSQL dialect. The claim protocol maps onto a single
// conditional UPDATE ... RETURNING, and single-record saves onto
// INSERT ... ON CONFLICT against a partial unique index, so both stay
// atomic under concurrent worker processes.
//
// The caller owns the *bun.DB lifecycle — bunstore never closes it.
// Pass the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/xraph/chrono/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
