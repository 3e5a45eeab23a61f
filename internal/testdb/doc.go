//go:build integration

// Package testdb provides utilities for database integration tests.
//
// Tests run against the database named by DATABASE_URL (or
// CUTOUT_TEST_DB_URL) and are skipped when neither is set. GetTestDBWithT
// opens a connection, applies the goose migrations from
// internal/platform/postgres/migrations and registers cleanup.
//
// # Transaction Isolation
//
// Store tests run inside WithTx, which rolls the transaction back when the
// test function returns, so tests can run in parallel without cleanup:
//
//	func TestMyFeature(t *testing.T) {
//	    t.Parallel()
//	    if testdb.ShouldSkipDatabaseTest() {
//	        t.Skip("DATABASE_URL not set - skipping integration test")
//	    }
//
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        taskStore := postgres.NewPostgresTaskStore(tx, nil)
//	        // ...
//	    })
//	}
//
// The work queue needs its own transactions and cannot run inside WithTx;
// its tests use TruncateTables instead.
package testdb
