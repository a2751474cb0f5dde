// Package database provides the SQLite connection and schema migrations
// for Ember Core.
//
// Repositories in other packages (entity, configentry) receive the *sql.DB
// embedded in DB and own their queries; this package only manages the
// connection, pragmas and migration lifecycle.
//
// Migrations are embedded into the binary by the top-level migrations
// package and applied in version order on startup.
package database
