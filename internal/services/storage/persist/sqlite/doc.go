// Package sqlite stores persistent tier items in a SQLite database. One
// database holds any number of scopes; each scope is an independent Backend.
package sqlite
