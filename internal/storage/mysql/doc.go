// Package mysql opens the MySQL connection pool shared by the wallet registry
// and the job store, and applies the schema migrations embedded from
// deploy/migrations.
package mysql
