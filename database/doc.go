// Package database provides connection management, migrations, foreign key
// handling, first-run SQL seeding, configuration loading, driver error
// classification, query hooks and logging built on top of Bun.
package database
