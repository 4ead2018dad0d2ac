// Package database manages the PostgreSQL connection pool used by the
// session, credential, and history stores.
package database
