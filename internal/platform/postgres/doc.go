// Package postgres provides the PostgreSQL storage used by the job API: the
// job_requests ledger written inside the caller's transaction, the embedded
// goose migrations that create it, and the mapping of driver errors to the
// store package's sentinel errors.
package postgres
