// Package httpserver exposes the security core over HTTP: vault
// uploads, reviews, and decisions, audit queries and analytics, and
// threat triage, plus the health and drain endpoints.
//
// Authentication lives upstream; handlers consume the resolved actor
// identity from request headers. Error responses are deliberately
// generic; the audit trail holds the specifics.
package httpserver
