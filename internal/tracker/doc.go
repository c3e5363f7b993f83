// Package tracker is a small tracker API client built on the request
// bridge. Each operation sends one bridged request and maps the raw JSON
// payload into typed values.
package tracker
