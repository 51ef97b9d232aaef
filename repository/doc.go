// Package repository provides the generic, criteria driven data access
// layer: explicit entity schemas, a dot-path criteria translator, one
// transaction per call, optimistic versioning, relation fetching, paging,
// aggregation, a uniform error taxonomy and futures for asynchronous calls.
package repository
