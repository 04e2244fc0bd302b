package main

import "github.com/oklog/ulid/v2"

// newAuditID mints a sortable audit.log record ID (model.AuditRecord.ID:
// "ULID, monotonic and sortable").
func newAuditID() string {
	return ulid.Make().String()
}
