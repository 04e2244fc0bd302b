package main

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/proctriage/triage/internal/lockcoord"
)

// newSessionID builds a session identifier in spec.md §6's format:
// "sess-YYYYMMDD-HHMMSS-<random6>", with a "ptd-" prefix for daemon-created
// sessions. The random suffix is the tail of a ULID rather than a
// hand-rolled RNG, since oklog/ulid is already the module's source of
// monotonic, sortable random IDs (see model.AuditRecord.ID).
func newSessionID(holder lockcoord.Holder, now time.Time) string {
	prefix := "sess"
	if holder == lockcoord.HolderDaemon {
		prefix = "ptd"
	}
	id := ulid.Make().String()
	random6 := strings.ToLower(id[len(id)-6:])
	return prefix + "-" + now.Format("20060102") + "-" + now.Format("150405") + "-" + random6
}
