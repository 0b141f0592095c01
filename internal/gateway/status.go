package gateway

// Status is the provider-agnostic payment/order lifecycle state.
// Lifecycle: created -> authorized -> captured -> refunded, or created -> failed.
// Pending covers in-flight verification outcomes that are neither settled nor
// dead yet.
type Status string

const (
	StatusCreated    Status = "created"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
	StatusPending    Status = "pending"
)

// MapStatus resolves a provider-native status through the adapter's mapping
// table. The mapping is total: anything the table does not name falls through
// to StatusFailed rather than being dropped.
func MapStatus(table map[string]Status, native string) Status {
	if s, ok := table[native]; ok {
		return s
	}
	return StatusFailed
}

// Terminal reports whether the state admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusRefunded || s == StatusFailed
}
