package storage

// Key schema:
//
//	ord:<orderID> → order.Order (JSON)
//	job:<jobID>   → queue.Job (JSON), non-terminal jobs only
const (
	prefixOrder = "ord:"
	prefixJob   = "job:"
)

func orderKey(id string) []byte { return []byte(prefixOrder + id) }
func jobKey(id string) []byte   { return []byte(prefixJob + id) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
