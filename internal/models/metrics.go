package models

// StorageMetrics is the byte usage of the local cache against the
// configured ceiling. Recomputed whenever the cache is written to or
// evicted from.
type StorageMetrics struct {
	PerModule  map[string]int64 `json:"per_module"`
	TotalBytes int64            `json:"total_bytes"`
	Ceiling    int64            `json:"ceiling"`
}

// OverCeiling reports whether total usage exceeds the ceiling.
// A ceiling of zero means unlimited.
func (m *StorageMetrics) OverCeiling() bool {
	return m.Ceiling > 0 && m.TotalBytes > m.Ceiling
}
