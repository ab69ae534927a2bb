package codec

// HashID computes the stable 64-bit FNV-1a hash of a canonical variable
// name, used as the wire `id` for a record (§3 TelemetryFrame: "a stable
// hash of the variable's canonical name").
func HashID(name string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= prime64
	}
	return h
}
