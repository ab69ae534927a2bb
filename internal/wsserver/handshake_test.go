package wsserver

import "testing"

// TestComputeAcceptKeyMatchesRFC6455Example verifies against the worked
// example in RFC 6455 section 1.3.
func TestComputeAcceptKeyMatchesRFC6455Example(t *testing.T) {
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("computeAcceptKey = %q, want %q", got, want)
	}
}
