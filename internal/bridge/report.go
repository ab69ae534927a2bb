package bridge

// LoadReport enumerates the outcome of OnLoad per optional transport, so a
// host that calls on_load can tell a fully-up bridge from one running in
// partial-success mode (§4.8: "Partial success is allowed"; Scenario S5).
type LoadReport struct {
	SnapshotReady bool

	TCPDataStarted    bool
	TCPCommandStarted bool
	WSStarted         bool

	TCPDataErr    error
	TCPCommandErr error
	WSErr         error

	LayoutDescriptorPath string
}

// Fatal reports whether the load failure is unrecoverable: the core cannot
// run at all without a working snapshot region, regardless of how many
// transports started (§7: MappingUnavailable is fatal to core).
func (r *LoadReport) Fatal() bool {
	return !r.SnapshotReady
}

// AnyTransportStarted reports whether at least one transport came up.
func (r *LoadReport) AnyTransportStarted() bool {
	return r.TCPDataStarted || r.TCPCommandStarted || r.WSStarted
}
