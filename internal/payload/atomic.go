package payload

import "sync/atomic"

// atomicArtifact wraps atomic.Pointer[Artifact] so Slot's zero value is
// ready to use without an explicit constructor.
type atomicArtifact struct {
	p atomic.Pointer[Artifact]
}

func (a *atomicArtifact) Store(v *Artifact) { a.p.Store(v) }
func (a *atomicArtifact) Load() *Artifact   { return a.p.Load() }
