package cpu

// spinFn is a package-level seam so tests can bound how long BusyDelay
// actually spins.
var spinFn = func() {}

// BusyDelay performs a deterministic, non-yielding spin for approximately
// iterations loop bodies. It is used by demo kernel tasks that want a
// bounded delay without involving the scheduler, mirroring
// original_source's cpu::busy_delay.
func BusyDelay(iterations uint64) {
	for i := uint64(0); i < iterations; i++ {
		spinFn()
	}
}
