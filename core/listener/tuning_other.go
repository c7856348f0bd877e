//go:build !linux

package listener

// tuneListener is a no-op on platforms without the Linux TCP options; the
// portable per-connection tuning in TuneConn still applies.
func tuneListener(fd uintptr, cfg Config) error {
	return nil
}
