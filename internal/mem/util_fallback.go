//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// Swapping cannot be prevented here; key buffers are still wiped on
	// release, which is the best available on these platforms.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
