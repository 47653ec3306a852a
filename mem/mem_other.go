//go:build !linux

package mem

func newPlatformBackend() Backend {
	return heapBackend{}
}
