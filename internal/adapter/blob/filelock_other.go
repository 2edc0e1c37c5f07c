//go:build !unix

package blob

// lockDir is a no-op where flock is unavailable; FileStore then
// serializes writers within one process only.
func lockDir(string) (func(), error) {
	return func() {}, nil
}
