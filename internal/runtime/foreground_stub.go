//go:build !windows

package runtime

import "fmt"

// ForegroundExeName is unimplemented outside Windows; the process
// whitelist simply has nothing to query against.
func ForegroundExeName() (string, error) {
	return "", fmt.Errorf("runtime: foreground process query not supported on this platform")
}
