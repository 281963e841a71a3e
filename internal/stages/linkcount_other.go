//go:build !unix

package stages

import "errors"

func linkCount(string) (uint64, error) {
	return 0, errors.New("hard link detection is not supported on this platform")
}
