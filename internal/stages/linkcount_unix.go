//go:build unix

package stages

import (
	"fmt"
	"os"
	"syscall"
)

func linkCount(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("%s: no link count", path)
	}
	return uint64(st.Nlink), nil
}
