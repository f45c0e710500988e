// Package congestion contains code required to set the congestion control
// algorithm and read BBR variables of a net.Conn. This code currently only
// works on Linux systems, as TCP_CC_INFO is only available there.
package congestion

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/m-lab/tcp-info/inetdiag"
)

// ErrNoSupport indicates that this system does not support TCP_CC_INFO.
var ErrNoSupport = errors.New("TCP_CC_INFO not supported")

// Set sets the congestion control algorithm for |fp|.
func Set(fp *os.File, cc string) error {
	return set(fp, cc)
}

// Get returns the congestion control algorithm currently used by |fp|.
func Get(fp *os.File) (string, error) {
	return get(fp)
}

// GetBBRInfo obtains BBR info from |fp|.
func GetBBRInfo(fp *os.File) (inetdiag.BBRInfo, error) {
	return getMaxBandwidthAndMinRTT(fp)
}

// Validate checks that the kernel recognizes the named congestion control
// algorithm by setting it on a throwaway TCP socket. An unrecognized scheme
// is a configuration error that cannot change at runtime.
func Validate(cc string) error {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	fp := os.NewFile(uintptr(fd), fmt.Sprintf("validate-cc-fd-%d", fd))
	defer fp.Close()
	if err := set(fp, cc); err != nil {
		return fmt.Errorf("congestion control %q not available: %w", cc, err)
	}
	return nil
}
