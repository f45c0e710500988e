package congestion

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/m-lab/tcp-info/inetdiag"
)

// Defined in include/uapi/linux/tcp.h, not exported by the syscall package.
const tcpCCInfo = 0x1a

func set(fp *os.File, cc string) error {
	// Note: Fd() returns uintptr but on Unix we can safely use int for
	// sockets.
	return syscall.SetsockoptString(int(fp.Fd()), syscall.IPPROTO_TCP,
		syscall.TCP_CONGESTION, cc)
}

func get(fp *os.File) (string, error) {
	// The maximum length of a congestion control algorithm name is 16
	// (TCP_CA_NAME_MAX in the kernel sources).
	buf := make([]byte, 16)
	length := uint32(len(buf))
	_, _, errno := syscall.Syscall6(
		uintptr(syscall.SYS_GETSOCKOPT),
		uintptr(int(fp.Fd())),
		uintptr(syscall.IPPROTO_TCP),
		uintptr(syscall.TCP_CONGESTION),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&length)),
		uintptr(0))
	if errno != 0 {
		return "", errno
	}
	// Drop the trailing NULs before converting to string.
	end := 0
	for end < int(length) && buf[end] != 0 {
		end++
	}
	return string(buf[:end]), nil
}

func getMaxBandwidthAndMinRTT(fp *os.File) (inetdiag.BBRInfo, error) {
	// The TCP_CC_INFO payload is a union of per-algorithm structs. The BBR
	// variant is the only one occupying five 32-bit words; a shorter reply
	// means the socket is not using BBR.
	bbrInfo := inetdiag.BBRInfo{}
	bbrInfoLen := uint32(unsafe.Sizeof(bbrInfo))
	_, _, errno := syscall.Syscall6(
		uintptr(syscall.SYS_GETSOCKOPT),
		uintptr(int(fp.Fd())),
		uintptr(syscall.IPPROTO_TCP),
		uintptr(tcpCCInfo),
		uintptr(unsafe.Pointer(&bbrInfo)),
		uintptr(unsafe.Pointer(&bbrInfoLen)),
		uintptr(0))
	if errno != 0 {
		return inetdiag.BBRInfo{}, errno
	}
	if bbrInfoLen != uint32(unsafe.Sizeof(bbrInfo)) {
		return inetdiag.BBRInfo{}, ErrNoSupport
	}
	return bbrInfo, nil
}
