//go:build !windows

package tdb

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmap_unix.go: thin wrapper over golang.org/x/sys/unix, replacing the
// teacher's unretrieved Map/Unmap helpers (sirgallo/mari IOUtils.go
// calls a package-level Map(file, flag, size)/MMap.Unmap()/MMap.Flush()
// that aren't among the retrieved files, but the teacher's go.mod pulls
// in golang.org/x/sys precisely to back them) with the same
// golang.org/x/sys/unix primitives those helpers build on.

// mmapFile maps the full current extent of f for read-write access.
func mmapFile(f *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, ioErr("mmap failed", err)
	}
	return data, nil
}

// munmapFile unmaps a previously mapped region.
func munmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return ioErr("munmap failed", err)
	}
	return nil
}

// msyncRange flushes [data[start:end]] to the backing file. The start
// offset is rounded down to the containing page, matching the
// teacher's flushRegionToDisk (sirgallo/mari IOUtils.go).
func msyncRange(data []byte, start, end uint64, pageSize int) error {
	if len(data) == 0 {
		return nil
	}
	pageMask := uint64(pageSize) - 1
	alignedStart := start &^ pageMask
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	if alignedStart >= end {
		return nil
	}
	if err := unix.Msync(data[alignedStart:end], unix.MS_SYNC); err != nil {
		return ioErr("msync failed", err)
	}
	return nil
}
