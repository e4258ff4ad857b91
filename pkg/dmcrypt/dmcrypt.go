// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package dmcrypt maps stick media on a Linux host with the kernel crypt
// target. A stick provisioned with a 256-bit key and SHA-256 lays sectors
// out exactly as dm-crypt's aes-cbc-essiv:sha256 does, so its media can be
// read without the daemon.
package dmcrypt

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unsafe"

	"github.com/anatol/devmapper.go"
	"github.com/google/uuid"
	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"golang.org/x/sys/unix"
)

// Encryption is the kernel cipher string matching the stick format
const Encryption = "aes-cbc-essiv:sha256"

// SectorSize is the only sector size whose IV numbering matches the stick
const SectorSize = 512

var (
	// ErrUnsupportedVariant indicates a key size, hash or block size the
	// kernel target cannot reproduce
	ErrUnsupportedVariant = errors.New("variant not supported by dm-crypt")

	// ErrAlreadyMapped indicates a mapping with the same name exists
	ErrAlreadyMapped = errors.New("mapping already exists")
)

// MapOptions contains options for mapping stick media
type MapOptions struct {
	Name      string    // Device mapper name (e.g., "cryptstick")
	Device    string    // Block device or image file holding the media
	Key       []byte    // Disk key
	Hash      string    // Digest the stick was provisioned with
	BlockSize int       // Media block size
	Offset    uint64    // Byte offset of sector 0 within Device
	Length    uint64    // Length in bytes, 0 for the rest of Device
	VolumeID  uuid.UUID // Volume UUID, used in the device-mapper UUID
}

// Mapping describes an active mapping
type Mapping struct {
	Name       string
	Path       string // Mapped device path
	LoopDevice string // Loop device attached for an image file, if any
}

// CheckVariant reports whether a stick variant can be mapped by the kernel
func CheckVariant(keySize int, hash string, blockSize int) error {
	if keySize != blockcipher.KeySize256 {
		return fmt.Errorf("%w: %d-bit key, need 256-bit", ErrUnsupportedVariant, keySize*8)
	}
	h, err := digest.ByName(hash)
	if err != nil || h.Name() != digest.NameSHA256 {
		return fmt.Errorf("%w: hash %q, need %s", ErrUnsupportedVariant, hash, digest.NameSHA256)
	}
	if blockSize != SectorSize {
		return fmt.Errorf("%w: block size %d, need %d", ErrUnsupportedVariant, blockSize, SectorSize)
	}
	return nil
}

// buildTable returns the crypt table for opts over backend of size bytes
func buildTable(opts MapOptions, backend string, size uint64) (devmapper.CryptTable, error) {
	if opts.Offset >= size {
		return devmapper.CryptTable{}, fmt.Errorf("offset %d beyond device size %d", opts.Offset, size)
	}
	length := opts.Length
	if length == 0 {
		length = size - opts.Offset
	}
	if opts.Offset+length > size {
		return devmapper.CryptTable{}, fmt.Errorf("mapping of %d bytes at %d exceeds device size %d", length, opts.Offset, size)
	}
	if opts.Offset%SectorSize != 0 || length%SectorSize != 0 {
		return devmapper.CryptTable{}, fmt.Errorf("offset and length must be multiples of %d", SectorSize)
	}

	// The devmapper library expects Length and BackendOffset in bytes
	return devmapper.CryptTable{
		Start:         0,
		Length:        length,
		BackendDevice: backend,
		BackendOffset: opts.Offset,
		Encryption:    Encryption,
		Key:           opts.Key,
		IVTweak:       0,
		SectorSize:    SectorSize,
	}, nil
}

// dmUUID returns the device-mapper UUID for a mapping
func dmUUID(volumeID uuid.UUID, name string) string {
	return fmt.Sprintf("CRYPT-CSTK-%s-%s", strings.ReplaceAll(volumeID.String(), "-", ""), name)
}

// Map creates a device-mapper crypt mapping over the stick media. Image
// files are attached to a free loop device first.
func Map(opts MapOptions) (*Mapping, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("mapping name is required")
	}
	if err := CheckVariant(len(opts.Key), opts.Hash, opts.BlockSize); err != nil {
		return nil, err
	}
	if IsMapped(opts.Name) {
		return nil, fmt.Errorf("%w: %s - remove it first with: cryptstick unmap %s", ErrAlreadyMapped, opts.Name, opts.Name)
	}

	fi, err := os.Stat(opts.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", opts.Device, err)
	}

	m := &Mapping{Name: opts.Name}
	backend := opts.Device
	if fi.Mode().IsRegular() {
		loop, err := SetupLoopDevice(opts.Device)
		if err != nil {
			return nil, err
		}
		m.LoopDevice = loop
		backend = loop
	}

	size, err := deviceSize(backend)
	if err != nil {
		m.detach()
		return nil, fmt.Errorf("failed to get device size: %w", err)
	}

	table, err := buildTable(opts, backend, size)
	if err != nil {
		m.detach()
		return nil, err
	}

	if err := devmapper.CreateAndLoad(opts.Name, dmUUID(opts.VolumeID, opts.Name), 0, table); err != nil {
		m.detach()
		return nil, fmt.Errorf("failed to create device-mapper: %w", err)
	}

	// Non-fatal, the device may still appear under /dev/mapper
	_ = ensureDeviceNode(opts.Name)

	m.Path, err = MappedDevicePath(opts.Name)
	if err != nil {
		return m, err
	}
	return m, nil
}

func (m *Mapping) detach() {
	if m.LoopDevice != "" {
		_ = DetachLoopDevice(m.LoopDevice)
	}
}

// Unmap removes a device-mapper mapping and any device nodes created for it
func Unmap(name string) error {
	info, _ := devmapper.InfoByName(name)

	if err := devmapper.Remove(name); err != nil {
		return fmt.Errorf("failed to remove device-mapper: %w", err)
	}

	if info != nil {
		_ = os.Remove(fmt.Sprintf("/dev/dm-%d", info.DevNo&0xFF))
	}
	_ = os.Remove(fmt.Sprintf("/dev/mapper/%s", name))
	return nil
}

// IsMapped checks if a device-mapper mapping exists
func IsMapped(name string) bool {
	if _, err := devmapper.InfoByName(name); err == nil {
		return true
	}

	// The symlink may be stale if udev did not clean up
	if fi, err := os.Stat(fmt.Sprintf("/dev/mapper/%s", name)); err == nil {
		return fi.Mode()&os.ModeDevice != 0
	}
	return false
}

// MappedDevicePath returns /dev/mapper/{name} when udev created it and
// /dev/dm-{minor} otherwise
func MappedDevicePath(name string) (string, error) {
	symlinkPath := fmt.Sprintf("/dev/mapper/%s", name)
	if _, err := os.Stat(symlinkPath); err == nil {
		return symlinkPath, nil
	}

	info, err := devmapper.InfoByName(name)
	if err != nil {
		return "", fmt.Errorf("device %s not found: %w", name, err)
	}

	minor := info.DevNo & 0xFF
	if info.DevNo > 0xFFFF {
		minor = info.DevNo & 0xFFFFFFFF
	}
	dmPath := fmt.Sprintf("/dev/dm-%d", minor)

	// The kernel creates the node asynchronously
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(dmPath); err == nil {
			return dmPath, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return dmPath, nil
}

// ensureDeviceNode creates /dev/dm-X when udev is not running, as in
// containers
func ensureDeviceNode(name string) error {
	info, err := devmapper.InfoByName(name)
	if err != nil {
		return err
	}

	major := uint32((info.DevNo >> 8) & 0xFFF) // #nosec G115 - max 4095
	minor := uint32(info.DevNo & 0xFF)         // #nosec G115 - max 255
	if info.DevNo > 0xFFFF {
		minor = uint32((info.DevNo & 0xFF) | ((info.DevNo >> 12) & 0xFFF00)) // #nosec G115 - max 1048575
	}

	dmPath := fmt.Sprintf("/dev/dm-%d", minor)
	mapperPath := fmt.Sprintf("/dev/mapper/%s", name)
	if _, err := os.Stat(dmPath); err == nil {
		return nil
	}
	if _, err := os.Stat(mapperPath); err == nil {
		return nil
	}

	dev := int(unix.Mkdev(major, minor)) // #nosec G115 - built from 12- and 20-bit fields
	if err := unix.Mknod(dmPath, unix.S_IFBLK|0660, dev); err != nil {
		if err2 := unix.Mknod(mapperPath, unix.S_IFBLK|0660, dev); err2 != nil {
			return fmt.Errorf("failed to create device node: %v, %v", err, err2)
		}
	}
	return nil
}

// deviceSize returns the size in bytes of a block device or file
func deviceSize(path string) (uint64, error) {
	f, err := os.Open(path) // #nosec G304 -- device path validated by caller
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return uint64(fi.Size()), nil // #nosec G115 - file sizes are non-negative
	}

	var size uint64
	// #nosec G103 -- unsafe.Pointer required for ioctl syscall
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("BLKGETSIZE64 failed: %v", errno)
	}
	return size, nil
}
