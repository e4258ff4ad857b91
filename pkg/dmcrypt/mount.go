// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package dmcrypt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultFSType is the filesystem sticks ship with
const DefaultFSType = "vfat"

const procMounts = "/proc/self/mounts"

// MountOptions describes where to mount the filesystem of a mapped stick
type MountOptions struct {
	Name       string // mapping name
	MountPoint string // existing directory
	FSType     string // DefaultFSType when empty
	ReadOnly   bool
	Data       string // filesystem options, e.g. "uid=1000"
}

// mountEntry is one line of /proc/self/mounts
type mountEntry struct {
	device     string
	mountPoint string
}

// Mount mounts the filesystem on a mapped stick
func Mount(opts MountOptions) error {
	device, err := MappedDevicePath(opts.Name)
	if err != nil {
		return fmt.Errorf("stick %s is not mapped: %w", opts.Name, err)
	}
	fi, err := os.Stat(opts.MountPoint)
	if err != nil {
		return fmt.Errorf("mount point %s: %w", opts.MountPoint, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("mount point %s is not a directory", opts.MountPoint)
	}

	fstype := opts.FSType
	if fstype == "" {
		fstype = DefaultFSType
	}
	var flags uintptr
	if opts.ReadOnly {
		flags |= unix.MS_RDONLY
	}

	if err := unix.Mount(device, opts.MountPoint, fstype, flags, opts.Data); err != nil {
		return fmt.Errorf("failed to mount %s (%s) on %s: %w", device, fstype, opts.MountPoint, err)
	}
	return nil
}

// Unmount unmounts the filesystem at mountPoint, flushing pending writes
// through the crypt target
func Unmount(mountPoint string) error {
	if err := unix.Unmount(mountPoint, 0); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountPoint, err)
	}
	return nil
}

// IsMounted reports whether something is mounted at mountPoint
func IsMounted(mountPoint string) (bool, error) {
	entries, err := readMounts()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.mountPoint == mountPoint {
			return true, nil
		}
	}
	return false, nil
}

// MountPoints returns every mount point of the mapping name, innermost
// mounts first so they can be unmounted in order
func MountPoints(name string) ([]string, error) {
	entries, err := readMounts()
	if err != nil {
		return nil, err
	}
	return mountPointsOf(entries, mappingDevices(name)), nil
}

// mappingDevices lists the paths a mapping can appear under in the mount
// table
func mappingDevices(name string) []string {
	devices := []string{"/dev/mapper/" + name}
	if resolved, err := filepath.EvalSymlinks(devices[0]); err == nil && resolved != devices[0] {
		devices = append(devices, resolved)
	}
	return devices
}

func mountPointsOf(entries []mountEntry, devices []string) []string {
	var points []string
	for i := len(entries) - 1; i >= 0; i-- {
		for _, d := range devices {
			if entries[i].device == d {
				points = append(points, entries[i].mountPoint)
				break
			}
		}
	}
	return points
}

func readMounts() ([]mountEntry, error) {
	f, err := os.Open(procMounts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", procMounts, err)
	}
	defer func() { _ = f.Close() }()
	return parseMounts(f)
}

// mountEscapes undoes the octal escaping of the mount table
var mountEscapes = strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)

func parseMounts(r io.Reader) ([]mountEntry, error) {
	var entries []mountEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, mountEntry{
			device:     mountEscapes.Replace(fields[0]),
			mountPoint: mountEscapes.Replace(fields[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	return entries, nil
}
