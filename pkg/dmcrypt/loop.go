// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package dmcrypt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// loopIoctl issues a loop ioctl on the device at path
func loopIoctl(path string, req, arg uintptr) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304 -- loop device path
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, arg); errno != 0 {
		return errno
	}
	return nil
}

// SetupLoopDevice backs a free loop device with a stick image so the crypt
// target has a block device to sit on
func SetupLoopDevice(image string) (string, error) {
	img, err := os.OpenFile(image, os.O_RDWR, 0) // #nosec G304 -- configured media image
	if err != nil {
		return "", fmt.Errorf("failed to open media image: %w", err)
	}
	defer func() { _ = img.Close() }()

	ctl, err := os.OpenFile("/dev/loop-control", os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("loop devices unavailable: %w", err)
	}
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, ctl.Fd(), unix.LOOP_CTL_GET_FREE, 0)
	_ = ctl.Close()
	if errno != 0 {
		return "", fmt.Errorf("no free loop device: %w", errno)
	}

	loop := fmt.Sprintf("/dev/loop%d", n)
	if err := loopIoctl(loop, unix.LOOP_SET_FD, img.Fd()); err != nil {
		return "", fmt.Errorf("failed to attach %s to %s: %w", image, loop, err)
	}
	return loop, nil
}

// DetachLoopDevice releases a loop device holding a stick image
func DetachLoopDevice(loop string) error {
	if err := loopIoctl(loop, unix.LOOP_CLR_FD, 0); err != nil {
		return fmt.Errorf("failed to detach %s: %w", loop, err)
	}
	return nil
}

// FindLoopDevice returns the loop device currently backed by image
func FindLoopDevice(image string) (string, error) {
	return findLoopDevice("/sys/block", image)
}

func findLoopDevice(sysBlock, image string) (string, error) {
	want, err := filepath.Abs(image)
	if err != nil {
		return "", err
	}
	loops, err := filepath.Glob(filepath.Join(sysBlock, "loop*", "loop", "backing_file"))
	if err != nil {
		return "", err
	}

	for _, path := range loops {
		data, err := os.ReadFile(path) // #nosec G304 -- sysfs attribute
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == want {
			return "/dev/" + filepath.Base(filepath.Dir(filepath.Dir(path))), nil
		}
	}
	return "", fmt.Errorf("media image %s is not attached to a loop device", image)
}
