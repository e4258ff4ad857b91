// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
)

// Version information
const Version = "1.0.0"

const banner = `
╔══════════════════════════════════════════════════════════════╗
║                   Cryptstick Disk Manager                    ║
║            Passphrase-unlocked AES-CBC-ESSIV disk            ║
╚══════════════════════════════════════════════════════════════╝
`

const usage = `
USAGE:
    cryptstick <command> [options]

COMMANDS:
    create-image <path> <size>   Create a zero-filled media image
    provision [--wipe] [--force] Generate and store a new disk key
    serve                        Export the disk over NBD with an
                                 interactive console
    info                         Show key record and media information
    export-eep <file>            Export the key record as Intel HEX
    encrypt-image <in> <out>     Encrypt a plaintext image offline
    decrypt-image <in> <out>     Decrypt a media image offline
    map <name> [--mount <dir>] [--fstype <type>] [--ro]
                                 Map the media with dm-crypt (256-bit
                                 SHA-256 sticks only) and optionally
                                 mount its filesystem
    unmap <name>                 Unmount and remove a dm-crypt mapping
    help                         Show this help message
    version                      Show version information

CONSOLE (serve):
    unlock  (p)                  Enter the passphrase and unlock the disk
    passwd  (c)                  Change the passphrase
    ro / rw (r)                  Set or toggle write protection
    info    (i)                  Show disk state
    help    (h)                  List console commands
    quit    (q)                  Stop serving

CONFIGURATION:
    Settings are read from the YAML file named by CRYPTSTICK_CONFIG.
    Built-in defaults apply when it is unset.

EXAMPLES:
    # Create a 64M image and provision a key for it
    cryptstick create-image stick.img 64M
    CRYPTSTICK_CONFIG=stick.yaml cryptstick provision --wipe

    # Serve the disk and attach it on the host
    sudo cryptstick serve
    sudo nbd-client -N cryptstick -unix /run/cryptstick.sock /dev/nbd0

    # Read a 256-bit stick directly with the kernel
    sudo cryptstick map stick --mount /mnt/stick

NOTE:
    - Passphrases are never logged or displayed
    - The disk comes up read-only after unlock; use 'rw' to allow writes
    - Provisioning again with --force makes existing media unreadable
`

func main() {
	os.Exit(NewCLI().Run())
}
