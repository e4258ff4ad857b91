// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeremyhahn/go-cryptstick/pkg/config"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"github.com/jeremyhahn/go-cryptstick/pkg/dmcrypt"
	"github.com/jeremyhahn/go-cryptstick/pkg/keystore"
	"github.com/jeremyhahn/go-cryptstick/pkg/media"
	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
	"github.com/jeremyhahn/go-cryptstick/pkg/stick"
	"github.com/sirupsen/logrus"
)

// MapperOperations defines the host operations that need root
type MapperOperations interface {
	Map(opts dmcrypt.MapOptions) (*dmcrypt.Mapping, error)
	Unmap(name string) error
	IsMapped(name string) bool
	FindLoopDevice(file string) (string, error)
	DetachLoopDevice(device string) error
	Mount(opts dmcrypt.MountOptions) error
	Unmount(mountPoint string) error
	IsMounted(mountPoint string) (bool, error)
	MountPoints(name string) ([]string, error)
}

// Terminal defines the interface for terminal operations
type Terminal interface {
	ReadPassword(fd int) ([]byte, error)
}

// CLI represents the command-line interface application
type CLI struct {
	Args       []string
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	Mapper     MapperOperations
	Terminal   Terminal
	Getenv     func(key string) string
	Logger     *logrus.Logger // overrides the configured logger when set
	getStdinFd func() int
}

// DefaultMapperOperations implements MapperOperations using the dmcrypt package
type DefaultMapperOperations struct{}

func (d *DefaultMapperOperations) Map(opts dmcrypt.MapOptions) (*dmcrypt.Mapping, error) {
	return dmcrypt.Map(opts)
}

func (d *DefaultMapperOperations) Unmap(name string) error {
	return dmcrypt.Unmap(name)
}

func (d *DefaultMapperOperations) IsMapped(name string) bool {
	return dmcrypt.IsMapped(name)
}

func (d *DefaultMapperOperations) FindLoopDevice(file string) (string, error) {
	return dmcrypt.FindLoopDevice(file)
}

func (d *DefaultMapperOperations) DetachLoopDevice(device string) error {
	return dmcrypt.DetachLoopDevice(device)
}

func (d *DefaultMapperOperations) Mount(opts dmcrypt.MountOptions) error {
	return dmcrypt.Mount(opts)
}

func (d *DefaultMapperOperations) Unmount(mountPoint string) error {
	return dmcrypt.Unmount(mountPoint)
}

func (d *DefaultMapperOperations) IsMounted(mountPoint string) (bool, error) {
	return dmcrypt.IsMounted(mountPoint)
}

func (d *DefaultMapperOperations) MountPoints(name string) ([]string, error) {
	return dmcrypt.MountPoints(name)
}

// NewCLI creates a new CLI instance with default dependencies
func NewCLI() *CLI {
	return &CLI{
		Args:       os.Args,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Mapper:     &DefaultMapperOperations{},
		Terminal:   &DefaultTerminal{},
		Getenv:     os.Getenv,
		getStdinFd: func() int { return int(os.Stdin.Fd()) },
	}
}

// Run executes the CLI with the given arguments
func (c *CLI) Run() int {
	if len(c.Args) < 2 {
		c.showBanner()
		_, _ = fmt.Fprint(c.Stdout, usage)
		return 1
	}

	command := c.Args[1]

	switch command {
	case "create-image":
		return c.cmdCreateImage()
	case "provision":
		return c.cmdProvision()
	case "serve":
		return c.cmdServe()
	case "info":
		return c.cmdInfo()
	case "export-eep":
		return c.cmdExportEEP()
	case "encrypt-image":
		return c.cmdTransformImage(true)
	case "decrypt-image":
		return c.cmdTransformImage(false)
	case "map":
		return c.cmdMap()
	case "unmap":
		return c.cmdUnmap()
	case "help", "--help", "-h":
		c.showBanner()
		_, _ = fmt.Fprint(c.Stdout, usage)
		return 0
	case "version", "--version", "-v":
		_, _ = fmt.Fprintf(c.Stdout, "cryptstick version %s\n", Version)
		return 0
	default:
		_, _ = fmt.Fprintf(c.Stderr, "Unknown command: %s\n\n", command)
		_, _ = fmt.Fprint(c.Stdout, usage)
		return 1
	}
}

func (c *CLI) showBanner() {
	_, _ = fmt.Fprint(c.Stdout, banner)
}

// loadConfig reads the configuration named by CRYPTSTICK_CONFIG
func (c *CLI) loadConfig() (*config.Config, *logrus.Logger, bool) {
	path := ""
	if c.Getenv != nil {
		path = c.Getenv(config.EnvConfig)
	}

	cfg, err := config.Load(path)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to load configuration: %v\n", err)
		return nil, nil, false
	}

	logger := c.Logger
	if logger == nil {
		logger = cfg.Logger()
	}
	return cfg, logger, true
}

// cmdCreateImage creates a zero-filled media image file
func (c *CLI) cmdCreateImage() int {
	if len(c.Args) < 4 {
		_, _ = fmt.Fprintln(c.Stdout, "Usage: cryptstick create-image <path> <size>")
		_, _ = fmt.Fprintln(c.Stdout, "Example: cryptstick create-image stick.img 64M")
		_, _ = fmt.Fprintln(c.Stdout, "\nSize suffixes: K, M, G, T")
		return 1
	}

	path := c.Args[2]
	cfg, _, ok := c.loadConfig()
	if !ok {
		return 1
	}

	size, err := ParseSize(c.Args[3])
	if err != nil || size <= 0 {
		_, _ = fmt.Fprintf(c.Stderr, "Invalid size: %s\n", c.Args[3])
		return 1
	}

	blocks := uint64(size) / uint64(cfg.Media.BlockSize) // #nosec G115 - size checked positive
	if err := media.CreateImage(path, cfg.Media.BlockSize, blocks); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to create image: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(c.Stdout, "✓ Created %s: %d blocks of %d bytes\n", path, blocks, cfg.Media.BlockSize)
	return 0
}

// cmdProvision generates a new disk key and stores it
func (c *CLI) cmdProvision() int {
	var wipe, force bool
	for _, arg := range c.Args[2:] {
		switch arg {
		case "--wipe":
			wipe = true
		case "--force":
			force = true
		default:
			_, _ = fmt.Fprintln(c.Stdout, "Usage: cryptstick provision [--wipe] [--force]")
			return 1
		}
	}

	cfg, logger, ok := c.loadConfig()
	if !ok {
		return 1
	}

	c.showBanner()
	_, _ = fmt.Fprintf(c.Stdout, "Provisioning key store: %s (%s)\n\n", cfg.KeyStore.Path, cfg.KeyStore.Backend)

	ciph, err := newCipher(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}

	store, err := openKeyStore(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to open key store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if !force {
		if _, err := store.Load(); err == nil {
			_, _ = fmt.Fprintln(c.Stderr, "✗ Key store is already provisioned.")
			_, _ = fmt.Fprintln(c.Stderr, "Re-provisioning makes existing media unreadable; use --force to proceed.")
			return 1
		}
	}

	passphrase, err := c.promptPassphrase("Enter passphrase for new disk: ", true)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		return 1
	}
	defer secret.Wipe(passphrase, secret.PassphraseFiller)

	rec, err := stick.Provision(store, stick.ProvisionOptions{
		Passphrase: passphrase,
		KeySize:    cfg.KeySizeBytes(),
		Hash:       cfg.Hash,
		Cipher:     ciph,
		Force:      force,
	})
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "\n✗ Failed to provision: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintln(c.Stdout, "✓ Disk key generated and stored")
	_, _ = fmt.Fprintf(c.Stdout, "\n  Volume ID: %s\n", rec.VolumeID)
	_, _ = fmt.Fprintf(c.Stdout, "  Cipher:    AES-%d-CBC-ESSIV\n", rec.KeySize*8)
	_, _ = fmt.Fprintf(c.Stdout, "  Hash:      %s\n", rec.Hash)

	if wipe {
		_, _ = fmt.Fprintln(c.Stdout, "\nFilling media with random data...")
		m, err := openMedia(cfg, false)
		if err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to open media: %v\n", err)
			return 1
		}
		defer func() { _ = m.Close() }()

		if err := media.Wipe(m, true); err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to wipe media: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(c.Stdout, "✓ %d blocks wiped\n", m.BlockCount())
	}

	return 0
}

// cmdInfo displays the key record and media geometry
func (c *CLI) cmdInfo() int {
	cfg, logger, ok := c.loadConfig()
	if !ok {
		return 1
	}

	rec, err := loadRecord(cfg, logger)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			_, _ = fmt.Fprintln(c.Stderr, "✗ Key store is not provisioned. Run: cryptstick provision")
		} else {
			_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to read key store: %v\n", err)
		}
		return 1
	}

	c.showBanner()
	_, _ = fmt.Fprintf(c.Stdout, "Key Store: %s (%s)\n", cfg.KeyStore.Path, cfg.KeyStore.Backend)
	_, _ = fmt.Fprintln(c.Stdout, "═══════════════════════════════════════════════════════════")
	_, _ = fmt.Fprintf(c.Stdout, "\nVolume ID:      %s\n", rec.VolumeID)
	_, _ = fmt.Fprintf(c.Stdout, "Record Version: %d\n", rec.Version)
	_, _ = fmt.Fprintf(c.Stdout, "Cipher:         AES-%d-CBC-ESSIV (%s backend)\n", rec.KeySize*8, cfg.Cipher.Backend)
	_, _ = fmt.Fprintf(c.Stdout, "Hash:           %s\n", rec.Hash)

	if cfg.Media.Path != "" {
		m, err := openMedia(cfg, true)
		if err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "\n✗ Failed to open media: %v\n", err)
			return 1
		}
		defer func() { _ = m.Close() }()

		_, _ = fmt.Fprintf(c.Stdout, "Media:          %s\n", cfg.Media.Path)
		_, _ = fmt.Fprintf(c.Stdout, "Block Size:     %d bytes\n", m.BlockSize())
		_, _ = fmt.Fprintf(c.Stdout, "Blocks:         %d\n", m.BlockCount())
	}

	if err := dmcrypt.CheckVariant(rec.KeySize, rec.Hash, cfg.Media.BlockSize); err == nil {
		_, _ = fmt.Fprintf(c.Stdout, "dm-crypt:       compatible (%s)\n", dmcrypt.Encryption)
	} else {
		_, _ = fmt.Fprintln(c.Stdout, "dm-crypt:       not compatible")
	}

	return 0
}

// cmdExportEEP writes the key record as an Intel HEX EEPROM image
func (c *CLI) cmdExportEEP() int {
	if len(c.Args) < 3 {
		_, _ = fmt.Fprintln(c.Stdout, "Usage: cryptstick export-eep <file>")
		_, _ = fmt.Fprintln(c.Stdout, "Example: cryptstick export-eep stick.eep")
		return 1
	}

	cfg, logger, ok := c.loadConfig()
	if !ok {
		return 1
	}

	rec, err := loadRecord(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to read key store: %v\n", err)
		return 1
	}

	out := c.Args[2]
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304 -- user-provided output path
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to create %s: %v\n", out, err)
		return 1
	}
	defer func() { _ = f.Close() }()

	if err := keystore.WriteIntelHex(f, rec); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to write %s: %v\n", out, err)
		return 1
	}

	_, _ = fmt.Fprintf(c.Stdout, "✓ EEPROM image written to %s\n", out)
	return 0
}

// cmdTransformImage encrypts or decrypts a whole image offline
func (c *CLI) cmdTransformImage(encrypt bool) int {
	name := "decrypt-image"
	if encrypt {
		name = "encrypt-image"
	}
	if len(c.Args) < 4 {
		_, _ = fmt.Fprintf(c.Stdout, "Usage: cryptstick %s <in> <out>\n", name)
		return 1
	}
	in, out := c.Args[2], c.Args[3]

	cfg, logger, ok := c.loadConfig()
	if !ok {
		return 1
	}

	key, rec, code := c.openDiskKey(cfg, logger)
	if key == nil {
		return code
	}
	defer key.Close()

	ciph, err := newCipher(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}
	h, err := digest.ByName(rec.Hash)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}

	codec, err := stick.NewImageCodec(ciph, h, key.Bytes(), cfg.Media.BlockSize)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}
	defer codec.Close()

	src, err := os.Open(in) // #nosec G304 -- user-provided input image
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to open %s: %v\n", in, err)
		return 1
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 -- user-provided output image
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to create %s: %v\n", out, err)
		return 1
	}
	defer func() { _ = dst.Close() }()

	w := bufio.NewWriter(dst)
	var sectors uint32
	if encrypt {
		sectors, err = codec.EncryptImage(w, bufio.NewReader(src))
	} else {
		sectors, err = codec.DecryptImage(w, bufio.NewReader(src))
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = dst.Sync()
	}
	if err != nil {
		_ = os.Remove(out)
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed after %d sectors: %v\n", sectors, err)
		return 1
	}

	_, _ = fmt.Fprintf(c.Stdout, "✓ %d sectors written to %s\n", sectors, out)
	return 0
}

// parseMapArgs parses map <name> [--mount <dir>] [--fstype <type>] [--ro]
func parseMapArgs(args []string) (string, dmcrypt.MountOptions, error) {
	var opts dmcrypt.MountOptions
	var name string
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--mount", "--fstype":
			if i+1 >= len(args) {
				return "", opts, fmt.Errorf("%s needs a value", arg)
			}
			i++
			if arg == "--mount" {
				opts.MountPoint = args[i]
			} else {
				opts.FSType = args[i]
			}
		case "--ro":
			opts.ReadOnly = true
		default:
			if strings.HasPrefix(arg, "-") || name != "" {
				return "", opts, fmt.Errorf("unexpected argument %s", arg)
			}
			name = arg
		}
	}
	if name == "" {
		return "", opts, fmt.Errorf("mapping name is required")
	}
	if opts.MountPoint == "" && (opts.FSType != "" || opts.ReadOnly) {
		return "", opts, fmt.Errorf("--fstype and --ro need --mount")
	}
	opts.Name = name
	return name, opts, nil
}

// cmdMap maps the media with the kernel crypt target and optionally mounts
// its filesystem
func (c *CLI) cmdMap() int {
	name, mountOpts, err := parseMapArgs(c.Args[2:])
	if err != nil {
		if len(c.Args) > 2 {
			_, _ = fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(c.Stdout, "Usage: cryptstick map <name> [--mount <dir>] [--fstype <type>] [--ro]")
		_, _ = fmt.Fprintln(c.Stdout, "Example: cryptstick map stick --mount /mnt/stick")
		return 1
	}

	cfg, logger, ok := c.loadConfig()
	if !ok {
		return 1
	}
	if cfg.Media.Path == "" {
		_, _ = fmt.Fprintln(c.Stderr, "✗ media.path is not configured")
		return 1
	}

	rec, err := loadRecord(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to read key store: %v\n", err)
		return 1
	}
	if err := dmcrypt.CheckVariant(rec.KeySize, rec.Hash, cfg.Media.BlockSize); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		_, _ = fmt.Fprintln(c.Stderr, "Only sticks provisioned with key_size 256, hash sha256 and 512-byte blocks can be mapped.")
		return 1
	}
	if c.Mapper.IsMapped(name) {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %s is already mapped. Remove it first with: cryptstick unmap %s\n", name, name)
		return 1
	}
	if mountOpts.MountPoint != "" {
		mounted, err := c.Mapper.IsMounted(mountOpts.MountPoint)
		if err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
			return 1
		}
		if mounted {
			_, _ = fmt.Fprintf(c.Stderr, "✗ %s is already in use as a mount point\n", mountOpts.MountPoint)
			return 1
		}
	}

	key, _, code := c.openDiskKey(cfg, logger)
	if key == nil {
		return code
	}
	defer key.Close()

	bs := uint64(cfg.Media.BlockSize) // #nosec G115 - validated block size
	m, err := c.Mapper.Map(dmcrypt.MapOptions{
		Name:      name,
		Device:    cfg.Media.Path,
		Key:       key.Bytes(),
		Hash:      rec.Hash,
		BlockSize: cfg.Media.BlockSize,
		Offset:    cfg.Media.Offset * bs,
		Length:    cfg.Media.Blocks * bs,
		VolumeID:  rec.VolumeID,
	})
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "\n✗ Failed to map: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintln(c.Stdout, "\n✓ Media mapped successfully!")
	_, _ = fmt.Fprintf(c.Stdout, "\nDevice: %s\n", m.Path)
	if m.LoopDevice != "" {
		_, _ = fmt.Fprintf(c.Stdout, "Loop:   %s\n", m.LoopDevice)
	}

	if mountOpts.MountPoint == "" {
		return 0
	}
	if err := c.Mapper.Mount(mountOpts); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "\n✗ Failed to mount: %v\n", err)
		if err := c.Mapper.Unmap(name); err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "Warning: failed to remove mapping %s: %v\n", name, err)
		} else if m.LoopDevice != "" {
			_ = c.Mapper.DetachLoopDevice(m.LoopDevice)
		}
		return 1
	}
	_, _ = fmt.Fprintf(c.Stdout, "Mount:  %s\n", mountOpts.MountPoint)
	return 0
}

// cmdUnmap removes a mapping and detaches its loop device
func (c *CLI) cmdUnmap() int {
	if len(c.Args) < 3 {
		_, _ = fmt.Fprintln(c.Stdout, "Usage: cryptstick unmap <name>")
		_, _ = fmt.Fprintln(c.Stdout, "Example: cryptstick unmap stick")
		return 1
	}
	name := c.Args[2]

	cfg, _, ok := c.loadConfig()
	if !ok {
		return 1
	}

	if !c.Mapper.IsMapped(name) {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %s is not mapped\n", name)
		return 1
	}

	points, err := c.Mapper.MountPoints(name)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}
	for _, mp := range points {
		if err := c.Mapper.Unmount(mp); err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
			_, _ = fmt.Fprintln(c.Stderr, "Close any programs using the volume and try again.")
			return 1
		}
		_, _ = fmt.Fprintf(c.Stdout, "✓ Unmounted %s\n", mp)
	}

	if err := c.Mapper.Unmap(name); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to unmap: %v\n", err)
		_, _ = fmt.Fprintln(c.Stderr, "Is the volume still in use?")
		return 1
	}

	if cfg.Media.Path != "" {
		if fi, err := os.Stat(cfg.Media.Path); err == nil && fi.Mode().IsRegular() {
			if loop, err := c.Mapper.FindLoopDevice(cfg.Media.Path); err == nil {
				if err := c.Mapper.DetachLoopDevice(loop); err != nil {
					_, _ = fmt.Fprintf(c.Stderr, "Warning: failed to detach %s: %v\n", loop, err)
				}
			}
		}
	}

	_, _ = fmt.Fprintf(c.Stdout, "✓ %s unmapped\n", name)
	return 0
}

// openDiskKey prompts for the passphrase and decrypts the disk key. It
// returns a nil key and an exit code on failure.
func (c *CLI) openDiskKey(cfg *config.Config, logger *logrus.Logger) (*secret.Buffer, *keystore.Record, int) {
	rec, err := loadRecord(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to read key store: %v\n", err)
		return nil, nil, 1
	}

	ciph, err := newCipher(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return nil, nil, 1
	}

	passphrase, err := c.promptPassphrase("Enter passphrase: ", false)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		return nil, nil, 1
	}

	key, err := stick.OpenKey(rec, ciph, passphrase)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %s\n", describeError(err))
		return nil, nil, 1
	}
	return key, rec, 0
}

// promptPassphrase prompts for passphrase with hidden input
func (c *CLI) promptPassphrase(prompt string, confirm bool) ([]byte, error) {
	passphrase, err := c.readPassword(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}

	if confirm {
		confirmation, err := c.readPassword("Confirm passphrase: ")
		if err != nil {
			secret.Wipe(passphrase, secret.PassphraseFiller)
			return nil, fmt.Errorf("failed to read confirmation: %w", err)
		}
		defer secret.Wipe(confirmation, secret.PassphraseFiller)

		if subtle.ConstantTimeCompare(passphrase, confirmation) != 1 {
			secret.Wipe(passphrase, secret.PassphraseFiller)
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	return passphrase, nil
}

func (c *CLI) readPassword(prompt string) ([]byte, error) {
	_, _ = fmt.Fprint(c.Stdout, prompt)
	fd := 0
	if c.getStdinFd != nil {
		fd = c.getStdinFd()
	}
	passphrase, err := c.Terminal.ReadPassword(fd)
	_, _ = fmt.Fprintln(c.Stdout)
	return passphrase, err
}

// describeError maps device errors to console messages
func describeError(err error) string {
	switch {
	case errors.Is(err, stick.ErrWrongPassphrase):
		return "Wrong passphrase"
	case errors.Is(err, stick.ErrPassphraseMismatch):
		return "New passphrases do not match"
	case errors.Is(err, stick.ErrInvalidPassphrase):
		return fmt.Sprintf("Passphrase must be %d to %d bytes", stick.MinPassphraseLength, stick.MaxPassphraseLength)
	case errors.Is(err, stick.ErrWrongMode):
		return "Wrong mode"
	case errors.Is(err, stick.ErrKeyStore), errors.Is(err, stick.ErrStorage):
		return fmt.Sprintf("Storage error: %v", err)
	case errors.Is(err, stick.ErrAcceleratorFault):
		return "Crypto engine fault"
	default:
		return err.Error()
	}
}

// ParseSize parses a size string like "100M" into bytes (exported for testing)
func ParseSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty size")
	}

	suffix := s[len(s)-1]
	var multiplier int64 = 1

	valueStr := s
	switch suffix {
	case 'K', 'k':
		multiplier = 1024
		valueStr = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1024 * 1024
		valueStr = s[:len(s)-1]
	case 'G', 'g':
		multiplier = 1024 * 1024 * 1024
		valueStr = s[:len(s)-1]
	case 'T', 't':
		multiplier = 1024 * 1024 * 1024 * 1024
		valueStr = s[:len(s)-1]
	}

	var value int64
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid size value: %s", s)
	}

	return value * multiplier, nil
}
