// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeremyhahn/go-cryptstick/pkg/nbd"
	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
	"github.com/jeremyhahn/go-cryptstick/pkg/stick"
)

const consoleHelp = `Commands:
  unlock  (p)   enter the passphrase and unlock the disk
  passwd  (c)   change the passphrase
  ro            write-protect the disk
  rw            allow writes
  r             toggle write protection
  info    (i)   show disk state
  help    (h)   show this list
  quit    (q)   stop serving
`

// cmdServe exports the device over NBD and runs the operator console
func (c *CLI) cmdServe() int {
	cfg, logger, ok := c.loadConfig()
	if !ok {
		return 1
	}

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

	m, err := openMedia(cfg, false)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ Failed to open media: %v\n", err)
		return 1
	}
	defer func() { _ = m.Close() }()

	setup, err := openSetupView(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}
	defer func() { _ = setup.Close() }()

	srv := nbd.NewServer(cfg.NBD.Socket, logger)

	dev, err := stick.New(stick.Options{
		Cipher:      ciph,
		Store:       store,
		Media:       m,
		SetupView:   setup,
		Reconnector: srv,
		Logger:      logger,
	})
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %s\n", describeError(err))
		return 1
	}
	defer func() { _ = dev.Close() }()

	if err := srv.AddExport(cfg.NBD.Export, dev); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()
	defer func() { _ = srv.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.showBanner()
	_, _ = fmt.Fprintf(c.Stdout, "Serving export %q on %s\n", cfg.NBD.Export, cfg.NBD.Socket)
	_, _ = fmt.Fprint(c.Stdout, consoleHelp)

	con := &console{cli: c, dev: dev, lines: newLineReader(c.Stdin)}
	if err := con.run(ctx, serveErr); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "✗ %v\n", err)
		return 1
	}
	return 0
}

// lineReader reads one line from the input only when asked, so it never
// competes with hidden passphrase reads on the same terminal
type lineReader struct {
	next  chan struct{}
	lines chan string
	errs  chan error
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{
		next:  make(chan struct{}),
		lines: make(chan string),
		errs:  make(chan error, 1),
	}
	go func() {
		scanner := bufio.NewScanner(r)
		for range lr.next {
			if !scanner.Scan() {
				err := scanner.Err()
				if err == nil {
					err = io.EOF
				}
				lr.errs <- err
				return
			}
			lr.lines <- scanner.Text()
		}
	}()
	return lr
}

// console is the operator side of the stick: the buttons and the display
type console struct {
	cli   *CLI
	dev   *stick.Device
	lines *lineReader
}

// run processes commands until quit, end of input, a signal, or a server
// failure
func (con *console) run(ctx context.Context, serveErr <-chan error) error {
	out := con.cli.Stdout
	for {
		_, _ = fmt.Fprintf(out, "[%s] > ", con.status())

		select {
		case con.lines.next <- struct{}{}:
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out)
			return nil
		}

		select {
		case line := <-con.lines.lines:
			if quit := con.dispatch(strings.TrimSpace(line)); quit {
				return nil
			}
		case err := <-con.lines.errs:
			_, _ = fmt.Fprintln(out)
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read console input: %w", err)
		case err := <-serveErr:
			_, _ = fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("NBD server stopped: %w", err)
			}
			return nil
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out)
			return nil
		}
	}
}

func (con *console) status() string {
	s := con.dev.State().String()
	if con.dev.State() == stick.StateEncrypting {
		if con.dev.ReadOnly() {
			s += " ro"
		} else {
			s += " rw"
		}
	}
	return s
}

// dispatch runs one console command and reports whether to stop
func (con *console) dispatch(cmd string) bool {
	out := con.cli.Stdout
	switch cmd {
	case "":
	case "unlock", "p":
		con.unlock()
	case "passwd", "c":
		con.changePassphrase()
	case "ro":
		con.setReadOnly(true)
	case "rw":
		con.setReadOnly(false)
	case "r":
		con.setReadOnly(!con.dev.ReadOnly())
	case "info", "i":
		con.info()
	case "help", "h", "?":
		_, _ = fmt.Fprint(out, consoleHelp)
	case "quit", "q", "exit":
		return true
	default:
		_, _ = fmt.Fprintf(out, "Unknown command: %s (try 'help')\n", cmd)
	}
	return false
}

func (con *console) unlock() {
	passphrase, err := con.cli.readPassword("Passphrase: ")
	if err != nil {
		con.fail(err)
		return
	}
	if err := con.dev.Unlock(passphrase); err != nil {
		con.fail(err)
		return
	}
	_, _ = fmt.Fprintln(con.cli.Stdout, "✓ Disk unlocked (read-only)")
}

func (con *console) changePassphrase() {
	prompts := []string{"Current passphrase: ", "New passphrase: ", "Confirm new passphrase: "}
	entries := make([][]byte, 0, len(prompts))
	for _, prompt := range prompts {
		p, err := con.cli.readPassword(prompt)
		if err != nil {
			for _, e := range entries {
				secret.Wipe(e, secret.PassphraseFiller)
			}
			con.fail(err)
			return
		}
		entries = append(entries, p)
	}

	if err := con.dev.ChangePassphrase(entries[0], entries[1], entries[2]); err != nil {
		con.fail(err)
		return
	}
	_, _ = fmt.Fprintln(con.cli.Stdout, "✓ Passphrase changed")
}

func (con *console) setReadOnly(readOnly bool) {
	if err := con.dev.SetReadOnly(readOnly); err != nil {
		con.fail(err)
		return
	}
	if readOnly {
		_, _ = fmt.Fprintln(con.cli.Stdout, "✓ Disk is read-only")
	} else {
		_, _ = fmt.Fprintln(con.cli.Stdout, "✓ Disk is writable")
	}
}

func (con *console) info() {
	info := con.dev.Info()
	out := con.cli.Stdout
	_, _ = fmt.Fprintf(out, "State:      %s\n", info.State)
	_, _ = fmt.Fprintf(out, "Read-only:  %v\n", info.ReadOnly)
	_, _ = fmt.Fprintf(out, "Cipher:     %s (AES-%d)\n", info.Cipher, info.KeySize*8)
	_, _ = fmt.Fprintf(out, "Hash:       %s\n", info.Hash)
	_, _ = fmt.Fprintf(out, "Volume ID:  %s\n", info.VolumeID)
	_, _ = fmt.Fprintf(out, "Geometry:   %d blocks of %d bytes\n", info.BlockCount, info.BlockSize)
}

func (con *console) fail(err error) {
	_, _ = fmt.Fprintf(con.cli.Stdout, "✗ %s\n", describeError(err))
}
