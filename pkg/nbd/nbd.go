// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package nbd implements an NBD (Network Block Device) server that exposes a
// stick to the host the way the USB mass-storage class would. Clients attach
// with nbd-client over a unix socket.
package nbd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// NBD protocol constants
const (
	nbdMagic            = uint64(0x4e42444d41474943) // "NBDMAGIC"
	nbdOptionMagic      = uint64(0x49484156454F5054) // "IHAVEOPT"
	nbdReplyMagic       = uint64(0x3e889045565a9)
	nbdRequestMagic     = uint32(0x25609513)
	nbdReplyMagicSimple = uint32(0x67446698)

	nbdFlagFixedNewstyle = uint16(1 << 0)
	nbdFlagNoZeroes      = uint16(1 << 1)
	nbdFlagCNoZeroes     = uint32(1 << 1)

	nbdFlagHasFlags  = uint16(1 << 0)
	nbdFlagReadOnly  = uint16(1 << 1)
	nbdFlagSendFlush = uint16(1 << 2)
	nbdFlagSendTrim  = uint16(1 << 5)

	nbdOptExportName = uint32(1)
	nbdOptAbort      = uint32(2)
	nbdOptList       = uint32(3)
	nbdOptInfo       = uint32(6)
	nbdOptGo         = uint32(7)

	nbdRepAck        = uint32(1)
	nbdRepServer     = uint32(2)
	nbdRepInfo       = uint32(3)
	nbdRepErrUnsup   = uint32(0x80000001)
	nbdRepErrUnknown = uint32(0x80000006)

	nbdInfoExport    = uint16(0)
	nbdInfoBlockSize = uint16(3)

	nbdCmdRead  = uint16(0)
	nbdCmdWrite = uint16(1)
	nbdCmdDisc  = uint16(2)
	nbdCmdFlush = uint16(3)
	nbdCmdTrim  = uint16(4)

	nbdErrNone  = uint32(0)
	nbdErrPerm  = uint32(1)
	nbdErrIO    = uint32(5)
	nbdErrInval = uint32(22)

	// maxOptionLength bounds option payloads read during negotiation
	maxOptionLength = 4096

	// maxTransfer is the largest request a client may send
	maxTransfer = 32 * 1024 * 1024
)

var (
	// ErrNoExports indicates Serve was called before any export was added
	ErrNoExports = errors.New("no exports defined")

	// ErrExportExists indicates a duplicate export name
	ErrExportExists = errors.New("export already exists")

	// ErrAborted indicates the client aborted negotiation
	ErrAborted = errors.New("client aborted")
)

// BlockDevice is the host-facing view of a disk. Geometry and the
// read-only flag are sampled once per connection; call Server.Reconnect
// when they change.
type BlockDevice interface {
	BlockSize() int
	BlockCount() uint64
	HostReadOnly() bool
	ReadBlock(index uint32, buf []byte) (int, error)
	WriteBlock(index uint32, buf []byte) (int, error)
}

// syncer is implemented by devices that can flush to stable storage
type syncer interface {
	Sync() error
}

// Export is a named block device
type Export struct {
	Name   string
	Device BlockDevice
}

// Server represents the NBD server
type Server struct {
	socketPath string
	exports    map[string]*Export
	exportsMu  sync.RWMutex
	listener   net.Listener
	done       chan struct{}
	closeOnce  sync.Once
	log        *logrus.Entry

	sessionsMu sync.Mutex
	sessions   map[*session]struct{}
	wg         sync.WaitGroup
}

// session represents an active client connection
type session struct {
	server    *Server
	conn      net.Conn
	export    *Export
	noZeroes  bool
	blockSize int
	size      uint64
	readOnly  bool
	log       *logrus.Entry
}

// NewServer creates a new NBD server listening on socketPath
func NewServer(socketPath string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		socketPath: socketPath,
		exports:    make(map[string]*Export),
		sessions:   make(map[*session]struct{}),
		done:       make(chan struct{}),
		log:        logger.WithField("component", "nbd"),
	}
}

// AddExport registers a new export
func (s *Server) AddExport(name string, dev BlockDevice) error {
	s.exportsMu.Lock()
	defer s.exportsMu.Unlock()

	if _, exists := s.exports[name]; exists {
		return fmt.Errorf("%w: %q", ErrExportExists, name)
	}
	s.exports[name] = &Export{Name: name, Device: dev}
	return nil
}

// getExport retrieves an export by name
func (s *Server) getExport(name string) *Export {
	s.exportsMu.RLock()
	defer s.exportsMu.RUnlock()
	return s.exports[name]
}

// listExports returns all export names in sorted order
func (s *Server) listExports() []string {
	s.exportsMu.RLock()
	defer s.exportsMu.RUnlock()

	names := make([]string, 0, len(s.exports))
	for name := range s.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve listens on the unix socket and blocks until Close
func (s *Server) Serve() error {
	if len(s.listExports()) == 0 {
		return ErrNoExports
	}

	// Remove a stale socket left by a previous run
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// #nosec G302 - socket must be reachable by the disk group
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		s.log.WithError(err).Warn("Failed to chmod socket")
	}

	s.log.WithField("socket", s.socketPath).Info("Listening")
	s.log.Infof("Connect with: sudo nbd-client -N <export-name> -unix %s /dev/nbdX", s.socketPath)
	return s.serveListener(listener)
}

func (s *Server) serveListener(listener net.Listener) error {
	s.sessionsMu.Lock()
	select {
	case <-s.done:
		s.sessionsMu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	s.listener = listener
	s.sessionsMu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				s.log.WithError(err).Warn("Accept error")
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// Reconnect drops every live session. Clients reconnect and negotiate
// again, picking up the current size and read-only flag.
func (s *Server) Reconnect() {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if len(s.sessions) > 0 {
		s.log.WithField("sessions", len(s.sessions)).Info("Dropping sessions for reconnect")
	}
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

// Close shuts down the listener and all sessions
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sessionsMu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.sessionsMu.Unlock()
		s.Reconnect()
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
	return nil
}

// ServeConn runs the protocol on one connection until the client
// disconnects or the session is dropped
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	sess := &session{
		server: s,
		conn:   conn,
		log:    s.log,
	}
	s.track(sess, true)
	defer s.track(sess, false)

	if err := sess.negotiate(); err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			sess.log.WithError(err).Warn("Negotiation failed")
		}
		return
	}

	err := sess.transmit()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		sess.log.WithError(err).Warn("Transmission error")
	}
	sess.log.Info("Connection closed")
}

func (s *Server) track(sess *session, add bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if add {
		s.sessions[sess] = struct{}{}
	} else {
		delete(s.sessions, sess)
	}
}

func (sess *session) negotiate() error {
	greeting := make([]byte, 18)
	binary.BigEndian.PutUint64(greeting[0:8], nbdMagic)
	binary.BigEndian.PutUint64(greeting[8:16], nbdOptionMagic)
	binary.BigEndian.PutUint16(greeting[16:18], nbdFlagFixedNewstyle|nbdFlagNoZeroes)

	if _, err := sess.conn.Write(greeting); err != nil {
		return fmt.Errorf("failed to send greeting: %w", err)
	}

	clientFlags := make([]byte, 4)
	if _, err := io.ReadFull(sess.conn, clientFlags); err != nil {
		return fmt.Errorf("failed to read client flags: %w", err)
	}
	sess.noZeroes = binary.BigEndian.Uint32(clientFlags)&nbdFlagCNoZeroes != 0

	// Option haggling
	for {
		optHeader := make([]byte, 16)
		if _, err := io.ReadFull(sess.conn, optHeader); err != nil {
			return fmt.Errorf("failed to read option header: %w", err)
		}

		magic := binary.BigEndian.Uint64(optHeader[0:8])
		if magic != nbdOptionMagic {
			return fmt.Errorf("bad option magic: %x", magic)
		}

		optType := binary.BigEndian.Uint32(optHeader[8:12])
		optLen := binary.BigEndian.Uint32(optHeader[12:16])
		if optLen > maxOptionLength {
			return fmt.Errorf("option %d payload too large: %d bytes", optType, optLen)
		}

		optData := make([]byte, optLen)
		if _, err := io.ReadFull(sess.conn, optData); err != nil {
			return fmt.Errorf("failed to read option data: %w", err)
		}

		done, err := sess.handleOption(optType, optData)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (sess *session) handleOption(optType uint32, optData []byte) (done bool, err error) {
	switch optType {
	case nbdOptExportName:
		export := sess.server.getExport(string(optData))
		if export == nil {
			return false, fmt.Errorf("unknown export: %s", optData)
		}
		sess.attach(export)
		return true, sess.sendOldstyleExportInfo()

	case nbdOptInfo, nbdOptGo:
		export := sess.server.getExport(parseExportName(optData))
		if export == nil && parseExportName(optData) == "" {
			if names := sess.server.listExports(); len(names) > 0 {
				export = sess.server.getExport(names[0])
			}
		}
		if export == nil {
			return false, sess.sendOptionReply(optType, nbdRepErrUnknown, nil)
		}

		sess.attach(export)
		if err := sess.sendExportInfo(optType); err != nil {
			return false, err
		}
		return optType == nbdOptGo, nil

	case nbdOptList:
		for _, name := range sess.server.listExports() {
			nameData := make([]byte, 4+len(name))
			binary.BigEndian.PutUint32(nameData[0:4], uint32(len(name))) // #nosec G115 - names are short
			copy(nameData[4:], name)
			if err := sess.sendOptionReply(optType, nbdRepServer, nameData); err != nil {
				return false, err
			}
		}
		return false, sess.sendOptionReply(optType, nbdRepAck, nil)

	case nbdOptAbort:
		_ = sess.sendOptionReply(optType, nbdRepAck, nil)
		return false, ErrAborted

	default:
		return false, sess.sendOptionReply(optType, nbdRepErrUnsup, nil)
	}
}

// parseExportName extracts the name from an INFO or GO payload
func parseExportName(optData []byte) string {
	if len(optData) < 4 {
		return ""
	}
	nameLen := binary.BigEndian.Uint32(optData[0:4])
	if uint64(nameLen)+4 > uint64(len(optData)) {
		return ""
	}
	return string(optData[4 : 4+nameLen])
}

// attach samples the export geometry for the rest of the session
func (sess *session) attach(export *Export) {
	dev := export.Device
	sess.export = export
	sess.blockSize = dev.BlockSize()
	sess.size = uint64(sess.blockSize) * dev.BlockCount() // #nosec G115 - block size is positive
	sess.readOnly = dev.HostReadOnly()
	sess.log = sess.server.log.WithField("export", export.Name)
}

func (sess *session) transmissionFlags() uint16 {
	flags := nbdFlagHasFlags | nbdFlagSendFlush | nbdFlagSendTrim
	if sess.readOnly {
		flags |= nbdFlagReadOnly
	}
	return flags
}

func (sess *session) sendOptionReply(option, replyType uint32, data []byte) error {
	reply := make([]byte, 20+len(data))
	binary.BigEndian.PutUint64(reply[0:8], nbdReplyMagic)
	binary.BigEndian.PutUint32(reply[8:12], option)
	binary.BigEndian.PutUint32(reply[12:16], replyType)
	binary.BigEndian.PutUint32(reply[16:20], uint32(len(data))) // #nosec G115 - replies are small
	copy(reply[20:], data)
	_, err := sess.conn.Write(reply)
	return err
}

func (sess *session) sendExportInfo(option uint32) error {
	infoExport := make([]byte, 12)
	binary.BigEndian.PutUint16(infoExport[0:2], nbdInfoExport)
	binary.BigEndian.PutUint64(infoExport[2:10], sess.size)
	binary.BigEndian.PutUint16(infoExport[10:12], sess.transmissionFlags())
	if err := sess.sendOptionReply(option, nbdRepInfo, infoExport); err != nil {
		return err
	}

	// Every transfer must be block aligned
	blockInfo := make([]byte, 14)
	binary.BigEndian.PutUint16(blockInfo[0:2], nbdInfoBlockSize)
	binary.BigEndian.PutUint32(blockInfo[2:6], uint32(sess.blockSize))  // #nosec G115 - block size is at most 4096
	binary.BigEndian.PutUint32(blockInfo[6:10], uint32(sess.blockSize)) // #nosec G115 - block size is at most 4096
	binary.BigEndian.PutUint32(blockInfo[10:14], maxTransfer)
	if err := sess.sendOptionReply(option, nbdRepInfo, blockInfo); err != nil {
		return err
	}

	return sess.sendOptionReply(option, nbdRepAck, nil)
}

func (sess *session) sendOldstyleExportInfo() error {
	respLen := 10
	if !sess.noZeroes {
		respLen = 134
	}

	resp := make([]byte, respLen)
	binary.BigEndian.PutUint64(resp[0:8], sess.size)
	binary.BigEndian.PutUint16(resp[8:10], sess.transmissionFlags())

	_, err := sess.conn.Write(resp)
	return err
}

func (sess *session) transmit() error {
	header := make([]byte, 28)

	sess.log.WithFields(logrus.Fields{
		"bytes":     sess.size,
		"read_only": sess.readOnly,
	}).Info("Transmission phase")

	for {
		if _, err := io.ReadFull(sess.conn, header); err != nil {
			return err
		}

		magic := binary.BigEndian.Uint32(header[0:4])
		if magic != nbdRequestMagic {
			return fmt.Errorf("bad request magic: %x", magic)
		}

		cmdType := binary.BigEndian.Uint16(header[6:8])
		handle := header[8:16]
		offset := binary.BigEndian.Uint64(header[16:24])
		length := binary.BigEndian.Uint32(header[24:28])

		var err error
		switch cmdType {
		case nbdCmdRead:
			err = sess.handleRead(handle, offset, length)
		case nbdCmdWrite:
			err = sess.handleWrite(handle, offset, length)
		case nbdCmdFlush:
			err = sess.handleFlush(handle)
		case nbdCmdTrim:
			// Discarding would reveal which sectors are unused
			err = sess.sendReply(handle, nbdErrNone, nil)
		case nbdCmdDisc:
			sess.log.Debug("Client disconnected")
			return nil
		default:
			sess.log.WithField("command", cmdType).Warn("Unknown command")
			err = sess.sendReply(handle, nbdErrInval, nil)
		}
		if err != nil {
			return err
		}
	}
}

// checkRange validates a request against the session geometry
func (sess *session) checkRange(offset uint64, length uint32) uint32 {
	bs := uint64(sess.blockSize)
	switch {
	case length == 0 || length > maxTransfer:
		return nbdErrInval
	case offset%bs != 0 || uint64(length)%bs != 0:
		return nbdErrInval
	case offset > sess.size || uint64(length) > sess.size-offset:
		return nbdErrInval
	}
	return nbdErrNone
}

func (sess *session) handleRead(handle []byte, offset uint64, length uint32) error {
	if code := sess.checkRange(offset, length); code != nbdErrNone {
		return sess.sendReply(handle, code, nil)
	}

	dev := sess.export.Device
	data := make([]byte, length)
	first := offset / uint64(sess.blockSize)
	for i := 0; i < len(data); i += sess.blockSize {
		index := uint32(first + uint64(i/sess.blockSize)) // #nosec G115 - bounded by the 32-bit block count
		if _, err := dev.ReadBlock(index, data[i:i+sess.blockSize]); err != nil {
			sess.log.WithFields(logrus.Fields{"sector": index}).WithError(err).Warn("Read failed")
			return sess.sendReply(handle, nbdErrIO, nil)
		}
	}

	return sess.sendReply(handle, nbdErrNone, data)
}

func (sess *session) handleWrite(handle []byte, offset uint64, length uint32) error {
	if length > maxTransfer {
		return fmt.Errorf("write request too large: %d bytes", length)
	}

	// The payload always follows the header and must be consumed
	data := make([]byte, length)
	if _, err := io.ReadFull(sess.conn, data); err != nil {
		return fmt.Errorf("failed to read write data: %w", err)
	}

	dev := sess.export.Device
	if sess.readOnly || dev.HostReadOnly() {
		return sess.sendReply(handle, nbdErrPerm, nil)
	}
	if code := sess.checkRange(offset, length); code != nbdErrNone {
		return sess.sendReply(handle, code, nil)
	}

	first := offset / uint64(sess.blockSize)
	for i := 0; i < len(data); i += sess.blockSize {
		index := uint32(first + uint64(i/sess.blockSize)) // #nosec G115 - bounded by the 32-bit block count
		if _, err := dev.WriteBlock(index, data[i:i+sess.blockSize]); err != nil {
			sess.log.WithFields(logrus.Fields{"sector": index}).WithError(err).Warn("Write failed")
			return sess.sendReply(handle, nbdErrIO, nil)
		}
	}

	return sess.sendReply(handle, nbdErrNone, nil)
}

func (sess *session) handleFlush(handle []byte) error {
	if s, ok := sess.export.Device.(syncer); ok {
		if err := s.Sync(); err != nil {
			sess.log.WithError(err).Warn("Flush failed")
			return sess.sendReply(handle, nbdErrIO, nil)
		}
	}
	return sess.sendReply(handle, nbdErrNone, nil)
}

func (sess *session) sendReply(handle []byte, errCode uint32, data []byte) error {
	reply := make([]byte, 16+len(data))
	binary.BigEndian.PutUint32(reply[0:4], nbdReplyMagicSimple)
	binary.BigEndian.PutUint32(reply[4:8], errCode)
	copy(reply[8:16], handle)
	copy(reply[16:], data)
	_, err := sess.conn.Write(reply)
	return err
}
