package link

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskpair/deskpair/internal/constants"
	"github.com/deskpair/deskpair/internal/events"
	"github.com/deskpair/deskpair/internal/logging"
	"github.com/deskpair/deskpair/internal/transfer"
)

// ErrNoPeer is returned when an outbound frame has no connected device to go
// to.
var ErrNoPeer = errors.New("no device connected")

// reasonLinkLost fails every in-progress transfer when the connection drops.
const reasonLinkLost = "Connection lost"

// StatusSink receives the paired device's mirrored status. Implemented by the
// device store.
type StatusSink interface {
	UpdateStatus(name string, battery int, charging bool)
}

// ServerConfig holds the transport settings for server mode.
type ServerConfig struct {
	// Token is the shared pairing secret. A hello frame with a different
	// token is rejected and the connection closed.
	Token string

	// DownloadDir is where incoming files are written.
	DownloadDir string
}

// Server accepts the mobile device's connection and bridges wire frames onto
// the transfer manager. At most one peer is connected at a time; a new
// handshake replaces the previous connection.
//
// Server implements transfer.CancelNotifier for the outbound cancel path and
// is the Sender behind media commands.
type Server struct {
	cfg     ServerConfig
	manager *transfer.Manager
	bus     *events.EventBus
	log     *logging.Logger
	status  StatusSink

	upgrader websocket.Upgrader

	mu       sync.Mutex
	peer     *peerConn
	incoming map[string]*incomingFile

	httpSrv *http.Server
}

// incomingFile is the write side of one incoming transfer: the partial file
// on disk plus the running hash that decides verification at the end.
type incomingFile struct {
	path    string
	file    *os.File
	hash    hash.Hash
	written int64
}

// NewServer creates a link server. Call SetStatusSink before serving if
// status mirroring is wanted.
func NewServer(cfg ServerConfig, manager *transfer.Manager, bus *events.EventBus, log *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		bus:     bus,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The pair token is the authentication; browsers are not the
			// expected client.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		incoming: make(map[string]*incomingFile),
	}
}

// SetStatusSink wires where status.update frames land.
func (s *Server) SetStatusSink(sink StatusSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = sink
}

// Run listens on addr and serves the upgrade endpoint at /link until
// Shutdown is called.
func (s *Server) Run(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/link", s)

	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	srv := s.httpSrv
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Msg("Link server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("link server: %w", err)
	}
	return nil
}

// Shutdown closes the current peer connection and stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	peer := s.peer
	srv := s.httpSrv
	s.mu.Unlock()

	if peer != nil {
		peer.shutdown()
	}
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}

	hello, err := s.awaitHello(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Handshake rejected")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "pairing failed"),
			time.Now().Add(time.Second),
		)
		conn.Close()
		return
	}

	peer := newPeerConn(conn, hello.DeviceName)
	s.adoptPeer(peer)

	ok, err := Encode(TypePairOK, PairOKPayload{DeviceName: hostName()})
	if err == nil {
		peer.enqueue(ok)
	}

	s.log.Info().
		Str("device", hello.DeviceName).
		Str("remote", r.RemoteAddr).
		Msg("Device connected")
	s.publishLink(events.EventLinkConnected, r.RemoteAddr, hello.DeviceName)

	go peer.writePump()
	s.readLoop(peer)

	s.dropPeer(peer, r.RemoteAddr)
}

// awaitHello reads the first frame and checks the pair token.
func (s *Server) awaitHello(conn *websocket.Conn) (HelloPayload, error) {
	_ = conn.SetReadDeadline(time.Now().Add(constants.WriteTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return HelloPayload{}, fmt.Errorf("read hello: %w", err)
	}

	env, err := Decode(frame)
	if err != nil {
		return HelloPayload{}, err
	}
	if env.Type != TypePairHello {
		return HelloPayload{}, fmt.Errorf("expected %s, got %s", TypePairHello, env.Type)
	}

	var hello HelloPayload
	if err := DecodePayload(env, &hello); err != nil {
		return HelloPayload{}, err
	}
	if subtle.ConstantTimeCompare([]byte(hello.Token), []byte(s.cfg.Token)) != 1 {
		return HelloPayload{}, errors.New("pair token mismatch")
	}
	return hello, nil
}

// adoptPeer installs the new connection, displacing any previous one.
func (s *Server) adoptPeer(peer *peerConn) {
	s.mu.Lock()
	old := s.peer
	s.peer = peer
	s.mu.Unlock()

	if old != nil {
		s.log.Info().Str("device", old.name).Msg("Replacing existing device connection")
		old.shutdown()
	}
}

// dropPeer cleans up after a connection ends. Transfers riding on it cannot
// finish, so they all fail; partial downloads are discarded.
func (s *Server) dropPeer(peer *peerConn, remoteAddr string) {
	peer.shutdown()

	s.mu.Lock()
	if s.peer != peer {
		// Already replaced by a newer handshake; the replacement owns the
		// session state now.
		s.mu.Unlock()
		return
	}
	s.peer = nil
	partials := s.incoming
	s.incoming = make(map[string]*incomingFile)
	s.mu.Unlock()

	for id, in := range partials {
		in.discard()
		s.log.Debug().Str("id", id).Msg("Discarded partial download")
	}

	s.manager.StopAllTransfers(reasonLinkLost)
	s.log.Info().Str("device", peer.name).Msg("Device disconnected")
	s.publishLink(events.EventLinkDisconnected, remoteAddr, peer.name)
}

// readLoop pulls frames off the connection and dispatches them until the
// connection dies.
func (s *Server) readLoop(peer *peerConn) {
	conn := peer.conn
	conn.SetReadLimit(2*constants.MaxChunkSize + 4096)
	_ = conn.SetReadDeadline(time.Now().Add(constants.PongTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(constants.PongTimeout))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := Decode(frame)
		if err != nil {
			s.log.Warn().Err(err).Msg("Bad frame from device")
			continue
		}
		s.dispatch(peer, env)
	}
}

func (s *Server) dispatch(peer *peerConn, env Envelope) {
	switch env.Type {
	case TypeTransferStart:
		var p TransferStartPayload
		if err := DecodePayload(env, &p); err != nil {
			s.log.Warn().Err(err).Msg("Bad transfer.start")
			return
		}
		s.handleTransferStart(p)

	case TypeTransferChunk:
		var p TransferChunkPayload
		if err := DecodePayload(env, &p); err != nil {
			s.log.Warn().Err(err).Msg("Bad transfer.chunk")
			return
		}
		s.handleTransferChunk(peer, p)

	case TypeTransferProgress:
		var p TransferProgressPayload
		if err := DecodePayload(env, &p); err != nil {
			return
		}
		s.manager.UpdateOutgoingProgress(p.ID, p.Bytes)

	case TypeTransferComplete:
		var p TransferCompletePayload
		if err := DecodePayload(env, &p); err != nil {
			s.log.Warn().Err(err).Msg("Bad transfer.complete")
			return
		}
		s.handleTransferComplete(peer, p)

	case TypeTransferFail:
		var p TransferFailPayload
		if err := DecodePayload(env, &p); err != nil {
			return
		}
		s.discardIncoming(p.ID)
		s.manager.FailTransfer(p.ID, p.Reason)

	case TypeTransferCancel:
		var p TransferCancelPayload
		if err := DecodePayload(env, &p); err != nil {
			return
		}
		// Remote-initiated: fail locally, never answer with a cancel of our
		// own.
		s.discardIncoming(p.ID)
		s.manager.StopTransferRemote(p.ID)

	case TypeStatusUpdate:
		var p StatusUpdatePayload
		if err := DecodePayload(env, &p); err != nil {
			return
		}
		s.mu.Lock()
		sink := s.status
		s.mu.Unlock()
		if sink != nil {
			sink.UpdateStatus(p.DeviceName, p.Battery, p.Charging)
		}

	case TypeMediaCommand:
		// Commands flow desktop-to-device; one arriving here is logged and
		// dropped, key synthesis on the desktop is out of scope.
		s.log.Debug().Msg("Ignoring media.command from device")

	default:
		s.log.Debug().Str("type", env.Type).Msg("Unknown frame type")
	}
}

func (s *Server) handleTransferStart(p TransferStartPayload) {
	name, err := safeFileName(p.Name)
	if err != nil {
		s.log.Warn().Err(err).Str("id", p.ID).Msg("Rejecting transfer")
		s.sendFail(p.ID, "Invalid file name")
		return
	}

	if err := os.MkdirAll(s.cfg.DownloadDir, 0o755); err != nil {
		s.log.Error().Err(err).Msg("Cannot create download folder")
		s.sendFail(p.ID, "Download folder unavailable")
		return
	}

	path := uniquePath(filepath.Join(s.cfg.DownloadDir, name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("Cannot create file")
		s.sendFail(p.ID, "Cannot create file")
		return
	}

	s.mu.Lock()
	if old, ok := s.incoming[p.ID]; ok {
		old.discard()
	}
	s.incoming[p.ID] = &incomingFile{path: path, file: f, hash: sha256.New()}
	s.mu.Unlock()

	s.manager.StartIncoming(p.ID, name, p.Size, p.MIME)
	s.log.Info().Str("id", p.ID).Str("name", name).Int64("size", p.Size).Msg("Receiving file")
}

func (s *Server) handleTransferChunk(peer *peerConn, p TransferChunkPayload) {
	s.mu.Lock()
	in, ok := s.incoming[p.ID]
	s.mu.Unlock()
	if !ok {
		// Chunk for a transfer we no longer track (cancelled, failed, or
		// never started). Silence matches the manager's unknown-id policy.
		return
	}

	if _, err := in.file.Write(p.Data); err != nil {
		s.log.Error().Err(err).Str("id", p.ID).Msg("Write failed")
		s.discardIncoming(p.ID)
		s.manager.FailTransfer(p.ID, "Disk write failed")
		s.sendFail(p.ID, "Disk write failed")
		return
	}
	in.hash.Write(p.Data)
	in.written += int64(len(p.Data))

	s.manager.UpdateIncomingProgress(p.ID, in.written)

	if frame, err := Encode(TypeTransferProgress, TransferProgressPayload{ID: p.ID, Bytes: in.written}); err == nil {
		peer.enqueue(frame)
	}
}

func (s *Server) handleTransferComplete(peer *peerConn, p TransferCompletePayload) {
	s.mu.Lock()
	in, hasIncoming := s.incoming[p.ID]
	if hasIncoming {
		delete(s.incoming, p.ID)
	}
	s.mu.Unlock()

	if !hasIncoming {
		// No file being written: this is the receiver's acknowledgement of a
		// transfer we sent.
		s.manager.CompleteOutgoing(p.ID, parseVerification(p.Verified))
		return
	}

	if err := in.file.Close(); err != nil {
		s.log.Error().Err(err).Str("id", p.ID).Msg("Close failed")
		s.manager.FailTransfer(p.ID, "Disk write failed")
		s.sendFail(p.ID, "Disk write failed")
		return
	}

	verified := transfer.VerificationUnknown
	wire := VerifiedUnknown
	if p.SHA256 != "" {
		digest := hex.EncodeToString(in.hash.Sum(nil))
		if strings.EqualFold(digest, p.SHA256) {
			verified = transfer.VerificationPassed
			wire = VerifiedPassed
		} else {
			verified = transfer.VerificationFailed
			wire = VerifiedFailed
			s.log.Warn().Str("id", p.ID).Msg("Checksum mismatch on received file")
		}
	}

	s.manager.CompleteIncoming(p.ID, verified)
	s.log.Info().Str("id", p.ID).Str("path", in.path).Msg("File received")

	if frame, err := Encode(TypeTransferComplete, TransferCompletePayload{ID: p.ID, Verified: wire}); err == nil {
		peer.enqueue(frame)
	}
}

// NotifyCancel sends one transfer.cancel frame to the device. Best effort:
// no peer or a full queue just means the device finds out when the
// connection state catches up.
func (s *Server) NotifyCancel(id string) {
	frame, err := Encode(TypeTransferCancel, TransferCancelPayload{ID: id})
	if err != nil {
		return
	}
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer != nil {
		peer.enqueue(frame)
	}
}

// Send encodes and queues an arbitrary frame for the connected device.
// Satisfies the media command Sender.
func (s *Server) Send(msgType string, payload interface{}) error {
	frame, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return ErrNoPeer
	}
	if !peer.enqueue(frame) {
		return fmt.Errorf("send %s: %w", msgType, ErrNoPeer)
	}
	return nil
}

// Connected reports whether a device is currently paired in.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer != nil
}

func (s *Server) sendFail(id, reason string) {
	frame, err := Encode(TypeTransferFail, TransferFailPayload{ID: id, Reason: reason})
	if err != nil {
		return
	}
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer != nil {
		peer.enqueue(frame)
	}
}

func (s *Server) discardIncoming(id string) {
	s.mu.Lock()
	in, ok := s.incoming[id]
	if ok {
		delete(s.incoming, id)
	}
	s.mu.Unlock()
	if ok {
		in.discard()
	}
}

func (s *Server) publishLink(eventType events.EventType, remoteAddr, deviceName string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.LinkEvent{
		BaseEvent:  events.BaseEvent{EventType: eventType, Time: time.Now()},
		RemoteAddr: remoteAddr,
		DeviceName: deviceName,
	})
}

// discard closes and removes the partial file.
func (in *incomingFile) discard() {
	in.file.Close()
	os.Remove(in.path)
}

// safeFileName reduces a peer-supplied name to a bare file name. Anything
// that could escape the download folder is rejected.
func safeFileName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("unusable file name %q", name)
	}
	return base, nil
}

// uniquePath appends a numeric suffix until the path does not exist, so a
// second "photo.jpg" lands as "photo (1).jpg".
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func parseVerification(wire string) transfer.Verification {
	switch wire {
	case VerifiedPassed:
		return transfer.VerificationPassed
	case VerifiedFailed:
		return transfer.VerificationFailed
	default:
		return transfer.VerificationUnknown
	}
}

func hostName() string {
	name, err := os.Hostname()
	if err != nil {
		return "desktop"
	}
	return name
}
