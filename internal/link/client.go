package link

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskpair/deskpair/internal/constants"
	"github.com/deskpair/deskpair/internal/transfer"
)

// ErrTransferCancelled is returned by SendFile when either side cancels the
// transfer before it finishes.
var ErrTransferCancelled = errors.New("transfer cancelled")

// wireResult is what the read loop hands back to a waiting SendFile.
type wireResult struct {
	verified  string
	failed    bool
	reason    string
	cancelled bool
}

// Client dials a running link server and pushes files to it. One transfer at
// a time; the CLI's send command is the only consumer.
type Client struct {
	conn     *websocket.Conn
	manager  *transfer.Manager
	peerName string

	writeMu sync.Mutex

	mu      sync.Mutex
	waiters map[string]chan wireResult
	readErr error
	done    chan struct{}
}

// Dial connects to the server at url (ws://host:port/link), performs the
// pairing handshake, and starts the read loop.
func Dial(ctx context.Context, url, token, deviceName string, manager *transfer.Manager) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	hello, err := Encode(TypePairHello, HelloPayload{Token: token, DeviceName: deviceName})
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(constants.WriteTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pairing rejected: %w", err)
	}
	env, err := Decode(frame)
	if err != nil || env.Type != TypePairOK {
		conn.Close()
		return nil, fmt.Errorf("pairing rejected: unexpected reply %q", env.Type)
	}
	var ok PairOKPayload
	_ = DecodePayload(env, &ok)

	c := &Client{
		conn:     conn,
		manager:  manager,
		peerName: ok.DeviceName,
		waiters:  make(map[string]chan wireResult),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// PeerName returns the device name reported in the pairing handshake.
func (c *Client) PeerName() string {
	return c.peerName
}

// Close tears down the connection.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// SendFile transfers the file at path, driving the session through the
// manager so observers see progress. Returns the verification outcome the
// receiver reported.
func (c *Client) SendFile(ctx context.Context, path string, chunkSize int) (transfer.Verification, error) {
	if chunkSize <= 0 || chunkSize > constants.MaxChunkSize {
		chunkSize = constants.DefaultChunkSize
	}

	f, err := os.Open(path)
	if err != nil {
		return transfer.VerificationUnknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return transfer.VerificationUnknown, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return transfer.VerificationUnknown, fmt.Errorf("%s is a directory", path)
	}

	id := transfer.GenerateID()
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))

	result := make(chan wireResult, 1)
	c.mu.Lock()
	c.waiters[id] = result
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	c.manager.StartOutgoing(id, name, info.Size(), mimeType, chunkSize)

	if err := c.writeFrame(TypeTransferStart, TransferStartPayload{
		ID: id, Name: name, Size: info.Size(), MIME: mimeType,
	}); err != nil {
		c.manager.FailTransfer(id, "Connection lost")
		return transfer.VerificationUnknown, err
	}

	digest := sha256.New()
	buf := make([]byte, chunkSize)
	var sent int64
	seq := 0

	for {
		select {
		case <-ctx.Done():
			c.abort(id, "Cancelled by user")
			return transfer.VerificationUnknown, ctx.Err()
		case res := <-result:
			// The receiver spoke before we finished: cancel or failure.
			return transfer.VerificationUnknown, c.settle(id, res)
		default:
		}

		n, err := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			if werr := c.writeFrame(TypeTransferChunk, TransferChunkPayload{
				ID: id, Seq: seq, Data: buf[:n],
			}); werr != nil {
				c.manager.FailTransfer(id, "Connection lost")
				return transfer.VerificationUnknown, werr
			}
			sent += int64(n)
			seq++
			c.manager.UpdateOutgoingProgress(id, sent)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			c.abort(id, "Read failed")
			return transfer.VerificationUnknown, fmt.Errorf("read %s: %w", path, err)
		}
	}

	sum := hex.EncodeToString(digest.Sum(nil))
	if err := c.writeFrame(TypeTransferComplete, TransferCompletePayload{ID: id, SHA256: sum}); err != nil {
		c.manager.FailTransfer(id, "Connection lost")
		return transfer.VerificationUnknown, err
	}

	select {
	case <-ctx.Done():
		c.abort(id, "Cancelled by user")
		return transfer.VerificationUnknown, ctx.Err()
	case res := <-result:
		if res.failed || res.cancelled {
			return transfer.VerificationUnknown, c.settle(id, res)
		}
		verified := parseVerification(res.verified)
		c.manager.CompleteOutgoing(id, verified)
		return verified, nil
	case <-c.done:
		c.manager.FailTransfer(id, "Connection lost")
		return transfer.VerificationUnknown, c.readError()
	}
}

// settle folds a premature wire result into manager state and an error.
func (c *Client) settle(id string, res wireResult) error {
	if res.cancelled {
		// Read loop already failed the session via StopTransferRemote.
		return ErrTransferCancelled
	}
	c.manager.FailTransfer(id, res.reason)
	return fmt.Errorf("receiver reported: %s", res.reason)
}

// abort fails the session locally and tells the peer, best effort.
func (c *Client) abort(id, reason string) {
	c.manager.FailTransfer(id, reason)
	_ = c.writeFrame(TypeTransferFail, TransferFailPayload{ID: id, Reason: reason})
}

func (c *Client) writeFrame(msgType string, payload interface{}) error {
	frame, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

func (c *Client) readError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return errors.New("connection closed")
}

// readLoop processes server frames: progress echoes, completion acks,
// failures, and remote cancellation.
func (c *Client) readLoop() {
	defer close(c.done)
	c.conn.SetReadLimit(2*constants.MaxChunkSize + 4096)

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(constants.PongTimeout))
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = fmt.Errorf("connection lost: %w", err)
			c.mu.Unlock()
			return
		}
		env, err := Decode(frame)
		if err != nil {
			continue
		}

		switch env.Type {
		case TypeTransferProgress:
			var p TransferProgressPayload
			if DecodePayload(env, &p) == nil {
				c.manager.UpdateOutgoingProgress(p.ID, p.Bytes)
			}

		case TypeTransferComplete:
			var p TransferCompletePayload
			if DecodePayload(env, &p) != nil {
				continue
			}
			if !c.deliver(p.ID, wireResult{verified: p.Verified}) {
				c.manager.CompleteOutgoing(p.ID, parseVerification(p.Verified))
			}

		case TypeTransferFail:
			var p TransferFailPayload
			if DecodePayload(env, &p) != nil {
				continue
			}
			if !c.deliver(p.ID, wireResult{failed: true, reason: p.Reason}) {
				c.manager.FailTransfer(p.ID, p.Reason)
			}

		case TypeTransferCancel:
			var p TransferCancelPayload
			if DecodePayload(env, &p) != nil {
				continue
			}
			c.manager.StopTransferRemote(p.ID)
			c.deliver(p.ID, wireResult{cancelled: true})
		}
	}
}

// deliver hands a result to the SendFile waiting on id, if any.
func (c *Client) deliver(id string, res wireResult) bool {
	c.mu.Lock()
	waiter, ok := c.waiters[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case waiter <- res:
	default:
	}
	return true
}
