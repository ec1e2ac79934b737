// Package transport dials peer groups over TCP and speaks the
// peer-to-peer wire protocol: version handshake, getheaders requests
// and headers responses. Everything beyond header sync is ignored; a
// peer that sends something this client cannot parse is dropped and
// the supervisor's stall detection takes it from there.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/peers"
	"github.com/dashpay/spvsync/internal/supervisor"
	"github.com/dashpay/spvsync/libs/log"
	"github.com/dashpay/spvsync/types"
)

const (
	dialTimeout      = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

var _ supervisor.Transport = (*Transport)(nil)

// Transport connects peer groups on a single network.
type Transport struct {
	logger log.Logger
	magic  wire.BitcoinNet
	pver   uint32
}

// New returns a transport for the given network parameters.
func New(logger log.Logger, net *config.Network) *Transport {
	return &Transport{
		logger: logger,
		magic:  wire.BitcoinNet(net.Magic),
		pver:   net.ProtocolVersion,
	}
}

// Connect dials every address of the group and completes the version
// handshake. At least one peer must come up for the session to be
// usable; peers that fail to connect are logged and skipped.
func (t *Transport) Connect(ctx context.Context, group peers.Group) (supervisor.PeerSession, error) {
	s := &session{
		logger:    t.logger.With("group", group.Index),
		magic:     t.magic,
		pver:      t.pver,
		headersCh: make(chan []*types.BlockHeader),
		quit:      make(chan struct{}),
	}

	for _, addr := range group.Addresses {
		p, err := t.dialPeer(ctx, addr)
		if err != nil {
			t.logger.Info("peer unreachable", "addr", addr, "err", err)
			continue
		}
		s.peers = append(s.peers, p)
	}
	if len(s.peers) == 0 {
		return nil, fmt.Errorf("no peers of group %d reachable", group.Index)
	}

	for _, p := range s.peers {
		s.wg.Add(1)
		go s.readLoop(p)
	}
	go func() {
		s.wg.Wait()
		close(s.headersCh)
	}()
	return s, nil
}

func (t *Transport) dialPeer(ctx context.Context, addr string) (*peer, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := t.handshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	t.logger.Debug("peer connected", "addr", addr)
	return &peer{addr: addr, conn: conn}, nil
}

// handshake exchanges version and verack messages in either order.
func (t *Transport) handshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})

	nonce, err := wire.RandomUint64()
	if err != nil {
		return err
	}
	me := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
	you := remoteNetAddress(conn)
	version := wire.NewMsgVersion(me, you, nonce, 0)
	version.ProtocolVersion = int32(t.pver)

	if err := wire.WriteMessage(conn, version, t.pver, t.magic); err != nil {
		return err
	}

	gotVersion, gotVerack := false, false
	for !gotVersion || !gotVerack {
		msg, _, err := wire.ReadMessage(conn, t.pver, t.magic)
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *wire.MsgVersion:
			gotVersion = true
			if err := wire.WriteMessage(conn, wire.NewMsgVerAck(), t.pver, t.magic); err != nil {
				return err
			}
		case *wire.MsgVerAck:
			gotVerack = true
		}
	}
	return nil
}

func remoteNetAddress(conn net.Conn) *wire.NetAddress {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return wire.NewNetAddressIPPort(tcp.IP, uint16(tcp.Port), 0)
	}
	return wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
}

type peer struct {
	addr string
	conn net.Conn

	mtx  sync.Mutex
	dead bool
}

func (p *peer) markDead() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if !p.dead {
		p.dead = true
		p.conn.Close()
	}
}

func (p *peer) isDead() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.dead
}

// session is one connected peer group. Header requests go to a single
// peer at a time, rotated round-robin over the live peers, so a group
// never produces duplicate responses for one locator.
type session struct {
	logger log.Logger
	magic  wire.BitcoinNet
	pver   uint32

	mtx   sync.Mutex
	peers []*peer
	next  int

	headersCh chan []*types.BlockHeader
	wg        sync.WaitGroup
	closeOnce sync.Once
	quit      chan struct{}
}

func (s *session) SendGetHeaders(ctx context.Context, locator []chainhash.Hash, stopHash chainhash.Hash) error {
	msg := wire.NewMsgGetHeaders()
	msg.ProtocolVersion = s.pver
	msg.HashStop = stopHash
	for i := range locator {
		if err := msg.AddBlockLocatorHash(&locator[i]); err != nil {
			return err
		}
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	tried := 0
	for tried < len(s.peers) {
		p := s.peers[s.next%len(s.peers)]
		s.next++
		tried++
		if p.isDead() {
			continue
		}
		if err := wire.WriteMessage(p.conn, msg, s.pver, s.magic); err != nil {
			s.logger.Info("failed to write to peer", "addr", p.addr, "err", err)
			p.markDead()
			continue
		}
		return nil
	}
	return errors.New("no live peers in session")
}

func (s *session) Headers() <-chan []*types.BlockHeader {
	return s.headersCh
}

func (s *session) PeerCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for _, p := range s.peers {
		if !p.isDead() {
			n++
		}
	}
	return n
}

// Close drops every connection and waits for the read loops to exit, so
// the caller can open the next session with no requests still in flight.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.mtx.Lock()
		for _, p := range s.peers {
			p.markDead()
		}
		s.mtx.Unlock()
	})
	s.wg.Wait()
	return nil
}

func (s *session) readLoop(p *peer) {
	defer s.wg.Done()
	defer p.markDead()

	for {
		msg, _, err := wire.ReadMessage(p.conn, s.pver, s.magic)
		if err != nil {
			select {
			case <-s.quit:
			default:
				s.logger.Info("peer read failed", "addr", p.addr, "err", err)
			}
			return
		}

		switch m := msg.(type) {
		case *wire.MsgHeaders:
			select {
			case s.headersCh <- convertHeaders(m.Headers):
			case <-s.quit:
				return
			}
		case *wire.MsgPing:
			if err := wire.WriteMessage(p.conn, wire.NewMsgPong(m.Nonce), s.pver, s.magic); err != nil {
				return
			}
		default:
			// Inventory, address gossip and the rest of the protocol
			// are irrelevant to header sync.
		}
	}
}

func convertHeaders(in []*wire.BlockHeader) []*types.BlockHeader {
	out := make([]*types.BlockHeader, len(in))
	for i, h := range in {
		out[i] = &types.BlockHeader{
			Version:    h.Version,
			PrevHash:   h.PrevBlock,
			MerkleRoot: h.MerkleRoot,
			Timestamp:  uint32(h.Timestamp.Unix()),
			Bits:       h.Bits,
			Nonce:      h.Nonce,
		}
	}
	return out
}
