/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/prismnet/tunnel/conn"
	"github.com/prismnet/tunnel/tun"
)

var errNoSession = errors.New("no current session with peer")
var errDeviceDown = errors.New("device is down (mtu is 0)")

// RoutineTUNWorker reads plaintext packets off the TUN device, encrypts
// each under its destination peer's current session, and sends it out the
// UDP bind. A peer with no live session gets a handshake requested instead
// and the packet is dropped — the handshake worker will establish one.
func (device *Device) RoutineTUNWorker() {
	defer device.wg.Done()
	device.log.Debug("Routine: TUN worker - started")

	buf := make([]byte, MaxMessageSize)
	for {
		select {
		case <-device.stop:
			device.log.Debug("Routine: TUN worker - stopped")
			return
		default:
		}

		if device.mtu.Load() == 0 {
			continue
		}

		n, err := device.tunDevice.Read(buf, MessageTransportHeaderSize)
		if err != nil {
			if device.isClosed.Load() {
				return
			}
			device.log.Errorf("failed to read packet from TUN device: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		packet := buf[MessageTransportHeaderSize : MessageTransportHeaderSize+n]

		dst, ok := packetDestination(packet)
		if !ok {
			continue
		}
		peer := device.router.Lookup(dst)
		if peer == nil {
			continue
		}

		if err := device.encryptAndSend(peer, packet); err != nil {
			switch err {
			case errNoSession:
				peer.timers.requestHandshake()
			case errDeviceDown:
			default:
				device.log.Errorf("%s - failed to send packet: %v", peer, err)
			}
		}
	}
}

func packetDestination(packet []byte) (netip.Addr, bool) {
	switch {
	case len(packet) >= 20 && packet[0]>>4 == ipv4.Version:
		addr, ok := netip.AddrFromSlice(packet[16:20])
		return addr, ok
	case len(packet) >= 40 && packet[0]>>4 == ipv6.Version:
		addr, ok := netip.AddrFromSlice(packet[24:40])
		return addr, ok
	default:
		return netip.Addr{}, false
	}
}

func (device *Device) encryptAndSend(peer *Peer, plaintext []byte) error {
	keypair := peer.keypairs.Current()
	if keypair == nil {
		return errNoSession
	}

	nonce := atomic.AddUint64(&keypair.sendNonce, 1) - 1
	if nonce >= RejectAfterMessages {
		return errNoSession
	}

	mtu := int(device.mtu.Load())
	if mtu == 0 {
		return errDeviceDown
	}
	paddedSize := paddedLen(len(plaintext), mtu)
	padded := make([]byte, paddedSize)
	copy(padded, plaintext)

	out := make([]byte, MessageTransportHeaderSize, MessageTransportHeaderSize+len(padded)+chacha20poly1305.Overhead)
	binary.LittleEndian.PutUint32(out[0:4], MessageTransportType)
	binary.LittleEndian.PutUint32(out[MessageTransportOffsetReceiver:MessageTransportOffsetCounter], keypair.remoteIndex)
	binary.LittleEndian.PutUint64(out[MessageTransportOffsetCounter:MessageTransportOffsetContent], nonce)

	var nonceBuf [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonceBuf[4:], nonce)

	aead := keypair.send.get()
	if aead == nil {
		return errNoSession
	}
	out = aead.Seal(out, nonceBuf[:], padded, nil)

	if err := peer.SendBuffer(out); err != nil {
		return err
	}
	peer.timers.dataSent()
	peer.timers.anyAuthenticatedPacketTraversal()
	return nil
}

// RoutineUDPWorker reads datagrams from one address family's socket,
// demultiplexes them by wire message type, and either decrypts a transport
// message straight through to the TUN device or enqueues a handshake-class
// message for the handshake workers.
func (device *Device) RoutineUDPWorker(receive conn.ReceiveFunc, generation uint32) {
	defer device.wg.Done()
	device.log.Debug("Routine: UDP worker - started")

	buf := make([]byte, MaxMessageSize)
	for {
		select {
		case <-device.stop:
			device.log.Debug("Routine: UDP worker - stopped")
			return
		default:
		}

		n, endpoint, err := receive(buf)
		if err != nil {
			if device.isClosed.Load() {
				return
			}
			if device.bindGeneration.Load() != generation {
				device.log.Debug("Routine: UDP worker - stopped (bind replaced)")
				return
			}
			continue
		}
		if n < 4 {
			continue
		}
		if device.mtu.Load() == 0 {
			continue
		}
		packet := append([]byte(nil), buf[:n]...)

		switch messageType(packet) {
		case MessageInitiationType, MessageResponseType, MessageCookieReplyType:
			select {
			case device.handshakeQueue <- NewHandshakeMessageJob(packet, endpoint):
			default:
				device.log.Debug("Dropping handshake packet: queue full")
			}
		case MessageTransportType:
			device.receiveTransport(packet, endpoint)
		}
	}
}

func (device *Device) receiveTransport(packet []byte, endpoint conn.Endpoint) {
	if len(packet) < MessageTransportSize {
		return
	}
	receiverIndex := binary.LittleEndian.Uint32(packet[MessageTransportOffsetReceiver:MessageTransportOffsetCounter])
	counter := binary.LittleEndian.Uint64(packet[MessageTransportOffsetCounter:MessageTransportOffsetContent])

	entry := device.indexTable.Lookup(receiverIndex)
	keypair := entry.keyPair
	if keypair == nil {
		return
	}
	peer := entry.peer
	if peer == nil {
		return
	}

	recv := keypair.receive.get()
	if recv == nil {
		return
	}

	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)

	content, err := recv.Open(nil, nonce[:], packet[MessageTransportOffsetContent:], nil)
	if err != nil {
		return
	}

	if !keypair.replayFilter.ValidateCounter(counter) {
		return
	}

	// The first transport message under a staged next keypair confirms it.
	kp := &peer.keypairs
	kp.mutex.Lock()
	if kp.next == keypair {
		if kp.previous != nil {
			device.DeleteKeyPair(kp.previous)
		}
		kp.previous = kp.current
		kp.current = keypair
		kp.next = nil
	}
	kp.mutex.Unlock()

	peer.SetEndpointFromPacket(endpoint)
	peer.timers.anyAuthenticatedPacketReceived()
	peer.timers.anyAuthenticatedPacketTraversal()
	atomic.AddUint64(&peer.stats.rxBytes, uint64(len(content)))

	if len(content) == 0 {
		// keepalive: authenticates the session but carries nothing onward
		peer.timers.dataReceived()
		return
	}

	src, ok := packetSource(content)
	if !ok || device.router.Lookup(src) != peer {
		device.log.Debug("Dropping packet: source address not allowed for peer")
		return
	}

	// Trim the sender's padding back to the length the IP header declares.
	var length int
	if content[0]>>4 == ipv4.Version {
		length = int(binary.BigEndian.Uint16(content[2:4]))
	} else {
		length = ipv6.HeaderLen + int(binary.BigEndian.Uint16(content[4:6]))
	}
	if length > len(content) {
		return
	}
	content = content[:length]

	peer.timers.dataReceived()
	if _, err := device.tunDevice.Write(content, 0); err != nil {
		device.log.Errorf("failed to write packet to TUN device: %v", err)
	}
}

func packetSource(packet []byte) (netip.Addr, bool) {
	switch {
	case len(packet) >= 20 && packet[0]>>4 == ipv4.Version:
		addr, ok := netip.AddrFromSlice(packet[12:16])
		return addr, ok
	case len(packet) >= 40 && packet[0]>>4 == ipv6.Version:
		addr, ok := netip.AddrFromSlice(packet[8:24])
		return addr, ok
	default:
		return netip.Addr{}, false
	}
}

// RoutineHandshakeWorker drains handshake jobs: authenticating and
// responding to inbound handshake-class messages, or creating and sending
// a fresh initiation when asked to begin one.
func (device *Device) RoutineHandshakeWorker(id int) {
	defer device.wg.Done()
	device.log.Debugf("Routine: handshake worker %d - started", id)

	for {
		select {
		case <-device.stop:
			device.log.Debugf("Routine: handshake worker %d - stopped", id)
			return
		case job := <-device.handshakeQueue:
			if job.isNew {
				device.beginHandshake(job.peer)
			} else {
				device.processHandshakeMessage(job.message, job.endpoint)
			}
		}
	}
}

func (device *Device) beginHandshake(peer *Peer) {
	msg, err := device.CreateMessageInitiation(peer)
	if err != nil {
		device.log.Errorf("%s - failed to create handshake initiation: %v", peer, err)
		return
	}
	packet := marshal(msg)
	peer.cookieGenerator.AddMACs(packet)

	if err := peer.SendBuffer(packet); err != nil {
		device.log.Errorf("%s - failed to send handshake initiation: %v", peer, err)
		return
	}
	peer.timers.handshakeInitiated()
}

func (device *Device) processHandshakeMessage(packet []byte, endpoint conn.Endpoint) {
	underLoad := device.IsUnderLoad()

	switch messageType(packet) {
	case MessageInitiationType:
		if len(packet) != MessageInitiationSize {
			return
		}
		if !device.cookieChecker.CheckMAC1(packet) {
			return
		}
		if underLoad {
			if !device.cookieChecker.CheckMAC2(packet, endpoint) {
				device.sendCookieReply(packet, endpoint)
				return
			}
			if !device.rate.Allow(endpoint.Addr().Addr()) {
				return
			}
		}

		var msg MessageInitiation
		if err := unmarshal(packet, &msg); err != nil {
			return
		}
		peer := device.ConsumeMessageInitiation(&msg)
		if peer == nil {
			return
		}

		peer.SetEndpointFromPacket(endpoint)
		peer.timers.anyAuthenticatedPacketReceived()

		response, err := device.CreateMessageResponse(peer)
		if err != nil {
			device.log.Errorf("%s - failed to create handshake response: %v", peer, err)
			return
		}
		responseBytes := marshal(response)
		peer.cookieGenerator.AddMACs(responseBytes)

		if _, err := peer.BeginSymmetricSession(); err != nil {
			device.log.Errorf("%s - failed to begin session: %v", peer, err)
			return
		}
		peer.timers.handshakeComplete()

		if err := peer.SendBuffer(responseBytes); err != nil {
			device.log.Errorf("%s - failed to send handshake response: %v", peer, err)
		}

	case MessageResponseType:
		if len(packet) != MessageResponseSize {
			return
		}
		if !device.cookieChecker.CheckMAC1(packet) {
			return
		}
		if underLoad && !device.cookieChecker.CheckMAC2(packet, endpoint) {
			device.sendCookieReply(packet, endpoint)
			return
		}

		var msg MessageResponse
		if err := unmarshal(packet, &msg); err != nil {
			return
		}
		peer := device.ConsumeMessageResponse(&msg)
		if peer == nil {
			return
		}

		peer.SetEndpointFromPacket(endpoint)
		peer.timers.anyAuthenticatedPacketReceived()

		if _, err := peer.BeginSymmetricSession(); err != nil {
			device.log.Errorf("%s - failed to begin session: %v", peer, err)
			return
		}
		peer.timers.handshakeComplete()
		peer.timers.anyAuthenticatedPacketTraversal()

		// A zero-length transport message confirms the session to the
		// responder without waiting for real traffic.
		if err := device.SendKeepalive(peer); err != nil {
			device.log.Debugf("%s - failed to send session confirmation: %v", peer, err)
		}

	case MessageCookieReplyType:
		if len(packet) != MessageCookieReplySize {
			return
		}
		var msg MessageCookieReply
		if err := unmarshal(packet, &msg); err != nil {
			return
		}
		entry := device.indexTable.Lookup(msg.Receiver)
		if entry.peer == nil {
			return
		}
		entry.peer.cookieGenerator.ConsumeReply(&msg)
	}
}

func (device *Device) sendCookieReply(packet []byte, endpoint conn.Endpoint) {
	var receiver uint32
	if len(packet) >= 8 {
		receiver = binary.LittleEndian.Uint32(packet[4:8])
	}
	reply, err := device.cookieChecker.CreateReply(packet, receiver, endpoint)
	if err != nil {
		device.log.Errorf("failed to create cookie reply: %v", err)
		return
	}
	device.net.RLock()
	bind := device.net.bind
	device.net.RUnlock()
	if bind == nil {
		return
	}
	if err := bind.Send(marshal(reply), endpoint); err != nil {
		device.log.Errorf("failed to send cookie reply: %v", err)
	}
}

// SendKeepalive transmits an authenticated empty transport message to peer.
func (device *Device) SendKeepalive(peer *Peer) error {
	return device.encryptAndSend(peer, nil)
}

// RoutineEventWorker reacts to TUN device events such as MTU changes.
func (device *Device) RoutineEventWorker() {
	defer device.wg.Done()
	device.log.Debug("Routine: event worker - started")

	for {
		select {
		case <-device.stop:
			device.log.Debug("Routine: event worker - stopped")
			return
		case event, ok := <-device.tunDevice.Events():
			if !ok {
				return
			}
			if event&tun.EventMTUUpdate != 0 {
				mtu, err := device.tunDevice.MTU()
				if err != nil {
					device.log.Errorf("failed to load updated MTU: %v", err)
					continue
				}
				device.mtu.Store(int32(mtu))
			}
		}
	}
}
