/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prismnet/tunnel/conn"
	"github.com/prismnet/tunnel/tun"
)

// Device owns one tunnel interface: its static identity, its configured
// peers, its UDP bind, and the worker goroutines that move packets between
// the TUN device and the network.
type Device struct {
	isUp     atomic.Bool
	isClosed atomic.Bool
	log      Logger

	staticIdentity struct {
		sync.RWMutex
		privateKey NoisePrivateKey
		publicKey  NoisePublicKey
	}

	net struct {
		sync.RWMutex
		bind   conn.Bind
		port   uint16
		fwmark uint32
	}

	peers struct {
		sync.RWMutex
		keyMap map[NoisePublicKey]*Peer
	}

	router        Router
	indexTable    IndexTable
	cookieChecker CookieChecker
	rate          Ratelimiter

	underLoad       atomic.Bool
	underLoadUntil  atomic.Int64 // UnixNano; valid only while underLoad is true or was recently true

	tunDevice tun.Device
	mtu       atomic.Int32

	handshakeQueue chan HandshakeJob
	stop           chan struct{}
	wg             sync.WaitGroup

	bindGeneration atomic.Uint32
}

const DefaultMTU = 1420

func NewDevice(tunDevice tun.Device, bind conn.Bind, logger Logger) (*Device, error) {
	device := &Device{}
	device.log = logger
	device.tunDevice = tunDevice
	device.peers.keyMap = make(map[NoisePublicKey]*Peer)
	device.indexTable.Init()
	device.router.Reset()
	device.rate.Init()
	device.handshakeQueue = make(chan HandshakeJob, HandshakeQueueSize)
	device.stop = make(chan struct{})

	mtu, err := tunDevice.MTU()
	if err != nil {
		logger.Errorf("could not determine MTU, assuming default: %v", err)
		mtu = DefaultMTU
	}
	device.mtu.Store(int32(mtu))

	device.net.bind = bind
	fns, port, err := bind.Open(0)
	if err != nil {
		return nil, err
	}
	device.net.port = port
	generation := device.bindGeneration.Add(1)

	for i := 0; i < HandshakeWorkers; i++ {
		device.wg.Add(1)
		go device.RoutineHandshakeWorker(i)
	}

	device.wg.Add(1)
	go device.RoutineTUNWorker()

	for _, fn := range fns {
		device.wg.Add(1)
		go device.RoutineUDPWorker(fn, generation)
	}

	device.wg.Add(1)
	go device.RoutineEventWorker()

	device.isUp.Store(true)
	return device, nil
}

func (device *Device) LookupPeer(pk NoisePublicKey) *Peer {
	device.peers.RLock()
	defer device.peers.RUnlock()
	return device.peers.keyMap[pk]
}

func (device *Device) RemovePeer(pk NoisePublicKey) {
	device.peers.Lock()
	defer device.peers.Unlock()

	peer, ok := device.peers.keyMap[pk]
	if !ok {
		return
	}
	device.router.RemoveByPeer(peer)
	peer.timers.stopAll()
	peer.ZeroAndFlushAll()
	delete(device.peers.keyMap, pk)
}

func (device *Device) RemoveAllPeers() {
	device.peers.Lock()
	defer device.peers.Unlock()
	for pk, peer := range device.peers.keyMap {
		device.router.RemoveByPeer(peer)
		peer.timers.stopAll()
		peer.ZeroAndFlushAll()
		delete(device.peers.keyMap, pk)
	}
}

func (device *Device) SetPrivateKey(sk NoisePrivateKey) error {
	device.staticIdentity.Lock()
	defer device.staticIdentity.Unlock()

	if sk.Equals(device.staticIdentity.privateKey) {
		return nil
	}

	publicKey := sk.publicKey()
	device.staticIdentity.privateKey = sk
	device.staticIdentity.publicKey = publicKey
	device.cookieChecker.Init(publicKey)

	device.peers.Lock()
	defer device.peers.Unlock()
	for _, peer := range device.peers.keyMap {
		peer.handshake.mutex.Lock()
		peer.handshake.precomputedStaticStatic = sk.sharedSecret(peer.handshake.remoteStatic)
		peer.handshake.mutex.Unlock()
	}
	return nil
}

func (device *Device) PublicKey() NoisePublicKey {
	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()
	return device.staticIdentity.publicKey
}

func (device *Device) Port() uint16 {
	device.net.RLock()
	defer device.net.RUnlock()
	return device.net.port
}

func (device *Device) BindSetMark(mark uint32) error {
	device.net.Lock()
	defer device.net.Unlock()
	if device.net.fwmark == mark {
		return nil
	}
	device.net.fwmark = mark
	if device.net.bind != nil {
		if err := device.net.bind.SetMark(mark); err != nil {
			return err
		}
	}
	return nil
}

// BindUpdate closes the current UDP bind and reopens it at net.port,
// spawning fresh UDP workers for the new sockets. Existing UDP workers see
// their bind generation go stale and exit instead of spinning on a closed
// socket's receive error.
func (device *Device) BindUpdate() error {
	device.net.Lock()
	defer device.net.Unlock()

	if device.net.bind != nil {
		device.net.bind.Close()
	}

	generation := device.bindGeneration.Add(1)

	bind := device.net.bind
	if bind == nil {
		return errors.New("no bind configured")
	}

	fns, port, err := bind.Open(device.net.port)
	if err != nil {
		device.net.port = 0
		return err
	}
	device.net.port = port

	if device.net.fwmark != 0 {
		if err := bind.SetMark(device.net.fwmark); err != nil {
			return err
		}
	}

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.Lock()
		if peer.hasEndpoint {
			peer.endpoint.ClearSrc()
		}
		peer.Unlock()
	}
	device.peers.RUnlock()

	for _, fn := range fns {
		device.wg.Add(1)
		go device.RoutineUDPWorker(fn, generation)
	}
	return nil
}

// IsUnderLoad reports whether the device should demand a cookie round-trip
// before doing expensive handshake processing, and updates the
// "recently under load" deadline if the handshake queue is currently deep.
func (device *Device) IsUnderLoad() bool {
	now := time.Now()
	if len(device.handshakeQueue) >= ThresholdUnderLoad {
		device.underLoad.Store(true)
		device.underLoadUntil.Store(now.Add(UnderLoadAfterTime).UnixNano())
		return true
	}
	until := device.underLoadUntil.Load()
	if until != 0 && now.UnixNano() < until {
		return true
	}
	device.underLoad.Store(false)
	return false
}

func (device *Device) Close() {
	if device.isClosed.Swap(true) {
		return
	}
	device.log.Info("Device closing")

	close(device.stop)
	device.net.Lock()
	if device.net.bind != nil {
		device.net.bind.Close()
	}
	device.net.Unlock()
	device.tunDevice.Close()

	device.RemoveAllPeers()
	device.rate.Close()

	device.wg.Wait()
	device.log.Info("Interface closed")
}

func (device *Device) Wait() <-chan struct{} {
	return device.stop
}

var errDeviceClosed = errors.New("device closed")
