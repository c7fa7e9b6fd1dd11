/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prismnet/tunnel/conn"
	"github.com/prismnet/tunnel/ipc"
)

// IPCError is a UAPI response code: the classic WireGuard control protocol
// reports failures as a trailing "errno=N" line rather than a Go error.
type IPCError struct {
	code int64
}

func (s *IPCError) Error() string   { return fmt.Sprintf("IPC error: %d", s.code) }
func (s *IPCError) ErrorCode() int64 { return s.code }

func ipcError(code int64) *IPCError { return &IPCError{code: code} }

// IpcGetOperation serializes device and peer state in the UAPI "get" format:
// one key=value pair per line, keys hex-encoded where they are key material.
func (device *Device) IpcGetOperation(w *bufio.Writer) error {
	lines := make([]string, 0, 64)
	send := func(line string) { lines = append(lines, line) }

	func() {
		device.net.RLock()
		defer device.net.RUnlock()
		device.staticIdentity.RLock()
		defer device.staticIdentity.RUnlock()
		device.peers.RLock()
		defer device.peers.RUnlock()

		if !device.staticIdentity.privateKey.IsZero() {
			send("private_key=" + device.staticIdentity.privateKey.ToHex())
		}
		if device.net.port != 0 {
			send(fmt.Sprintf("listen_port=%d", device.net.port))
		}
		if device.net.fwmark != 0 {
			send(fmt.Sprintf("fwmark=%d", device.net.fwmark))
		}

		for _, peer := range device.peers.keyMap {
			peer.RLock()

			send("public_key=" + peer.handshake.remoteStatic.ToHex())
			send("preshared_key=" + peer.handshake.presharedKey.ToHex())
			send("protocol_version=1")
			if peer.hasEndpoint {
				send("endpoint=" + peer.endpoint.String())
			}

			nano := atomic.LoadInt64(&peer.stats.lastHandshakeNano)
			secs := nano / int64(time.Second)
			nsecs := nano % int64(time.Second)
			send(fmt.Sprintf("last_handshake_time_sec=%d", secs))
			send(fmt.Sprintf("last_handshake_time_nsec=%d", nsecs))
			send(fmt.Sprintf("tx_bytes=%d", atomic.LoadUint64(&peer.stats.txBytes)))
			send(fmt.Sprintf("rx_bytes=%d", atomic.LoadUint64(&peer.stats.rxBytes)))
			send(fmt.Sprintf("persistent_keepalive_interval=%d", peer.PersistentKeepaliveInterval()))

			for _, prefix := range device.router.AllowedIPs(peer) {
				send("allowed_ip=" + prefix.String())
			}

			peer.RUnlock()
		}
	}()

	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return ipcError(ipc.IpcErrorIO)
		}
	}
	return nil
}

// IpcSetOperation applies the UAPI "set" format: device keys first, then
// repeated public_key= blocks each configuring one peer.
func (device *Device) IpcSetOperation(r *bufio.Reader) error {
	scanner := bufio.NewScanner(r)

	var peer *Peer
	dummy := false
	createdNewPeer := false
	deviceConfig := true

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			return nil
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return ipcError(ipc.IpcErrorProtocol)
		}
		key, value := parts[0], parts[1]

		if deviceConfig {
			switch key {
			case "private_key":
				var sk NoisePrivateKey
				if err := sk.FromMaybeZeroHex(value); err != nil {
					device.log.Errorf("UAPI: failed to set private_key: %v", err)
					return ipcError(ipc.IpcErrorInvalid)
				}
				device.log.Debug("UAPI: updating private key")
				if err := device.SetPrivateKey(sk); err != nil {
					device.log.Errorf("UAPI: failed to set private_key: %v", err)
					return ipcError(ipc.IpcErrorInvalid)
				}

			case "listen_port":
				port, err := strconv.ParseUint(value, 10, 16)
				if err != nil {
					device.log.Errorf("UAPI: failed to parse listen_port: %v", err)
					return ipcError(ipc.IpcErrorInvalid)
				}
				device.log.Debug("UAPI: updating listen port")
				device.net.Lock()
				device.net.port = uint16(port)
				device.net.Unlock()
				if err := device.BindUpdate(); err != nil {
					device.log.Errorf("UAPI: failed to set listen_port: %v", err)
					return ipcError(ipc.IpcErrorPortInUse)
				}

			case "fwmark":
				var mark uint64
				var err error
				if value != "" {
					mark, err = strconv.ParseUint(value, 10, 32)
					if err != nil {
						device.log.Errorf("UAPI: invalid fwmark: %v", err)
						return ipcError(ipc.IpcErrorInvalid)
					}
				}
				device.log.Debug("UAPI: updating fwmark")
				if err := device.BindSetMark(uint32(mark)); err != nil {
					device.log.Errorf("UAPI: failed to update fwmark: %v", err)
					return ipcError(ipc.IpcErrorPortInUse)
				}

			case "public_key":
				device.log.Debug("UAPI: transition to peer configuration")
				deviceConfig = false

			case "replace_peers":
				if value != "true" {
					device.log.Errorf("UAPI: invalid value for replace_peers: %s", value)
					return ipcError(ipc.IpcErrorInvalid)
				}
				device.log.Debug("UAPI: removing all peers")
				device.RemoveAllPeers()

			default:
				device.log.Errorf("UAPI: invalid device key: %s", key)
				return ipcError(ipc.IpcErrorInvalid)
			}
		}

		if !deviceConfig {
			switch key {
			case "public_key":
				var publicKey NoisePublicKey
				if err := publicKey.FromHex(value); err != nil {
					device.log.Errorf("UAPI: failed to parse public_key: %v", err)
					return ipcError(ipc.IpcErrorInvalid)
				}

				device.staticIdentity.RLock()
				dummy = device.staticIdentity.publicKey.Equals(publicKey)
				device.staticIdentity.RUnlock()

				if dummy {
					peer = &Peer{}
				} else {
					peer = device.LookupPeer(publicKey)
				}

				createdNewPeer = peer == nil
				if createdNewPeer {
					var err error
					peer, err = device.NewPeer(publicKey)
					if err != nil {
						device.log.Errorf("UAPI: failed to create peer: %v", err)
						return ipcError(ipc.IpcErrorInvalid)
					}
					device.log.Debugf("%s - UAPI: created", peer)
				}

			case "update_only":
				if value != "true" {
					device.log.Errorf("UAPI: invalid value for update_only: %s", value)
					return ipcError(ipc.IpcErrorInvalid)
				}
				if createdNewPeer && !dummy {
					device.RemovePeer(peer.handshake.remoteStatic)
					peer = &Peer{}
					dummy = true
				}

			case "remove":
				if value != "true" {
					device.log.Errorf("UAPI: invalid value for remove: %s", value)
					return ipcError(ipc.IpcErrorInvalid)
				}
				if !dummy {
					device.log.Debugf("%s - UAPI: removing", peer)
					device.RemovePeer(peer.handshake.remoteStatic)
				}
				peer = &Peer{}
				dummy = true

			case "preshared_key":
				device.log.Debugf("%s - UAPI: updating preshared key", peer)
				peer.handshake.mutex.Lock()
				err := peer.handshake.presharedKey.FromHex(value)
				peer.handshake.mutex.Unlock()
				if err != nil {
					device.log.Errorf("UAPI: failed to set preshared_key: %v", err)
					return ipcError(ipc.IpcErrorInvalid)
				}

			case "endpoint":
				device.log.Debugf("%s - UAPI: updating endpoint", peer)
				endpoint, err := parseEndpointString(value)
				if err != nil {
					device.log.Errorf("UAPI: failed to set endpoint %q: %v", value, err)
					return ipcError(ipc.IpcErrorInvalid)
				}
				peer.Lock()
				peer.endpoint = endpoint
				peer.hasEndpoint = true
				peer.Unlock()

			case "persistent_keepalive_interval":
				device.log.Debugf("%s - UAPI: updating persistent keepalive interval", peer)
				secs, err := strconv.ParseUint(value, 10, 16)
				if err != nil {
					device.log.Errorf("UAPI: failed to set persistent_keepalive_interval: %v", err)
					return ipcError(ipc.IpcErrorInvalid)
				}
				old := peer.PersistentKeepaliveInterval()
				peer.SetPersistentKeepaliveInterval(uint32(secs))
				if old == 0 && secs != 0 && device.isUp.Load() && !dummy {
					if err := device.SendKeepalive(peer); err != nil {
						device.log.Debugf("%s - UAPI: failed to send immediate keepalive: %v", peer, err)
					}
				}

			case "replace_allowed_ips":
				device.log.Debugf("%s - UAPI: removing all allowed ips", peer)
				if value != "true" {
					device.log.Errorf("UAPI: invalid value for replace_allowed_ips: %s", value)
					return ipcError(ipc.IpcErrorInvalid)
				}
				if dummy {
					continue
				}
				device.router.RemoveByPeer(peer)

			case "allowed_ip":
				device.log.Debugf("%s - UAPI: adding allowed ip", peer)
				prefix, err := netip.ParsePrefix(value)
				if err != nil {
					device.log.Errorf("UAPI: failed to parse allowed_ip %q: %v", value, err)
					return ipcError(ipc.IpcErrorInvalid)
				}
				if dummy {
					continue
				}
				device.router.Insert(prefix.Masked(), peer)

			case "protocol_version":
				if value != "1" {
					device.log.Errorf("UAPI: invalid protocol_version: %s", value)
					return ipcError(ipc.IpcErrorInvalid)
				}

			default:
				device.log.Errorf("UAPI: invalid peer key: %s", key)
				return ipcError(ipc.IpcErrorInvalid)
			}
		}
	}

	return nil
}

func parseEndpointString(s string) (conn.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return conn.Endpoint{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return conn.Endpoint{}, err
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return conn.Endpoint{}, err
		}
		if len(ips) == 0 {
			return conn.Endpoint{}, fmt.Errorf("no addresses found for %q", host)
		}
		addr, err = netip.ParseAddr(ips[0].String())
		if err != nil {
			return conn.Endpoint{}, err
		}
	}

	return conn.NewEndpoint(netip.AddrPortFrom(addr, uint16(port))), nil
}

// IpcHandle services one UAPI control-socket connection end to end: it reads
// the requested operation, runs it, and writes back the errno trailer.
func (device *Device) IpcHandle(socket net.Conn) {
	defer socket.Close()

	reader := bufio.NewReader(socket)
	writer := bufio.NewWriter(socket)
	defer writer.Flush()

	op, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	var status *IPCError

	switch op {
	case "set=1\n":
		if err := device.IpcSetOperation(reader); err != nil {
			var ipcErr *IPCError
			if e, ok := err.(*IPCError); ok {
				ipcErr = e
			} else {
				device.log.Errorf("UAPI: unexpected set error: %v", err)
				ipcErr = ipcError(ipc.IpcErrorInvalid)
			}
			status = ipcErr
		}

	case "get=1\n":
		if err := device.IpcGetOperation(writer); err != nil {
			var ipcErr *IPCError
			if e, ok := err.(*IPCError); ok {
				ipcErr = e
			} else {
				device.log.Errorf("UAPI: unexpected get error: %v", err)
				ipcErr = ipcError(ipc.IpcErrorInvalid)
			}
			status = ipcErr
		}

	default:
		device.log.Errorf("UAPI: invalid operation: %q", op)
		return
	}

	if status != nil {
		device.log.Errorf("UAPI: %v", status)
		fmt.Fprintf(writer, "errno=%d\n\n", status.ErrorCode())
	} else {
		fmt.Fprintf(writer, "errno=0\n\n")
	}
}
