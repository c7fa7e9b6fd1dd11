/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"time"
)

/* Specification constants */

const (
	RekeyAfterMessages      = (1 << 60)
	RejectAfterMessages     = (1 << 64) - (1 << 13) - 1
	RekeyAfterTime          = time.Second * 120
	RekeyAfterTimeReceiving = RekeyAfterTime + time.Second*20
	RekeyAttemptTime        = time.Second * 90
	RekeyTimeout            = time.Second * 5
	MaxTimerHandshakes      = 90 / 5 /* RekeyAttemptTime / RekeyTimeout */
	RekeyTimeoutJitterMaxMs = 334
	RejectAfterTime         = time.Second * 180
	KeepaliveTimeout        = time.Second * 10
	CookieRefreshTime       = time.Second * 120
	HandshakeInitiationRate = time.Second / 50
	PaddingMultiple         = 16
)

const (
	MessageTransportHeaderSize = 16
	MessageTransportOverhead   = 16 // poly1305.TagSize
	MessageTransportSize       = MessageTransportHeaderSize + MessageTransportOverhead
	MinMessageSize             = MessageTransportSize // minimum size of a transport message (keepalive)
	MaxSegmentSize             = (1 << 16) - 1         // largest possible UDP datagram
	MaxMessageSize             = MaxSegmentSize        // maximum size of transport message
	MaxContentSize             = MaxSegmentSize - MessageTransportSize
)

/* Implementation constants */

const (
	UnderLoadAfterTime = time.Second // how long the device remains under load once flagged
	MaxPeers           = 1 << 16     // maximum number of configured peers
	HandshakeQueueSize = 1024
	InboundQueueSize   = 1024
	OutboundQueueSize  = 1024
	HandshakeWorkers   = 2
	ThresholdUnderLoad = HandshakeQueueSize / 8
)
