/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prismnet/tunnel/conn"
	"github.com/prismnet/tunnel/device"
	"github.com/prismnet/tunnel/flags"
	"github.com/prismnet/tunnel/ipc"
	"github.com/prismnet/tunnel/tun"
	"github.com/prismnet/tunnel/wgcfg"
)

const (
	exitSetupSuccess = 0
	exitSetupFailed  = 1
)

const envTunFD = "TUNNEL_TUN_FD"

func logLevelFromString(s string) int {
	switch s {
	case "debug":
		return device.LogLevelDebug
	case "info":
		return device.LogLevelInfo
	case "error":
		return device.LogLevelError
	case "silent":
		return device.LogLevelSilent
	default:
		return device.LogLevelInfo
	}
}

// openTUN wraps the file descriptor an external collaborator created for
// this interface. Creating the interface itself (the netlink/ioctl dance,
// or the platform driver equivalent) is out of this module's scope; a
// wrapper script or container runtime is expected to exec this binary with
// TUNNEL_TUN_FD already set to an open, IFF_NO_PI TUN descriptor.
func openTUN(name string, mtu int) (tun.Device, error) {
	fdStr := os.Getenv(envTunFD)
	if fdStr == "" {
		return nil, fmt.Errorf("%s is not set; this binary does not create TUN interfaces itself", envTunFD)
	}
	fd, err := strconv.ParseUint(fdStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", envTunFD, err)
	}
	file := os.NewFile(uintptr(fd), name)
	return tun.NewFileTUN(file, name, mtu), nil
}

// applyConfigFile parses a wg-quick style configuration and pushes it into
// the running device over the same UAPI code path a control-socket client
// would use, so the file and the socket are always kept in sync by one set
// of semantics.
func applyConfigFile(dev *device.Device, path, ifaceName string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := wgcfg.FromWgQuick(string(contents), ifaceName)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	uapiText, err := cfg.ToUAPI()
	if err != nil {
		return fmt.Errorf("converting %s to device configuration: %w", path, err)
	}
	return dev.IpcSetOperation(bufio.NewReader(strings.NewReader(uapiText)))
}

func main() {
	opts := flags.NewOptions()
	if err := flags.Parse(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSetupFailed)
	}

	if opts.ShowVersion {
		fmt.Printf("tunnel daemon\nUserspace encrypted tunnel data plane.\n")
		return
	}

	logger := device.NewLogger(logLevelFromString(opts.LogLevel), fmt.Sprintf("(%s) ", opts.InterfaceName))
	logger.Info("Starting tunnel daemon")

	tunDevice, err := openTUN(opts.InterfaceName, opts.MTU)
	if err != nil {
		logger.Errorf("Failed to open TUN device: %v", err)
		os.Exit(exitSetupFailed)
	}

	bind := conn.NewNativeBind()
	dev, err := device.NewDevice(tunDevice, bind, logger)
	if err != nil {
		logger.Errorf("Failed to create device: %v", err)
		os.Exit(exitSetupFailed)
	}

	if opts.ConfigFile != "" {
		if err := applyConfigFile(dev, opts.ConfigFile, opts.InterfaceName); err != nil {
			logger.Errorf("Failed to apply configuration file: %v", err)
			dev.Close()
			os.Exit(exitSetupFailed)
		}
		logger.Infof("Applied configuration from %s", opts.ConfigFile)
	}

	uapiFile, err := ipc.UAPIOpen(opts.InterfaceName)
	if err != nil {
		logger.Errorf("Failed to open UAPI socket: %v", err)
		dev.Close()
		os.Exit(exitSetupFailed)
	}

	uapiListener, err := net.FileListener(uapiFile)
	if err != nil {
		logger.Errorf("Failed to listen on UAPI socket: %v", err)
		dev.Close()
		os.Exit(exitSetupFailed)
	}

	errs := make(chan error, 1)
	go func() {
		for {
			c, err := uapiListener.Accept()
			if err != nil {
				errs <- err
				return
			}
			go dev.IpcHandle(c)
		}
	}()
	logger.Info("UAPI listener started")

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, os.Interrupt)

	select {
	case <-term:
	case <-errs:
	case <-dev.Wait():
	}

	uapiListener.Close()
	dev.Close()
	logger.Info("Shutting down")
	os.Exit(exitSetupSuccess)
}
