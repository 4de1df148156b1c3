// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

const notificationQueue = 256

// BLE is a connected crank. Raw-data notifications and control point
// indications are copied out of the adapter callbacks into channels.
type BLE struct {
	dev     bluetooth.Device
	control *bluetooth.DeviceCharacteristic

	data        chan []byte
	indications chan []byte

	mu     sync.Mutex
	closed bool
}

// OpenBLE scans for the crank by name or address, connects, and subscribes to
// the raw-data characteristic. The control point is optional.
func OpenBLE(ctx context.Context, o Options) (*BLE, error) {
	svcUUID, err := bluetooth.ParseUUID(o.BLEService)
	if err != nil {
		return nil, fmt.Errorf("ble: service uuid: %w", err)
	}
	rawUUID, err := bluetooth.ParseUUID(o.BLERawData)
	if err != nil {
		return nil, fmt.Errorf("ble: raw data uuid: %w", err)
	}
	want := []bluetooth.UUID{rawUUID}
	var cpUUID bluetooth.UUID
	if o.BLEControlPoint != "" {
		if cpUUID, err = bluetooth.ParseUUID(o.BLEControlPoint); err != nil {
			return nil, fmt.Errorf("ble: control point uuid: %w", err)
		}
		want = append(want, cpUUID)
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !matches(r, o.BLEName, o.BLEAddress) {
				return
			}
			select {
			case found <- r:
			default:
			}
			a.StopScan()
		})
		if err != nil {
			log.Printf("ble: scan: %v", err)
		}
	}()

	timeout := o.BLEConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case <-time.After(timeout):
		adapter.StopScan()
		return nil, fmt.Errorf("ble: no device matching name %q address %q after %s", o.BLEName, o.BLEAddress, timeout)
	case <-ctx.Done():
		adapter.StopScan()
		return nil, ctx.Err()
	}
	log.Printf("ble: found %s [%s], connecting", result.LocalName(), result.Address.String())

	dev, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble: connect: %w", err)
	}
	b := &BLE{
		dev:         dev,
		data:        make(chan []byte, notificationQueue),
		indications: make(chan []byte, 16),
	}

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(svcs) == 0 {
		dev.Disconnect()
		return nil, fmt.Errorf("ble: discover service %s: %v", svcUUID, err)
	}
	chars, err := svcs[0].DiscoverCharacteristics(want)
	if err != nil {
		dev.Disconnect()
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}

	var haveRaw bool
	for i := range chars {
		c := chars[i]
		switch c.UUID() {
		case rawUUID:
			if err := c.EnableNotifications(b.push(b.data)); err != nil {
				dev.Disconnect()
				return nil, fmt.Errorf("ble: enable raw data notifications: %w", err)
			}
			haveRaw = true
		case cpUUID:
			if err := c.EnableNotifications(b.push(b.indications)); err != nil {
				log.Printf("ble: control point indications unavailable: %v", err)
				continue
			}
			b.control = &c
		}
	}
	if !haveRaw {
		dev.Disconnect()
		return nil, errors.New("ble: raw data characteristic not found")
	}
	log.Printf("ble: subscribed to raw data (control point: %v)", b.control != nil)
	return b, nil
}

func matches(r bluetooth.ScanResult, name, addr string) bool {
	if addr != "" && !strings.EqualFold(r.Address.String(), addr) {
		return false
	}
	if name != "" && r.LocalName() != name {
		return false
	}
	return name != "" || addr != ""
}

// push copies each callback buffer, since the adapter reuses it, and drops
// it if the consumer has fallen behind.
func (b *BLE) push(ch chan []byte) func([]byte) {
	return func(buf []byte) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		select {
		case ch <- append([]byte(nil), buf...):
		default:
			log.Printf("ble: consumer behind, dropped %d bytes", len(buf))
		}
	}
}

func (b *BLE) Next(ctx context.Context) ([]byte, error) {
	select {
	case buf, ok := <-b.data:
		if !ok {
			return nil, io.EOF
		}
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *BLE) WriteControl(req []byte) error {
	if b.control == nil {
		return ErrNoControlPoint
	}
	_, err := b.control.WriteWithoutResponse(req)
	return err
}

func (b *BLE) Indications() <-chan []byte { return b.indications }

func (b *BLE) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.data)
	close(b.indications)
	b.mu.Unlock()
	return b.dev.Disconnect()
}
