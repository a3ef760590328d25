package smp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// serviceUUID/characteristicUUID are the fixed SMP-over-BLE GATT
// identifiers from §4.5.
var (
	serviceUUID        = mustParseUUID("8D53DC1D-1DB7-4CD3-868B-8A527460AA84")
	characteristicUUID = mustParseUUID("DA2E7828-FBCE-4E01-AE9E-261174997C48")
)

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BluetoothSpecs configures a BLE transport, per §3.
type BluetoothSpecs struct {
	DeviceIDOrName string
	MTU            int
	ChrcMTU        int
	Timeout        time.Duration
}

func (BluetoothSpecs) isTransportSpecs() {}

// BLETransport implements Transport over a BLE GATT characteristic that
// supports write-without-response and notify, per §4.5. There is no
// framing layer beyond the SMP header's own length field.
type BLETransport struct {
	cfg BluetoothSpecs

	adapter *bluetooth.Adapter
	device  bluetooth.Device
	chrc    bluetooth.DeviceCharacteristic

	timeout time.Duration

	notifications chan []byte
}

var _ Transport = (*BLETransport)(nil)

// NewBLETransport scans for, connects to, and subscribes to the SMP
// characteristic of the peripheral matching specs.DeviceIDOrName (by
// stable platform id or by advertised local name, per §4.5).
func NewBLETransport(specs BluetoothSpecs) (*BLETransport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("smp: enable ble adapter: %w", err)
	}

	t := &BLETransport{
		cfg:           specs,
		adapter:       adapter,
		timeout:       specs.Timeout,
		notifications: make(chan []byte, 16),
	}

	addr, err := t.findPeripheral(specs.DeviceIDOrName)
	if err != nil {
		return nil, err
	}

	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("smp: connect ble peripheral: %w", err)
	}
	t.device = device

	if err := t.discoverCharacteristic(); err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	if err := t.subscribe(); err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	t.drainNotifications()

	return t, nil
}

func (t *BLETransport) findPeripheral(idOrName string) (bluetooth.Address, error) {
	scanTimeout := t.cfg.Timeout
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Second
	}

	found := make(chan bluetooth.Address, 1)
	err := t.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		slog.Debug("smp: ble scan result", "address", result.Address.String(), "name", result.LocalName())

		idMatch := result.Address.String() == idOrName
		nameMatch := idOrName != "" && result.LocalName() == idOrName
		if !idMatch && !nameMatch {
			return
		}

		select {
		case found <- result.Address:
		default:
		}
		_ = a.StopScan()
	})
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("smp: ble scan: %w", err)
	}

	select {
	case addr := <-found:
		return addr, nil
	case <-time.After(scanTimeout):
		_ = t.adapter.StopScan()
		return bluetooth.Address{}, fmt.Errorf("smp: ble peripheral %q not found", idOrName)
	}
}

func (t *BLETransport) discoverCharacteristic() error {
	services, err := t.device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return fmt.Errorf("smp: discover ble service: %w", err)
	}
	if len(services) == 0 {
		return errors.New("smp: smp ble service not found")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{characteristicUUID})
	if err != nil {
		return fmt.Errorf("smp: discover ble characteristic: %w", err)
	}
	if len(chars) == 0 {
		return errors.New("smp: smp ble characteristic not found")
	}

	t.chrc = chars[0]
	return nil
}

func (t *BLETransport) subscribe() error {
	return t.chrc.EnableNotifications(func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		select {
		case t.notifications <- cp:
		default:
			slog.Warn("smp: ble notification buffer full, dropping")
		}
	})
}

// drainNotifications discards any notifications delivered before the
// first request, per §4.5's "drain any pre-existing notifications"
// step, bounded to ~100ms of polling.
func (t *BLETransport) drainNotifications() {
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case <-t.notifications:
		case <-deadline:
			return
		}
	}
}

// Close disconnects from the peripheral. The notification stream must
// not outlive the characteristic handle it depends on; disconnecting
// tears the GATT client down, which ends the subscription before the
// characteristic value goes out of scope. Notifications are not
// disabled by a separate call.
func (t *BLETransport) Close() error {
	if err := t.device.Disconnect(); err != nil {
		return fmt.Errorf("smp: disconnect ble device: %w", err)
	}
	return nil
}

// MTU implements Transport: it returns the configured frame-length
// limit unchanged, per §4.5 (no base64 adjustment on BLE).
func (t *BLETransport) MTU() int {
	return t.cfg.MTU
}

func (t *BLETransport) SetTimeout(d time.Duration) {
	t.timeout = d
}

// TransceiveRaw implements Transport: it chunks frame to chrc_mtu-sized
// write-without-response calls, then reassembles the response from
// notifications using the SMP header's len field as the sole
// reassembly signal (§4.5).
func (t *BLETransport) TransceiveRaw(frame []byte) ([]byte, error) {
	if len(frame) > t.cfg.MTU {
		return nil, &TooLargeChunkError{Reduce: len(frame) - t.cfg.MTU}
	}

	for pos := 0; pos < len(frame); pos += t.cfg.ChrcMTU {
		end := min(pos+t.cfg.ChrcMTU, len(frame))
		if _, err := t.chrc.WriteWithoutResponse(frame[pos:end]); err != nil {
			return nil, fmt.Errorf("smp: ble write: %w", err)
		}
	}

	return t.readResponse()
}

func (t *BLETransport) readResponse() ([]byte, error) {
	var buf []byte
	payloadLen := -1

	for payloadLen < 0 || len(buf) < headerLen+payloadLen {
		select {
		case chunk := <-t.notifications:
			buf = append(buf, chunk...)
			if payloadLen < 0 && len(buf) >= headerLen {
				payloadLen = int(binary.BigEndian.Uint16(buf[2:4]))
			}
		case <-time.After(t.timeout):
			return nil, ErrTimeout
		}
	}

	return buf, nil
}

// BtScan calls print with the id and advertised local name of each
// unique advertiser seen, per §4.5's bt_scan helper. It scans until stop
// is closed; the scan ends at the first advertisement report received
// after that.
func BtScan(stop <-chan struct{}, print func(id, name string)) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("smp: enable ble adapter: %w", err)
	}

	seen := map[string]struct{}{}
	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		select {
		case <-stop:
			_ = a.StopScan()
			return
		default:
		}

		id := result.Address.String()
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		print(id, result.LocalName())
	})
	if err != nil {
		return fmt.Errorf("smp: ble scan: %w", err)
	}
	return nil
}
