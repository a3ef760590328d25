package smp

import "strings"

// TransportSpecs marks the configuration types a caller can hand to
// NewTransport: SerialSpecs or BluetoothSpecs, per §3.
type TransportSpecs interface {
	isTransportSpecs()
}

// NewTransport dispatches on the concrete type of specs and opens the
// corresponding transport, with device as the serial device path or the
// BLE id/name. As a convenience, a device string prefixed "bt:" is
// routed to a BLE transport for the remainder of the string, whatever
// the type of specs (its fields are kept when it is a BluetoothSpecs,
// zero values are used otherwise), so callers that accept a single
// device string from a user don't need to parse it themselves, per §7.
func NewTransport(device string, specs TransportSpecs) (Transport, error) {
	if strings.HasPrefix(device, "bt:") {
		bspecs, ok := specs.(BluetoothSpecs)
		if !ok {
			bspecs = BluetoothSpecs{}
		}
		bspecs.DeviceIDOrName = strings.TrimPrefix(device, "bt:")
		return NewBLETransport(bspecs)
	}

	switch s := specs.(type) {
	case SerialSpecs:
		s.Device = device
		return NewSerialTransport(s)
	case BluetoothSpecs:
		s.DeviceIDOrName = device
		return NewBLETransport(s)
	default:
		return nil, &unsupportedTransportSpecsError{}
	}
}

type unsupportedTransportSpecsError struct{}

func (e *unsupportedTransportSpecsError) Error() string {
	return "smp: unsupported transport specs type"
}
