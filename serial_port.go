package smp

import (
	"fmt"
	"time"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	serial "github.com/daedaluz/goserial"
)

// fionread is the Linux ioctl request number for "how many bytes are
// queued for reading", used by drainPending in the serial transport.
const fionread = uintptr(0x541B)

// baudRates maps common baud rates to the fixed termios speed constants
// goserial exposes. Rates absent from this table (e.g. a bootloader
// using a non-standard 460800-adjacent rate) fall back to BOTHER/
// SetCustomSpeed.
var baudRates = map[uint32]serial.CFlag{
	50:      serial.B50,
	75:      serial.B75,
	110:     serial.B110,
	134:     serial.B134,
	150:     serial.B150,
	200:     serial.B200,
	300:     serial.B300,
	600:     serial.B600,
	1200:    serial.B1200,
	1800:    serial.B1800,
	2400:    serial.B2400,
	4800:    serial.B4800,
	9600:    serial.B9600,
	19200:   serial.B19200,
	38400:   serial.B38400,
	57600:   serial.B57600,
	115200:  serial.B115200,
	230400:  serial.B230400,
	460800:  serial.B460800,
	921600:  serial.B921600,
	1000000: serial.B1000000,
	2000000: serial.B2000000,
}

// SerialPort is a thin, byte-oriented binding over a real serial device,
// built on github.com/daedaluz/goserial. It is the only file in this
// module that reaches into termios details; §4.2 treats the concrete
// port as an external collaborator, so everything else in the package
// only depends on the small serialPort interface in transport_serial.go.
type SerialPort struct {
	port *serial.Port
}

// OpenSerialPort opens device, switches it to raw mode, and configures
// baud and the initial read timeout.
func OpenSerialPort(device string, baud uint32, readTimeout time.Duration) (*SerialPort, error) {
	opts := serial.NewOptions().SetReadTimeout(readTimeout)
	port, err := serial.Open(device, opts)
	if err != nil {
		return nil, fmt.Errorf("smp: open serial port %s: %w", device, err)
	}

	if err := configureSerialPort(port, baud); err != nil {
		_ = port.Close()
		return nil, err
	}

	return &SerialPort{port: port}, nil
}

func configureSerialPort(port *serial.Port, baud uint32) error {
	attrs, err := port.GetAttr2()
	if err != nil {
		return fmt.Errorf("smp: get termios attributes: %w", err)
	}

	attrs.MakeRaw()
	if cflag, ok := baudRates[baud]; ok {
		attrs.SetSpeed(cflag)
	} else {
		attrs.SetCustomSpeed(baud)
	}

	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		return fmt.Errorf("smp: set termios attributes: %w", err)
	}
	return nil
}

func (s *SerialPort) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialPort) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialPort) Close() error                { return s.port.Close() }

func (s *SerialPort) SetReadTimeout(d time.Duration) {
	s.port.SetReadTimeout(d)
}

// BytesToRead reports how many bytes are currently queued for reading,
// used to implement the "drain any pending input" step of §4.4.
func (s *SerialPort) BytesToRead() (int, error) {
	var n int32
	if err := ioctl.Ioctl(uintptr(s.port.Fd()), fionread, uintptr(unsafe.Pointer(&n))); err != nil {
		return 0, fmt.Errorf("smp: FIONREAD: %w", err)
	}
	return int(n), nil
}
