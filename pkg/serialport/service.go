// Package serialport opens the optical meter interface.
package serialport

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
)

// The IR read heads sold for SML meters run at 9600 baud, 8N1.
const DefaultBaudrate = 9600

// Candidate device patterns, most specific first.
var portPatterns = []string{
	"/dev/serial/by-id/*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyAMA*",
	"/dev/ttyS*",
	"/dev/cu.usbserial*",
	"/dev/tty.usbserial*",
}

// Open the connection to the meter. Closing the returned port unblocks a
// pending Read.
func Open(port string, baudrate uint) (io.ReadWriteCloser, error) {
	if baudrate == 0 {
		baudrate = DefaultBaudrate
	}
	options := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baudrate,
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	}

	rwc, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	logrus.WithFields(logrus.Fields{
		"component": "serialport",
		"port":      port,
		"baudrate":  baudrate,
	}).Info("Connected to meter")
	return rwc, nil
}

// ListPorts returns the serial devices present on this machine.
func ListPorts() ([]string, error) {
	return listPorts(portPatterns)
}

func listPorts(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				ports = append(ports, m)
			}
		}
	}
	return ports, nil
}
