package serialport

import (
	"io"

	"github.com/tarm/serial"
)

// Port is an open OS serial handle.
//
// Read must return within the configured read timeout. A timeout is reported
// either as (0, nil) or as (0, io.EOF).
type Port interface {
	io.ReadWriteCloser
}

// OpenFunc acquires the OS handle described by cfg.
type OpenFunc func(cfg *Config) (Port, error)

func openTarmPort(cfg *Config) (Port, error) {
	sc := &serial.Config{
		Name:        cfg.Name(),
		Baud:        cfg.BaudRate(),
		ReadTimeout: cfg.ReadTimeout(),
		Size:        byte(cfg.DataBits()),
		Parity:      serial.Parity(cfg.Parity()),
		StopBits:    serial.StopBits(cfg.StopBits()),
	}

	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, err
	}

	return p, nil
}
