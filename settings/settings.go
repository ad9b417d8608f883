// Package settings loads the bridge settings file.
//
// Two formats are supported, chosen by file extension: INI (the default) and
// YAML (.yaml, .yml). An INI file has the sections
//
//	[remote]    url, connectname, password, datatype, encryption, usewebsocket,
//	            logdirectory, devicename, charset, network* (one key per network)
//	[serial]    serport, parity, baudrate, numbits, stopbits
//	[status]    listen
//	[log]       level, console
//
// Section and key names are case-insensitive; [WebifiConnectionDetails] and
// [SerialPortSettings] are accepted as aliases of [remote] and [serial].
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/remote"
	"github.com/arloliu/go-serialbridge/serialport"
	"github.com/arloliu/go-serialbridge/textcodec"
)

// DefaultPath is the settings file used when none is given.
const DefaultPath = "settings.ini"

// DefaultRemoteURL is used when the settings do not name a service URL.
const DefaultRemoteURL = "ws://127.0.0.1:8080"

// ErrNotFound is returned by Load when the settings file does not exist.
var ErrNotFound = errors.New("settings: file not found")

// Settings is the content of a settings file.
type Settings struct {
	Remote Remote `yaml:"remote"`
	Serial Serial `yaml:"serial"`
	Status Status `yaml:"status"`
	Log    Log    `yaml:"log"`

	path string
}

// Remote holds the remote service settings.
type Remote struct {
	URL          string   `yaml:"url"`
	ConnectName  string   `yaml:"connectname"`
	Password     string   `yaml:"password"`
	DataType     string   `yaml:"datatype"`
	Encryption   bool     `yaml:"encryption"`
	UseWebSocket bool     `yaml:"usewebsocket"`
	LogDirectory string   `yaml:"logdirectory"`
	Networks     []string `yaml:"networks"`
	DeviceName   string   `yaml:"devicename"`
	Charset      string   `yaml:"charset"`
}

// Serial holds the serial line settings as raw codes; see Settings.SerialConfig.
type Serial struct {
	Port     string `yaml:"serport"`
	Parity   string `yaml:"parity"`
	BaudRate string `yaml:"baudrate"`
	DataBits string `yaml:"numbits"`
	StopBits string `yaml:"stopbits"`
}

// Status holds the status API settings. An empty Listen disables the API.
type Status struct {
	Listen string `yaml:"listen"`
}

// Log holds the logging settings.
type Log struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

func defaults() *Settings {
	return &Settings{
		Remote: Remote{
			URL:          DefaultRemoteURL,
			UseWebSocket: true,
		},
	}
}

// Load reads the settings file at path. A missing file is reported as ErrNotFound.
func Load(path string) (*Settings, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return nil, fmt.Errorf("settings: %w", err)
	}

	var (
		s   *Settings
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err = loadYAML(path)
	default:
		s, err = loadINI(path)
	}
	if err != nil {
		return nil, err
	}

	s.path = path
	s.normalize()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the file the settings were loaded from.
func (s *Settings) Path() string { return s.path }

func (s *Settings) normalize() {
	s.Remote.URL = strings.TrimSpace(s.Remote.URL)
	if s.Remote.URL == "" {
		s.Remote.URL = DefaultRemoteURL
	}
	s.Remote.ConnectName = strings.TrimSpace(s.Remote.ConnectName)
	s.Serial.Port = strings.TrimSpace(s.Serial.Port)

	networks := s.Remote.Networks[:0]
	for _, n := range s.Remote.Networks {
		if n = strings.TrimSpace(n); n != "" {
			networks = append(networks, n)
		}
	}
	s.Remote.Networks = networks
}

// Validate reports missing mandatory settings.
func (s *Settings) Validate() error {
	var errs []error
	if s.Serial.Port == "" {
		errs = append(errs, errors.New("settings: serial port (serport) is required"))
	}
	if s.Remote.ConnectName == "" {
		errs = append(errs, errors.New("settings: connect name (connectname) is required"))
	}

	return errors.Join(errs...)
}

// TransportMode returns the remote transport selected by usewebsocket.
func (s *Settings) TransportMode() remote.TransportMode {
	if s.Remote.UseWebSocket {
		return remote.TransportWebSocket
	}

	return remote.TransportLongPolling
}

// LogLevel returns the configured log level, InfoLevel when unset.
func (s *Settings) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(s.Log.Level)
}

// Codec returns the charset codec of the serial device.
func (s *Settings) Codec() (*textcodec.Codec, error) {
	return textcodec.Lookup(s.Remote.Charset)
}

// SerialConfig builds the serial port configuration. opts are applied first;
// the parity, baud rate, data bits and stop bits codes are then applied with
// the permissive setters. A rejected code keeps the previous value and is
// logged as a warning through the configuration's logger.
func (s *Settings) SerialConfig(opts ...serialport.ConfigOption) (*serialport.Config, error) {
	cfg, err := serialport.NewConfig(s.Serial.Port, opts...)
	if err != nil {
		return nil, err
	}

	codes := []struct {
		code  string
		apply func(string) error
	}{
		{s.Serial.Parity, cfg.ApplyParityCode},
		{s.Serial.BaudRate, cfg.ApplyBaudRateCode},
		{s.Serial.DataBits, cfg.ApplyDataBitsCode},
		{s.Serial.StopBits, cfg.ApplyStopBitsCode},
	}

	for _, c := range codes {
		if strings.TrimSpace(c.code) == "" {
			continue
		}

		if err := c.apply(c.code); err != nil {
			var cfgErr *serialport.ConfigError
			if !errors.As(err, &cfgErr) {
				return nil, err
			}
			cfg.GetLogger().Warn("ignore serial setting, keeping previous value",
				"field", cfgErr.Field, "value", cfgErr.Value)
		}
	}

	return cfg, nil
}

// RemoteConfig builds the remote connection configuration. opts are applied
// after the options derived from the settings.
func (s *Settings) RemoteConfig(opts ...remote.ConnOption) (*remote.ConnectionConfig, error) {
	base := []remote.ConnOption{
		remote.WithPassword(s.Remote.Password),
		remote.WithNetworkNames(s.Remote.Networks...),
		remote.WithTransportMode(s.TransportMode()),
	}

	if s.Remote.Encryption {
		base = append(base, remote.WithEncryption(true))
	}

	if name := strings.TrimSpace(s.Remote.DeviceName); name != "" {
		base = append(base, remote.WithDeviceName(name))
	}

	return remote.NewConnectionConfig(s.Remote.URL, s.Remote.ConnectName, append(base, opts...)...)
}
