package settings

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// section aliases, lower case
var (
	remoteSections = []string{"remote", "webificonnectiondetails"}
	serialSections = []string{"serial", "serialportsettings"}
)

const networkKeyPrefix = "network"

func loadINI(path string) (*Settings, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}

	s := defaults()

	if sec := findSection(f, remoteSections); sec != nil {
		r := &s.Remote
		r.URL = stringKey(sec, "url", r.URL)
		r.ConnectName = stringKey(sec, "connectname", "")
		r.Password = stringKey(sec, "password", "")
		r.DataType = stringKey(sec, "datatype", "")
		r.Encryption = flagKey(sec, "encryption", false)
		r.UseWebSocket = flagKey(sec, "usewebsocket", true)
		r.LogDirectory = stringKey(sec, "logdirectory", "")
		r.DeviceName = stringKey(sec, "devicename", "")
		r.Charset = stringKey(sec, "charset", "")

		// network keys are collected in file order
		for _, key := range sec.Keys() {
			if strings.HasPrefix(key.Name(), networkKeyPrefix) {
				r.Networks = append(r.Networks, key.Value())
			}
		}
	}

	if sec := findSection(f, serialSections); sec != nil {
		s.Serial = Serial{
			Port:     stringKey(sec, "serport", ""),
			Parity:   stringKey(sec, "parity", ""),
			BaudRate: stringKey(sec, "baudrate", ""),
			DataBits: stringKey(sec, "numbits", ""),
			StopBits: stringKey(sec, "stopbits", ""),
		}
	}

	if sec, err := f.GetSection("status"); err == nil {
		s.Status.Listen = stringKey(sec, "listen", "")
	}

	if sec, err := f.GetSection("log"); err == nil {
		s.Log.Level = stringKey(sec, "level", "")
		s.Log.Console = flagKey(sec, "console", false)
	}

	return s, nil
}

func findSection(f *ini.File, names []string) *ini.Section {
	for _, name := range names {
		if sec, err := f.GetSection(name); err == nil {
			return sec
		}
	}

	return nil
}

func stringKey(sec *ini.Section, name string, def string) string {
	if !sec.HasKey(name) {
		return def
	}

	return strings.TrimSpace(sec.Key(name).String())
}

// flagKey reads a 0/1 style flag. Unknown values keep def.
func flagKey(sec *ini.Section, name string, def bool) bool {
	switch strings.ToLower(stringKey(sec, name, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
