package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePort(t *testing.T) {
	tests := []struct {
		port  int
		valid bool
	}{
		{0, false},
		{1, true},
		{9898, true},
		{65535, true},
		{65536, false},
		{-1, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidatePort(tt.port), "port %d", tt.port)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://hosts.gitcdn.top/hosts.txt", true},
		{"http://192.168.1.10:9898/hosts.txt", true},
		{" http://example.com/hosts ", true},
		{"ftp://example.com/hosts", false},
		{"example.com/hosts", false},
		{"http://", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateURL(tt.url))
		})
	}
}

func TestValidateNameserver(t *testing.T) {
	tests := []struct {
		ns    string
		valid bool
	}{
		{"1.1.1.1", true},
		{"1.1.1.1:53", true},
		{"[2606:4700:4700::1111]:53", true},
		{"2606:4700:4700::1111", true},
		{"dns.google", false},
		{"1.1.1.1:0", false},
		{"1.1.1.1:abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.ns, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateNameserver(tt.ns))
		})
	}
}

func TestValidateListenAddr(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{":9100", true},
		{"127.0.0.1:9100", true},
		{"localhost:9100", true},
		{"9100", false},
		{"example.com:9100", false},
		{"127.0.0.1:99999", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateListenAddr(tt.addr))
		})
	}
}

func TestValidateConfig(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Error(t, ValidateConfig(nil))
	})

	t.Run("negative backups", func(t *testing.T) {
		cfg := Default()
		cfg.Hosts.MaxBackups = -1
		err := ValidateConfig(cfg)
		assert.EqualError(t, err, "hosts.max_backups: must not be negative")
	})

	t.Run("bad metrics addr", func(t *testing.T) {
		cfg := Default()
		cfg.Metrics.Addr = "nope"
		assert.Error(t, ValidateConfig(cfg))
	})

	t.Run("empty method means official", func(t *testing.T) {
		cfg := Default()
		cfg.Client.Method = ""
		cfg.Client.SelectOrigin = "Github520"
		assert.NoError(t, ValidateConfig(cfg))
	})
}
