package hosts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDNSFlusher_DetectMethod(t *testing.T) {
	tests := []struct {
		goos      string
		available []string
		expected  FlushMethod
	}{
		{"darwin", nil, FlushMethodBoth},
		{"linux", []string{"resolvectl"}, FlushMethodSystemd},
		{"linux", []string{"systemd-resolve"}, FlushMethodSystemd},
		{"linux", []string{"nscd"}, FlushMethodNscd},
		{"linux", nil, FlushMethodAuto},
		{"windows", nil, FlushMethodIpconfig},
		{"freebsd", nil, FlushMethodAuto},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+string(tt.expected), func(t *testing.T) {
			f := NewDNSFlusher(tt.goos, FlushMethodAuto, &fakeRunner{})
			f.lookPath = func(name string) (string, error) {
				for _, a := range tt.available {
					if a == name {
						return "/usr/bin/" + name, nil
					}
				}
				return "", errors.New("not found")
			}
			assert.Equal(t, tt.expected, f.detectMethod())
		})
	}
}

func TestDNSFlusher_Flush(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		method   FlushMethod
		fail     map[string]bool
		expected []string
		wantErr  bool
	}{
		{
			name:     "darwin both",
			goos:     "darwin",
			method:   FlushMethodBoth,
			expected: []string{"dscacheutil", "killall"},
		},
		{
			name:     "darwin both one failing",
			goos:     "darwin",
			method:   FlushMethodBoth,
			fail:     map[string]bool{"killall": true},
			expected: []string{"dscacheutil", "killall"},
		},
		{
			name:     "darwin both all failing",
			goos:     "darwin",
			method:   FlushMethodBoth,
			fail:     map[string]bool{"killall": true, "dscacheutil": true},
			expected: []string{"dscacheutil", "killall"},
			wantErr:  true,
		},
		{
			name:     "linux systemd falls back",
			goos:     "linux",
			method:   FlushMethodSystemd,
			fail:     map[string]bool{"resolvectl": true},
			expected: []string{"resolvectl", "systemd-resolve"},
		},
		{
			name:     "linux nscd",
			goos:     "linux",
			method:   FlushMethodNscd,
			expected: []string{"nscd"},
		},
		{
			name:     "windows",
			goos:     "windows",
			method:   FlushMethodAuto,
			expected: []string{"ipconfig"},
		},
		{
			name:     "windows failing",
			goos:     "windows",
			method:   FlushMethodAuto,
			fail:     map[string]bool{"ipconfig": true},
			expected: []string{"ipconfig"},
			wantErr:  true,
		},
		{
			name:    "unsupported",
			goos:    "plan9",
			method:  FlushMethodAuto,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{handle: func(name string, _ []string) ([]byte, error) {
				if tt.fail[name] {
					return nil, errors.New("exit status 1")
				}
				return nil, nil
			}}
			f := NewDNSFlusher(tt.goos, tt.method, runner)

			err := f.Flush(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.expected != nil {
				assert.Equal(t, tt.expected, runner.names())
			}
		})
	}
}

func TestDNSFlusher_DarwinPrivileged(t *testing.T) {
	plain := &fakeRunner{}
	privileged := &fakeRunner{}
	f := NewDNSFlusher("darwin", FlushMethodBoth, plain)
	f.root = false
	f.WithPrivileged(privileged)

	require.NoError(t, f.Flush(context.Background()))
	assert.Empty(t, plain.names())
	require.Len(t, privileged.calls, 2)
	assert.Equal(t, "/usr/bin/dscacheutil", privileged.calls[0].name)
	assert.Equal(t, []string{"-flushcache"}, privileged.calls[0].args)
	assert.Equal(t, "/usr/bin/killall", privileged.calls[1].name)
	assert.Equal(t, []string{"-HUP", "mDNSResponder"}, privileged.calls[1].args)
}

func TestDNSFlusher_RootIgnoresPrivileged(t *testing.T) {
	plain := &fakeRunner{}
	privileged := &fakeRunner{}
	f := NewDNSFlusher("darwin", FlushMethodDscacheutil, plain)
	f.root = true
	f.WithPrivileged(privileged)

	require.NoError(t, f.Flush(context.Background()))
	assert.Equal(t, []string{"dscacheutil"}, plain.names())
	assert.Empty(t, privileged.names())
}

func TestSudoersWriter_FlushThroughGrant(t *testing.T) {
	runner := &fakeRunner{}
	w := &sudoersWriter{runner: runner, user: "alice"}
	f := NewDNSFlusher("darwin", FlushMethodKillall, &fakeRunner{})
	f.root = false
	f.WithPrivileged(w)

	require.NoError(t, f.Flush(context.Background()))
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "osascript", runner.calls[0].name)
	assert.Equal(t, "sudo", runner.calls[1].name)
	assert.Equal(t, []string{"-n", "/usr/bin/killall", "-HUP", "mDNSResponder"}, runner.calls[1].args)
	assert.Contains(t, w.rule(), "/usr/bin/killall -HUP mDNSResponder")
}
