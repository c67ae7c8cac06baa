package ssrf

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_RejectsBadScheme(t *testing.T) {
	v := NewValidator(nil)
	err := v.Check("ftp://example.com/a.jpg")
	require.Error(t, err)
}

func TestCheck_RejectsMissingHost(t *testing.T) {
	v := NewValidator(nil)
	err := v.Check("http:///a.jpg")
	require.Error(t, err)
}

func TestCheck_RejectsLoopbackLiteral(t *testing.T) {
	v := NewValidator(nil)
	err := v.Check("http://127.0.0.1/a.jpg")
	require.Error(t, err)
}

func TestCheck_RejectsPrivateLiteral(t *testing.T) {
	v := NewValidator(nil)
	for _, host := range []string{"10.0.0.5", "172.16.4.4", "192.168.1.1", "169.254.1.1"} {
		err := v.Check("http://" + host + "/a.jpg")
		require.Error(t, err, host)
	}
}

func TestCheck_AcceptsPublicResolvedHost(t *testing.T) {
	v := NewValidator(nil)
	v.resolver = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	err := v.Check("https://cdn.example.com/a.jpg")
	assert.NoError(t, err)
}

func TestCheck_RejectsPrivateResolvedHost(t *testing.T) {
	v := NewValidator(nil)
	v.resolver = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.1.2.3")}, nil
	}
	err := v.Check("https://internal.example.com/a.jpg")
	require.Error(t, err)
}

func TestCheck_AllowListEnforced(t *testing.T) {
	v := NewValidator([]string{"cdn.example.com"})
	v.resolver = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	assert.NoError(t, v.Check("https://cdn.example.com/a.jpg"))
	assert.NoError(t, v.Check("https://img.cdn.example.com/a.jpg"))

	err := v.Check("https://other.example.net/a.jpg")
	require.Error(t, err)
}
