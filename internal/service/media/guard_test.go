package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockedAddr(t *testing.T) {
	blocked := []string{
		"127.0.0.1", "::1", "10.0.0.8", "172.16.4.1", "192.168.1.1",
		"169.254.169.254", "fe80::1", "0.0.0.0", "::", "100.64.0.1",
		"fd00:ec2::254", "::ffff:127.0.0.1", "::ffff:169.254.169.254", "224.0.0.1",
	}
	for _, ip := range blocked {
		assert.True(t, blockedAddr(netip.MustParseAddr(ip)), ip)
	}

	public := []string{"93.184.216.34", "1.1.1.1", "2606:4700:4700::1111"}
	for _, ip := range public {
		assert.False(t, blockedAddr(netip.MustParseAddr(ip)), ip)
	}
}

func TestGuardedClient_RefusesInternalAddresses(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(pngBytes(t, 1, 1))
	}))
	defer server.Close()

	f := NewHTTPFetcher(NewGuardedClient(2*time.Second), 1<<20)

	for _, ref := range []string{
		server.URL + "/cat.png",
		"http://169.254.169.254/latest/meta-data/iam/security-credentials/",
		"http://[::1]:9/cat.png",
		"http://0.0.0.0:9/cat.png",
	} {
		_, err := f.Fetch(context.Background(), ref)
		require.Error(t, err, ref)
		assert.ErrorIs(t, err, ErrUnavailable, ref)
		assert.ErrorIs(t, err, ErrBlockedAddress, ref)
	}
	assert.Zero(t, hits)
}

func TestGuardedClient_CheckRedirect(t *testing.T) {
	client := NewGuardedClient(time.Second)
	require.NotNil(t, client.CheckRedirect)

	next, err := http.NewRequest(http.MethodGet, "https://cdn.example.com/b.png", nil)
	require.NoError(t, err)
	assert.NoError(t, client.CheckRedirect(next, []*http.Request{next}))
	assert.Error(t, client.CheckRedirect(next, make([]*http.Request, 5)))

	file, err := http.NewRequest(http.MethodGet, "file:///etc/passwd", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, client.CheckRedirect(file, []*http.Request{next}), ErrBlockedAddress)
}

func TestHTTPFetcher_RejectsUnsupportedSchemes(t *testing.T) {
	f := NewHTTPFetcher(NewGuardedClient(time.Second), 1<<20)

	for _, ref := range []string{"file:///etc/passwd", "gopher://example.com/", "http:///no-host"} {
		_, err := f.Fetch(context.Background(), ref)
		assert.ErrorIs(t, err, ErrUnavailable, ref)
		assert.ErrorIs(t, err, ErrBlockedAddress, ref)
	}
}

func TestHTTPFetcher_AllowedHosts(t *testing.T) {
	data := pngBytes(t, 2, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer server.Close()

	// the test server is loopback, so use its plain client here
	f := NewHTTPFetcher(server.Client(), 1<<20, "127.0.0.1", ".cdn.example.com")

	_, err := f.Fetch(context.Background(), server.URL+"/a.png")
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "https://attacker.example.net/a.png")
	assert.ErrorIs(t, err, ErrBlockedAddress)

	assert.True(t, hostAllowed("img.cdn.example.com", []string{"cdn.example.com"}))
	assert.True(t, hostAllowed("CDN.example.com.", []string{"cdn.example.com"}))
	assert.False(t, hostAllowed("evilcdn.example.com", []string{"cdn.example.com"}))
	assert.True(t, hostAllowed("anything.example", nil))
}
