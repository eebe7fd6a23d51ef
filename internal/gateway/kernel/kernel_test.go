package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"vnet/internal/domain"
	"vnet/internal/gateway"
)

func TestLinkErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     domain.LinkErrorKind
		notFound bool
	}{
		{"missing link", netlink.LinkNotFoundError{}, domain.LinkErrorKernel, true},
		{"no device", syscall.ENODEV, domain.LinkErrorKernel, true},
		{"wrapped enoent", fmt.Errorf("open ns: %w", syscall.ENOENT), domain.LinkErrorKernel, true},
		{"exists", syscall.EEXIST, domain.LinkErrorKernel, false},
		{"permission", syscall.EPERM, domain.LinkErrorKernel, false},
		{"other", errors.New("socket closed"), domain.LinkErrorUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := linkError("del", "brd0", tt.err)
			var le *domain.LinkError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.kind, le.Kind)
			assert.Equal(t, tt.notFound, errors.Is(err, domain.ErrNotFound))
		})
	}
}

func TestParseRoute(t *testing.T) {
	r, err := parseRoute(domain.DefaultRoute, "10.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, r.Dst)
	assert.Equal(t, "10.0.0.1", r.Gw.String())

	r, err = parseRoute("10.0.2.0/24", "10.0.1.3")
	require.NoError(t, err)
	assert.Equal(t, "10.0.2.0/24", r.Dst.String())

	for _, bad := range [][2]string{
		{"10.0.2.0/24", "router"},
		{"10.0.2.0/24", "fe80::1"},
		{"10.0.2.0", "10.0.1.3"},
	} {
		_, err := parseRoute(bad[0], bad[1])
		assert.Error(t, err, "%v", bad)
	}
}

func TestSyntaxErrorsNeverReachTheKernel(t *testing.T) {
	l := NewLinks(t.TempDir())
	ctx := context.Background()

	for name, err := range map[string]error{
		"address": l.AssignAddress(ctx, "vnzzz0", "10.0.0.300/24", "h1"),
		"route":   l.AssignRoute(ctx, "nowhere", "10.0.0.1", "h1"),
		"attach":  l.Attach(ctx, "vnzzz0", gateway.Target{}),
		"vlan":    l.AddInterface(ctx, 4095, "vbzzz0"),
	} {
		var le *domain.LinkError
		require.True(t, errors.As(err, &le), name)
		assert.Equal(t, domain.LinkErrorSyntax, le.Kind, name)
	}
}

func TestCancelledContextSkipsCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLinks(t.TempDir()).CreateBridge(ctx, "brd0")
	assert.ErrorIs(t, err, context.Canceled)
}

func writeSysctl(t *testing.T, root, key, value string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(value+"\n"), 0o644))
}

func readSysctl(t *testing.T, root, key string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	return string(data)
}

func TestHostPrepareAndRestore(t *testing.T) {
	proc := t.TempDir()
	netnsDir := filepath.Join(t.TempDir(), "netns")
	writeSysctl(t, proc, "net/ipv4/ip_forward", "0")
	writeSysctl(t, proc, "net/bridge/bridge-nf-call-iptables", "1")
	writeSysctl(t, proc, "net/bridge/bridge-nf-call-ip6tables", "0")
	// bridge-nf-call-arptables is absent

	h := NewHost(proc, netnsDir)
	ctx := context.Background()
	require.NoError(t, h.Prepare(ctx))

	assert.DirExists(t, netnsDir)
	assert.Equal(t, "1\n", readSysctl(t, proc, "net/ipv4/ip_forward"))
	assert.Equal(t, "0\n", readSysctl(t, proc, "net/bridge/bridge-nf-call-iptables"))
	assert.Equal(t, []string{"net.ipv4.ip_forward", "net.bridge.bridge-nf-call-iptables"}, h.order)

	require.NoError(t, h.Restore(ctx))
	assert.Equal(t, "0\n", readSysctl(t, proc, "net/ipv4/ip_forward"))
	assert.Equal(t, "1\n", readSysctl(t, proc, "net/bridge/bridge-nf-call-iptables"))
	assert.Equal(t, "0\n", readSysctl(t, proc, "net/bridge/bridge-nf-call-ip6tables"))
	assert.NoFileExists(t, filepath.Join(proc, "net/bridge/bridge-nf-call-arptables"))

	// nothing left to restore
	require.NoError(t, h.Restore(ctx))
}

func TestHostRestoreAfterPartialPrepare(t *testing.T) {
	proc := t.TempDir()
	writeSysctl(t, proc, "net/ipv4/ip_forward", "0")
	// a directory where a sysctl file belongs cannot be read
	require.NoError(t, os.MkdirAll(filepath.Join(proc, "net/bridge/bridge-nf-call-iptables"), 0o755))

	h := NewHost(proc, filepath.Join(t.TempDir(), "netns"))
	ctx := context.Background()
	err := h.Prepare(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "net.bridge.bridge-nf-call-iptables")
	assert.Equal(t, "1\n", readSysctl(t, proc, "net/ipv4/ip_forward"))

	require.NoError(t, h.Restore(ctx))
	assert.Equal(t, "0\n", readSysctl(t, proc, "net/ipv4/ip_forward"))
}
