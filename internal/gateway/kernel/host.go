package kernel

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"vnet/internal/gateway"
	"vnet/internal/log"
)

// DefaultProcSys is where sysctls are read and written
const DefaultProcSys = "/proc/sys"

// hostSettings are applied by Prepare in order. Bridged frames must not
// traverse the host's iptables.
var hostSettings = []struct {
	key   string
	value string
}{
	{"net.ipv4.ip_forward", "1"},
	{"net.bridge.bridge-nf-call-iptables", "0"},
	{"net.bridge.bridge-nf-call-ip6tables", "0"},
	{"net.bridge.bridge-nf-call-arptables", "0"},
}

// Host implements gateway.HostGateway through procfs
type Host struct {
	procSys  string
	netnsDir string

	saved map[string]string
	order []string
}

var _ gateway.HostGateway = (*Host)(nil)

// NewHost creates a host gateway. procSys is normally DefaultProcSys.
func NewHost(procSys, netnsDir string) *Host {
	return &Host{procSys: procSys, netnsDir: netnsDir}
}

func (h *Host) path(key string) string {
	return filepath.Join(h.procSys, strings.ReplaceAll(key, ".", "/"))
}

// Prepare creates the netns directory and applies the host settings,
// remembering every value it changes. Settings whose file does not exist,
// such as bridge netfilter without br_netfilter loaded, are skipped.
func (h *Host) Prepare(ctx context.Context) error {
	logger := log.G(ctx)
	if err := os.MkdirAll(h.netnsDir, 0o755); err != nil {
		return errors.Wrap(err, "create netns directory")
	}

	h.saved = make(map[string]string)
	h.order = nil
	for _, s := range hostSettings {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(h.path(s.key))
		if os.IsNotExist(err) {
			logger.WithField("sysctl", s.key).Debug("sysctl not present, skipping")
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", s.key)
		}

		prev := strings.TrimSpace(string(data))
		if prev == s.value {
			continue
		}
		if err := os.WriteFile(h.path(s.key), []byte(s.value+"\n"), 0o644); err != nil {
			return errors.Wrapf(err, "write %s", s.key)
		}
		h.saved[s.key] = prev
		h.order = append(h.order, s.key)
		logger.WithField("sysctl", s.key).Debugf("%s -> %s", prev, s.value)
	}
	return nil
}

// Restore writes back every value Prepare changed, newest first
func (h *Host) Restore(ctx context.Context) error {
	var result *multierror.Error
	for i := len(h.order) - 1; i >= 0; i-- {
		key := h.order[i]
		if err := os.WriteFile(h.path(key), []byte(h.saved[key]+"\n"), 0o644); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "restore %s", key))
			continue
		}
		log.G(ctx).WithField("sysctl", key).Debugf("restored %s", h.saved[key])
	}
	h.saved = nil
	h.order = nil
	return result.ErrorOrNil()
}
