package provision

import (
	"archive/tar"
	"bytes"

	"github.com/pkg/errors"

	"vnet/internal/domain"
)

// tarFiles packs files into the archive format the runtime's copy API
// extracts
func tarFiles(files []domain.File) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name: f.Name,
			Mode: mode,
			Size: int64(len(f.Data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, errors.Wrapf(err, "archive %s", f.Name)
		}
		if _, err := tw.Write(f.Data); err != nil {
			return nil, errors.Wrapf(err, "archive %s", f.Name)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(err, "close archive")
	}
	return buf.Bytes(), nil
}

// hostsEntries lists one "address name" line per allocated address, so
// every container can reach the others by name
func hostsEntries(plan *domain.Plan) []string {
	var lines []string
	for _, name := range plan.Addresses.Names() {
		n, ok := plan.Topology.Node(name)
		if !ok || !n.Role.IsContainer() {
			continue
		}
		for _, s := range plan.Addresses.Subnets(name) {
			if a, ok := plan.Addresses.AddressIn(name, s); ok {
				lines = append(lines, a.String()+" "+name)
			}
		}
	}
	return lines
}

// hostsCommand appends lines to /etc/hosts. The lines travel as
// positional arguments so no quoting is involved.
func hostsCommand(lines []string) []string {
	argv := []string{"sh", "-c", `printf '%s\n' "$@" >> /etc/hosts`, "sh"}
	return append(argv, lines...)
}
