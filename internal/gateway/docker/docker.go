// Package docker runs network nodes as Docker containers.
package docker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vnet/internal/config"
	"vnet/internal/domain"
	"vnet/internal/gateway"
	"vnet/internal/log"
)

const (
	// DefaultNetwork is the engine network internet gateways join
	DefaultNetwork = "bridge"

	bridgeNameOption = "com.docker.network.bridge.name"
	roleLabel        = "vnet.role"
)

// Gateway implements gateway.ContainerGateway on the Docker engine API
type Gateway struct {
	client   client.APIClient
	netnsDir string
	network  string
}

var _ gateway.ContainerGateway = (*Gateway)(nil)

// Option configures a Gateway
type Option func(*Gateway)

// WithClient uses c instead of a client built from the environment
func WithClient(c client.APIClient) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

// WithNetnsDir sets where container namespaces are linked
func WithNetnsDir(dir string) Option {
	return func(g *Gateway) {
		g.netnsDir = dir
	}
}

// WithNetwork sets the engine network internet gateways join
func WithNetwork(name string) Option {
	return func(g *Gateway) {
		g.network = name
	}
}

// New creates a gateway. Without WithClient it connects to the engine
// named by DOCKER_HOST and friends, negotiating the API version.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		netnsDir: config.DefaultNetnsDir,
		network:  DefaultNetwork,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, errors.Wrap(err, "docker client")
		}
		g.client = c
	}
	return g, nil
}

// Close releases the engine connection
func (g *Gateway) Close() error {
	return g.client.Close()
}

// Ping returns the API version of a reachable engine
func (g *Gateway) Ping(ctx context.Context) (string, error) {
	p, err := g.client.Ping(ctx)
	if err != nil {
		return "", errors.Wrap(err, "docker ping")
	}
	return p.APIVersion, nil
}

// HasImage reports whether image is present locally. Images are never
// pulled.
func (g *Gateway) HasImage(ctx context.Context, image string) (bool, error) {
	if _, _, err := g.client.ImageInspectWithRaw(ctx, image); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "inspect image %s", image)
	}
	return true, nil
}

// containerConfig translates spec into engine settings. Nodes start with no
// interface but loopback; internet gateways also join the engine network.
func containerConfig(spec gateway.ContainerSpec, network string) (*container.Config, *container.HostConfig) {
	mode := "none"
	if spec.DefaultNetwork {
		mode = network
	}
	cfg := &container.Config{
		Image:    spec.Image,
		Hostname: spec.Name,
		Labels:   map[string]string{roleLabel: string(spec.Role)},
	}
	host := &container.HostConfig{
		NetworkMode: container.NetworkMode(mode),
		CapAdd:      spec.Capabilities,
		Sysctls:     spec.Sysctls,
	}
	return cfg, host
}

func (g *Gateway) Create(ctx context.Context, spec gateway.ContainerSpec) error {
	cfg, host := containerConfig(spec, g.network)
	created, err := g.client.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return containerError("create", spec.Name, err)
	}

	if err := g.client.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		// the caller only records containers that started
		if rmErr := g.client.ContainerRemove(ctx, created.ID, types.ContainerRemoveOptions{Force: true}); rmErr != nil {
			log.G(ctx).WithError(rmErr).Warnf("could not remove unstarted container %s", spec.Name)
		}
		return containerError("start", spec.Name, err)
	}

	log.G(ctx).WithFields(logrus.Fields{
		"container": spec.Name,
		"image":     spec.Image,
		"id":        shortID(created.ID),
	}).Debug("container started")
	return nil
}

// LinkNamespace links the container's network namespace into the netns
// directory so link operations can address it by name
func (g *Gateway) LinkNamespace(ctx context.Context, name string) error {
	info, err := g.client.ContainerInspect(ctx, name)
	if err != nil {
		return containerError("inspect", name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || info.State.Pid == 0 {
		return &domain.ContainerError{Op: "inspect", Name: name, Err: errors.New("container is not running")}
	}

	src := "/proc/" + strconv.Itoa(info.State.Pid) + "/ns/net"
	dst := filepath.Join(g.netnsDir, name)
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return &domain.ContainerError{Op: "netns", Name: name, Err: err}
	}
	if err := os.Symlink(src, dst); err != nil {
		return &domain.ContainerError{Op: "netns", Name: name, Err: err}
	}
	return nil
}

// Remove force-removes the container and its namespace link
func (g *Gateway) Remove(ctx context.Context, name string) error {
	if err := os.Remove(filepath.Join(g.netnsDir, name)); err != nil && !os.IsNotExist(err) {
		log.G(ctx).WithError(err).Warnf("could not unlink namespace of %s", name)
	}
	if err := g.client.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true}); err != nil {
		return containerError("remove", name, err)
	}
	return nil
}

// Exec runs argv in the container and returns its exit status
func (g *Gateway) Exec(ctx context.Context, name string, argv []string) (int, error) {
	created, err := g.client.ContainerExecCreate(ctx, name, types.ExecConfig{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, containerError("exec", name, err)
	}

	attached, err := g.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, containerError("exec", name, err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return -1, &domain.ContainerError{Op: "exec", Name: name, Err: errors.Wrap(err, "read output")}
	}

	inspected, err := g.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, containerError("exec", name, err)
	}

	logger := log.G(ctx).WithField("container", name).WithField("cmd", strings.Join(argv, " "))
	if inspected.ExitCode != 0 {
		logger.WithField("status", inspected.ExitCode).Warn(strings.TrimSpace(stderr.String()))
	} else {
		logger.Debug("exec done")
	}
	return inspected.ExitCode, nil
}

// Upload extracts archive into dir
func (g *Gateway) Upload(ctx context.Context, name, dir string, archive []byte) error {
	err := g.client.CopyToContainer(ctx, name, dir, bytes.NewReader(archive), types.CopyToContainerOptions{})
	if err != nil {
		return containerError("copy", name, err)
	}
	return nil
}

// DefaultNetwork describes the engine network internet gateways join
func (g *Gateway) DefaultNetwork(ctx context.Context) (gateway.Network, error) {
	res, err := g.client.NetworkInspect(ctx, g.network, types.NetworkInspectOptions{})
	if err != nil {
		return gateway.Network{}, containerError("network", g.network, err)
	}

	n := gateway.Network{Bridge: res.Options[bridgeNameOption]}
	for _, c := range res.IPAM.Config {
		if strings.Contains(c.Subnet, ".") {
			n.Subnet = c.Subnet
			n.Gateway = c.Gateway
			break
		}
	}
	return n, nil
}

// containerError classifies an engine failure. A missing container on
// removal is recoverable since there is nothing left to clean up.
func containerError(op, name string, err error) error {
	if client.IsErrNotFound(err) {
		return &domain.ContainerError{
			Op:          op,
			Name:        name,
			Recoverable: op == "remove",
			Err:         errors.Wrap(domain.ErrNotFound, err.Error()),
		}
	}
	return &domain.ContainerError{Op: op, Name: name, Err: err}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
