package verify

import "time"

// Option is a functional option for configuring a Verifier
type Option func(*Verifier)

// WithTimeout sets the timeout for the entire scan
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		v.timeout = d
	}
}

// WithNetnsDir sets where node namespaces are looked up
func WithNetnsDir(dir string) Option {
	return func(v *Verifier) {
		v.netnsDir = dir
	}
}

// WithBinaryPath runs the nmap binary at path instead of the one in PATH
func WithBinaryPath(path string) Option {
	return func(v *Verifier) {
		v.binaryPath = path
	}
}

// WithPorts also probes TCP ports on every reachable node.
// Format: "80,443,8080" or "1-1000" or "22,80-443,8080".
// An invalid list is ignored and the scan stays a ping scan.
func WithPorts(ports string) Option {
	return func(v *Verifier) {
		if validated, err := parsePorts(ports); err == nil {
			v.ports = validated
		}
	}
}
