package provision

// State is the progress of one instantiation. Each phase, when it
// completes, moves the orchestrator to the state named after it.
type State int

const (
	StateInit State = iota
	StateSystemSetup
	StateSubnetsCreated
	StateRoutersCreated
	StateRouted
	StateFirewalled
	StateHostsUpdated
	StateReady
	StateRollingBack
	StateRolledBack
)

var stateNames = [...]string{
	StateInit:           "INIT",
	StateSystemSetup:    "SYSTEM_SETUP",
	StateSubnetsCreated: "SUBNETS_CREATED",
	StateRoutersCreated: "ROUTERS_CREATED",
	StateRouted:         "ROUTED",
	StateFirewalled:     "FIREWALLED",
	StateHostsUpdated:   "HOSTS_UPDATED",
	StateReady:          "READY",
	StateRollingBack:    "ROLLING_BACK",
	StateRolledBack:     "ROLLED_BACK",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateReady || s == StateRolledBack
}
