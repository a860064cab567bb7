package dispatch

import "errors"

var (
	// ErrNoCapableAgent means no active agent advertises the required
	// capability. Terminal: there is nothing to fall back to.
	ErrNoCapableAgent = errors.New("no capable agent")

	// ErrAllAgentsFailed means every ranked candidate was tried once and
	// none succeeded.
	ErrAllAgentsFailed = errors.New("all agents failed")

	// ErrAttemptTimeout means a single attempt exceeded its bound. The
	// dispatcher treats it like any agent failure and moves on.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrAgentNotConnected means the transport has no route to the agent.
	ErrAgentNotConnected = errors.New("agent not connected")
)
