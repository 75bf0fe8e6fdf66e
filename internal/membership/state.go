package membership

import "time"

// State is the membership state of this host in the pool.
type State string

const (
	Unregistered State = "unregistered"
	Registering  State = "registering"
	Verifying    State = "verifying"
	Registered   State = "registered"
	Degraded     State = "degraded"
)

// Snapshot is a consistent copy of the membership state.
type Snapshot struct {
	HostID        string
	State         State
	Since         time.Time
	LastHeartbeat time.Time
	PoolSize      int
	// PingInterval is the heartbeat interval suggested by the coordinator, 0 if none.
	PingInterval time.Duration
}

// Active reports whether the host may poll for work.
func (s Snapshot) Active() bool { return s.State == Registered && s.HostID != "" }

// HeartbeatResult is the outcome of one heartbeat.
type HeartbeatResult int

const (
	// HeartbeatSkipped means the host was not registered.
	HeartbeatSkipped HeartbeatResult = iota
	// HeartbeatAck means the coordinator acknowledged the heartbeat.
	HeartbeatAck
	// HeartbeatUnknown means the coordinator answered 404; the host is now degraded.
	HeartbeatUnknown
	// HeartbeatTransient means the heartbeat failed for another reason; state is unchanged.
	HeartbeatTransient
)

func (r HeartbeatResult) String() string {
	switch r {
	case HeartbeatAck:
		return "ack"
	case HeartbeatUnknown:
		return "unknown"
	case HeartbeatTransient:
		return "transient"
	default:
		return "skipped"
	}
}
