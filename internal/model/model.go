// Package model holds the persistent and wire types shared across the
// issuance core: segment records, node records, and the role enum that
// partitions the interval sequence between the two cooperating nodes.
package model

import "time"

// Role is the interval-parity class a node or segment belongs to.
type Role int

const (
	// RoleEven owns the odd-indexed intervals (§4.4).
	RoleEven Role = 0
	// RoleOdd owns the even-indexed intervals (§4.4).
	RoleOdd Role = 1
)

// String renders the role for logging.
func (r Role) String() string {
	switch r {
	case RoleEven:
		return "even"
	case RoleOdd:
		return "odd"
	default:
		return "unknown"
	}
}

// ParseRole parses the wire representation of a role ("even"/"odd" or
// numeric "0"/"1").
func ParseRole(s string) (Role, bool) {
	switch s {
	case "even", "0":
		return RoleEven, true
	case "odd", "1":
		return RoleOdd, true
	default:
		return 0, false
	}
}

// Opposite returns the other role.
func (r Role) Opposite() Role {
	if r == RoleEven {
		return RoleOdd
	}
	return RoleEven
}

// Segment is the persistent record tracking the last interval claimed for
// one (business_type, time_key, role) triple.
type Segment struct {
	BusinessType string
	TimeKey      string
	Role         Role
	MaxValue     int64
	StepSize     int32
	UpdatedAt    time.Time
}

// NodeStatus is the liveness state of a registered node.
type NodeStatus string

const (
	// NodeOnline means the node's heartbeat is fresh.
	NodeOnline NodeStatus = "Online"
	// NodeOffline means the node's heartbeat has gone stale.
	NodeOffline NodeStatus = "Offline"
)

// Node is the persistent record of one node instance in the cluster.
type Node struct {
	NodeID        string
	Role          Role
	Status        NodeStatus
	LastHeartbeat time.Time
}
