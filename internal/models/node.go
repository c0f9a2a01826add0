package models

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// NoParent is the parent id sentinel carried by root nodes.
const NoParent = -1

// CompartmentType classifies a reconstruction node
type CompartmentType int

const (
	Other CompartmentType = iota
	Soma
	Axon
	BasalDendrite
	ApicalDendrite
)

// CompartmentFromSWC maps an SWC structure identifier to a compartment type.
// Codes outside 1-4 are reported as Other.
func CompartmentFromSWC(code int) CompartmentType {
	switch code {
	case 1:
		return Soma
	case 2:
		return Axon
	case 3:
		return BasalDendrite
	case 4:
		return ApicalDendrite
	default:
		return Other
	}
}

// SWC returns the SWC structure identifier for the compartment type.
func (c CompartmentType) SWC() int {
	switch c {
	case Soma:
		return 1
	case Axon:
		return 2
	case BasalDendrite:
		return 3
	case ApicalDendrite:
		return 4
	default:
		return 0
	}
}

func (c CompartmentType) String() string {
	switch c {
	case Soma:
		return "soma"
	case Axon:
		return "axon"
	case BasalDendrite:
		return "basal dendrite"
	case ApicalDendrite:
		return "apical dendrite"
	default:
		return "other"
	}
}

// Node is one sample point of a reconstruction. Nodes are never mutated after
// parsing; trees drop them from their active set instead.
type Node struct {
	// ID is unique within a tree
	ID int

	// Type is the compartment the node belongs to
	Type CompartmentType

	// ParentID is the id of the parent node, or NoParent for a root
	ParentID int

	// Position is the node's 3D coordinate
	Position r3.Vec

	// Radius is the local process radius
	Radius float64
}

// IsRoot reports whether the node carries the root sentinel.
func (n Node) IsRoot() bool { return n.ParentID == NoParent }
