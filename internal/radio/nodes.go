package radio

import "sort"

// NodeID names a logical radio endpoint.
type NodeID string

const GatewayNode NodeID = "GATEWAY_NODE"

// addresses maps every known node to its radio address. The transceiver uses
// only the first AddressWidth bytes of each entry.
var addresses = map[NodeID][]byte{
	GatewayNode: []byte("GATEWAY_NODE"),
	"NODE1":     []byte("NODE1"),
	"NODE2":     []byte("NODE2"),
	"NODE3":     []byte("NODE3"),
}

// Lookup returns a copy of the radio address of id.
func Lookup(id NodeID) ([]byte, bool) {
	a, ok := addresses[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), a...), true
}

// Known reports whether id is in the address table.
func Known(id NodeID) bool {
	_, ok := addresses[id]
	return ok
}

// Nodes lists the address table keys in sorted order.
func Nodes() []NodeID {
	out := make([]NodeID, 0, len(addresses))
	for id := range addresses {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
