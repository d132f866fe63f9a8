package network

// Node is (node_type, name, ordered instances, ordered AP instances,
// servlet table) per spec.md §3 NetworkNode.
type Node struct {
	Type uint32
	Name string

	// Instances is dense, indexed by node_id: "the i-th instance
	// within a node is the load-balance bucket i for that node type"
	// (spec.md §3).
	Instances   []*Instance
	APInstances []*Instance

	// Servlets maps servlet_type -> ordered list of this node's
	// instances hosting it (spec.md §3 NetworkServlet(s) table,
	// node-scoped copy).
	Servlets map[uint16][]*Instance
}

func newNode(typ uint32, name string) *Node {
	return &Node{Type: typ, Name: name, Servlets: make(map[uint16][]*Instance)}
}

func (n *Node) addInstance(in *Instance) {
	in.Node = n
	if in.IsAP {
		n.APInstances = append(n.APInstances, in)
		return
	}
	n.Instances = append(n.Instances, in)
	for st := range in.Servlets {
		if in.Servlets[st] {
			n.Servlets[st] = append(n.Servlets[st], in)
		}
	}
}
