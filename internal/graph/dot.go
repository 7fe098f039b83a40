package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"
)

var relationStyle = map[Relation]string{
	RelationAfter:             `color="green"`,
	RelationBefore:            `color="darkgreen",style="dotted"`,
	RelationRequires:          `color="black"`,
	RelationRequisite:         `color="black",style="dashed"`,
	RelationWants:             `color="grey66"`,
	RelationBindsTo:           `color="blue"`,
	RelationPartOf:            `color="purple"`,
	RelationConflicts:         `color="red"`,
	RelationConditionResultNo: `color="grey66",style="dashed"`,
}

// DOTOptions control rendering.
type DOTOptions struct {
	// Userspace is subtracted from activation times so "@" reads as time
	// since userspace started. Zero prints time since boot.
	Userspace time.Duration
}

// NodeLabel renders "name (+activation @finished)", marking failed units.
func NodeLabel(n Node, opts DOTOptions) string {
	label := n.Name
	if n.Unit == nil {
		return label
	}
	label += " ("
	if d, ok := n.Unit.TimeToActivate(); ok && d > 0 {
		label += fmt.Sprintf("+%.02fs ", d.Seconds())
	}
	if at, ok := n.Unit.ActivatedAt(); ok {
		label += fmt.Sprintf("@%.02fs", (at - opts.Userspace).Seconds())
	} else {
		label += "inactive"
	}
	label += ")"
	if n.Unit.Failed() {
		label += " *FAILED*"
	}
	return label
}

// WriteDOT renders g as a Graphviz digraph.
func WriteDOT(w io.Writer, g *Graph, name string, opts DOTOptions) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "digraph %s {\n", strconv.Quote(name))
	fmt.Fprintln(bw, "  rankdir=LR;")

	for _, n := range g.Nodes() {
		attrs := "label=" + strconv.Quote(NodeLabel(n, opts))
		if n.Unit.Failed() {
			attrs += `,color="red"`
		}
		fmt.Fprintf(bw, "  %s [%s];\n", strconv.Quote(n.Name), attrs)
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(bw, "  %s->%s [%s,label=%s];\n",
			strconv.Quote(e.From), strconv.Quote(e.To), relationStyle[e.Relation], strconv.Quote(e.Relation.String()))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
