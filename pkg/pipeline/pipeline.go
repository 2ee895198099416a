// Package pipeline assembles named SQL statements into a single statement of
// common table expressions, the last node being the result.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateName is returned when an output name is enqueued twice.
var ErrDuplicateName = errors.New("duplicate pipeline output name")

// ErrEmpty is returned when rendering a pipeline with no nodes.
var ErrEmpty = errors.New("pipeline has no nodes")

// Node is one named statement. Later nodes may select from earlier ones by
// name.
type Node struct {
	Name string
	SQL  string
}

// Pipeline is an ordered list of named nodes. The zero value is ready to use.
// A Pipeline is not safe for concurrent use.
type Pipeline struct {
	nodes []Node
	names map[string]struct{}
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Enqueue appends a node. Output names are unique within a pipeline.
func (p *Pipeline) Enqueue(sql, name string) error {
	if name == "" {
		return errors.New("pipeline output name is empty")
	}
	if p.names == nil {
		p.names = make(map[string]struct{})
	}
	if _, ok := p.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	p.names[name] = struct{}{}
	p.nodes = append(p.nodes, Node{Name: name, SQL: strings.TrimSpace(sql)})
	return nil
}

// Nodes returns a copy of the enqueued nodes in order.
func (p *Pipeline) Nodes() []Node {
	out := make([]Node, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Len is the number of nodes.
func (p *Pipeline) Len() int { return len(p.nodes) }

// OutputName is the name of the last node, or "" for an empty pipeline.
func (p *Pipeline) OutputName() string {
	if len(p.nodes) == 0 {
		return ""
	}
	return p.nodes[len(p.nodes)-1].Name
}

// Render splits the pipeline into a "WITH ... " prefix holding every node
// and a final SELECT of the last node. The prefix is empty for a single
// node pipeline, in which case the final SELECT is the node itself.
func (p *Pipeline) Render() (with, final string, err error) {
	if len(p.nodes) == 0 {
		return "", "", ErrEmpty
	}
	if len(p.nodes) == 1 {
		return "", p.nodes[0].SQL, nil
	}

	var sb strings.Builder
	sb.WriteString("WITH ")
	for i, n := range p.nodes {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s AS (\n%s\n)", n.Name, n.SQL)
	}
	sb.WriteString(" ")
	return sb.String(), "SELECT * FROM " + p.OutputName(), nil
}

// SQL renders the pipeline as one statement.
func (p *Pipeline) SQL() (string, error) {
	with, final, err := p.Render()
	if err != nil {
		return "", err
	}
	return with + final, nil
}
