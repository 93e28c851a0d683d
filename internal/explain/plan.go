package explain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Plan is one plan node. The root node also carries the statement timings
// and buffer totals.
type Plan struct {
	NodeType          string   `json:"Node Type"`
	RelationName      string   `json:"Relation Name,omitempty"`
	Alias             string   `json:"Alias,omitempty"`
	StartupCost       float64  `json:"Startup Cost"`
	TotalCost         float64  `json:"Total Cost"`
	PlanRows          float64  `json:"Plan Rows"`
	PlanWidth         int      `json:"Plan Width"`
	ActualStartupTime float64  `json:"Actual Startup Time,omitempty"`
	ActualTotalTime   float64  `json:"Actual Total Time,omitempty"`
	ActualRows        float64  `json:"Actual Rows,omitempty"`
	ActualLoops       float64  `json:"Actual Loops,omitempty"`
	SharedHitBlocks   int      `json:"Shared Hit Blocks,omitempty"`
	SharedReadBlocks  int      `json:"Shared Read Blocks,omitempty"`
	SortKey           []string `json:"Sort Key,omitempty"`
	Filter            string   `json:"Filter,omitempty"`
	SubPlans          []*Plan  `json:"Plans,omitempty"`

	PlanningTime  float64 `json:"-"`
	ExecutionTime float64 `json:"-"`
}

type document struct {
	Plan          *Plan   `json:"Plan"`
	PlanningTime  float64 `json:"Planning Time"`
	ExecutionTime float64 `json:"Execution Time"`
}

// ParseJSON parses the output of EXPLAIN (FORMAT JSON).
func ParseJSON(data []byte) (*Plan, error) {
	var docs []document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(docs) == 0 || docs[0].Plan == nil {
		return nil, fmt.Errorf("parse plan: no plan in output")
	}
	p := docs[0].Plan
	p.PlanningTime = docs[0].PlanningTime
	p.ExecutionTime = docs[0].ExecutionTime
	return p, nil
}

// Walk visits p and every sub-plan depth first.
func (p *Plan) Walk(fn func(node *Plan, depth int)) {
	var walk func(n *Plan, depth int)
	walk = func(n *Plan, depth int) {
		fn(n, depth)
		for _, c := range n.SubPlans {
			walk(c, depth+1)
		}
	}
	walk(p, 0)
}

// NodeTypes returns the node types in depth-first order.
func (p *Plan) NodeTypes() []string {
	var out []string
	p.Walk(func(n *Plan, _ int) { out = append(out, n.NodeType) })
	return out
}

// Tree renders the plan as an indented outline.
func (p *Plan) Tree() string {
	var sb strings.Builder
	p.Walk(func(n *Plan, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(n.NodeType)
		if n.RelationName != "" {
			fmt.Fprintf(&sb, " on %s", n.RelationName)
			if n.Alias != "" && n.Alias != n.RelationName {
				fmt.Fprintf(&sb, " %s", n.Alias)
			}
		}
		fmt.Fprintf(&sb, "  (cost=%.2f..%.2f rows=%.0f width=%d)", n.StartupCost, n.TotalCost, n.PlanRows, n.PlanWidth)
		if n.ActualLoops > 0 {
			fmt.Fprintf(&sb, " (actual time=%.3f..%.3f rows=%.0f loops=%.0f)", n.ActualStartupTime, n.ActualTotalTime, n.ActualRows, n.ActualLoops)
		}
		sb.WriteString("\n")
	})
	return sb.String()
}

// Metrics are the headline numbers of a text-format plan.
type Metrics struct {
	NodeType        string  `json:"node_type"`
	TotalCost       float64 `json:"total_cost"`
	PlanRows        int     `json:"plan_rows"`
	PlanWidth       int     `json:"plan_width"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	PlanningTimeMS  float64 `json:"planning_time_ms"`
	BufferHits      int     `json:"buffer_hits"`
	BufferReads     int     `json:"buffer_reads"`
}

var (
	execTimeRe = regexp.MustCompile(`Execution Time: ([\d.]+) ms`)
	planTimeRe = regexp.MustCompile(`Planning Time: ([\d.]+) ms`)
	buffersRe  = regexp.MustCompile(`Buffers: shared hit=(\d+)(?: read=(\d+))?`)
	costRe     = regexp.MustCompile(`\(cost=[\d.]+\.\.([\d.]+) rows=(\d+) width=(\d+)\)`)
)

// ParseText extracts metrics from the output of EXPLAIN (FORMAT TEXT). The
// node type and estimates come from the first line.
func ParseText(plan string) Metrics {
	var m Metrics

	first, _, _ := strings.Cut(strings.TrimSpace(plan), "\n")
	if i := strings.Index(first, "  ("); i >= 0 {
		m.NodeType = first[:i]
	} else {
		m.NodeType = first
	}
	m.NodeType, _, _ = strings.Cut(m.NodeType, " on ")
	m.NodeType = strings.TrimSpace(m.NodeType)

	if match := costRe.FindStringSubmatch(first); match != nil {
		m.TotalCost, _ = strconv.ParseFloat(match[1], 64)
		m.PlanRows, _ = strconv.Atoi(match[2])
		m.PlanWidth, _ = strconv.Atoi(match[3])
	}
	if match := execTimeRe.FindStringSubmatch(plan); match != nil {
		m.ExecutionTimeMS, _ = strconv.ParseFloat(match[1], 64)
	}
	if match := planTimeRe.FindStringSubmatch(plan); match != nil {
		m.PlanningTimeMS, _ = strconv.ParseFloat(match[1], 64)
	}
	if match := buffersRe.FindStringSubmatch(plan); match != nil {
		m.BufferHits, _ = strconv.Atoi(match[1])
		if match[2] != "" {
			m.BufferReads, _ = strconv.Atoi(match[2])
		}
	}
	return m
}
