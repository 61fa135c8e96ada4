package browserd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// axNode is a simplified accessibility node for tree building.
type axNode struct {
	NodeID    string
	ParentID  string
	Role      string
	Name      string
	Value     string
	Focused   bool
	Ignored   bool
	BackendID cdp.BackendNodeID
	Children  []*axNode
}

// rawAXValue is a lenient version of the CDP AXValue type.
// Uses plain strings instead of strict enum types to handle unknown values
// from newer Chrome versions (e.g. PropertyName "uninteresting").
type rawAXValue struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value,omitempty"`
}

// rawAXProperty is a lenient version of the CDP AXProperty type.
type rawAXProperty struct {
	Name  string      `json:"name"`
	Value *rawAXValue `json:"value"`
}

// rawAXNode is a lenient version of the CDP AXNode type.
type rawAXNode struct {
	NodeID           string           `json:"nodeId"`
	Ignored          bool             `json:"ignored"`
	IgnoredReasons   []*rawAXProperty `json:"ignoredReasons,omitempty"`
	Role             *rawAXValue      `json:"role,omitempty"`
	Name             *rawAXValue      `json:"name,omitempty"`
	Properties       []*rawAXProperty `json:"properties,omitempty"`
	ParentID         string           `json:"parentId,omitempty"`
	BackendDOMNodeID int64            `json:"backendDOMNodeId,omitempty"`
}

// rawAXTreeResult is the result of Accessibility.getFullAXTree.
type rawAXTreeResult struct {
	Nodes []rawAXNode `json:"nodes"`
}

// rawAXValueStr extracts a string from a rawAXValue.
func rawAXValueStr(v *rawAXValue) string {
	if v == nil || v.Value == nil {
		return ""
	}
	switch val := v.Value.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", v.Value)
	}
}

// getRawAXTree fetches the full accessibility tree using a raw CDP call.
// This avoids cdproto's strict enum unmarshalling which rejects unknown
// PropertyName values (e.g. "uninteresting") from newer Chrome versions.
func getRawAXTree(ctx context.Context) ([]rawAXNode, error) {
	var result rawAXTreeResult
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, "Accessibility.getFullAXTree", nil, &result)
	})); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// buildAXForest links the flat CDP node list into ordered trees.
func buildAXForest(rawNodes []rawAXNode) []*axNode {
	nodeMap := make(map[string]*axNode, len(rawNodes))
	var roots []*axNode

	for _, n := range rawNodes {
		an := &axNode{
			NodeID:   n.NodeID,
			ParentID: n.ParentID,
			Ignored:  n.Ignored,
			Role:     rawAXValueStr(n.Role),
			Name:     rawAXValueStr(n.Name),
		}
		for _, p := range n.Properties {
			if p == nil || p.Value == nil {
				continue
			}
			switch p.Name {
			case "focused":
				an.Focused = rawAXValueStr(p.Value) == "true"
			case "value":
				an.Value = rawAXValueStr(p.Value)
			}
		}
		if n.BackendDOMNodeID != 0 {
			an.BackendID = cdp.BackendNodeID(n.BackendDOMNodeID)
		}
		nodeMap[n.NodeID] = an
	}

	for _, n := range rawNodes {
		an := nodeMap[n.NodeID]
		if an.ParentID != "" {
			if parent, ok := nodeMap[an.ParentID]; ok {
				parent.Children = append(parent.Children, an)
				continue
			}
		}
		roots = append(roots, an)
	}

	// Sort children by original order (by NodeID for stability).
	var sortChildren func(nodes []*axNode)
	sortChildren = func(nodes []*axNode) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].NodeID < nodes[j].NodeID
		})
		for _, n := range nodes {
			if len(n.Children) > 0 {
				sortChildren(n.Children)
			}
		}
	}
	sortChildren(roots)
	return roots
}

// renderAXForest formats the tree one node per line with @eN references.
// Ignored nodes and InlineTextBox roles are skipped without consuming a
// reference number so renderAXForest and findAXRef always agree.
func renderAXForest(roots []*axNode) string {
	var lines []string
	refCounter := 0
	var traverse func(node *axNode, indent int)
	traverse = func(node *axNode, indent int) {
		if node.Ignored || node.Role == "InlineTextBox" {
			for _, child := range node.Children {
				traverse(child, indent)
			}
			return
		}

		refCounter++
		prefix := strings.Repeat("  ", indent)
		ref := fmt.Sprintf("@e%d", refCounter)
		line := fmt.Sprintf("%s%s [%s]", prefix, ref, node.Role)
		if node.Name != "" {
			line += fmt.Sprintf(" %q", node.Name)
		}
		if node.Value != "" {
			line += fmt.Sprintf(" value=%q", node.Value)
		}
		if node.Focused {
			line += " (focused)"
		}
		lines = append(lines, line)

		for _, child := range node.Children {
			traverse(child, indent+1)
		}
	}

	for _, root := range roots {
		traverse(root, 0)
	}

	if len(lines) == 0 {
		return "No accessibility tree available"
	}
	return strings.Join(lines, "\n")
}

// findAXRef walks the forest in the same pre-order as renderAXForest and
// returns the node that was assigned @e<refNum>.
func findAXRef(roots []*axNode, refNum int) *axNode {
	counter := 0
	var tgt *axNode
	var walk func(n *axNode) bool
	walk = func(n *axNode) bool {
		if !n.Ignored && n.Role != "InlineTextBox" {
			counter++
			if counter == refNum {
				tgt = n
				return true
			}
		}
		for _, child := range n.Children {
			if walk(child) {
				return true
			}
		}
		return false
	}
	for _, root := range roots {
		if walk(root) {
			break
		}
	}
	return tgt
}

// resolveRef resolves an @eN reference against a fresh accessibility tree
// and returns a runtime object id for the backing DOM node. References are
// snapshot-scoped, so the tree is re-fetched on every call.
func resolveRef(ctx context.Context, ref string) (runtime.RemoteObjectID, error) {
	refNum, err := strconv.Atoi(strings.TrimPrefix(ref, "@e"))
	if err != nil || refNum < 1 {
		return "", fmt.Errorf("invalid element ref: %s", ref)
	}

	rawNodes, err := getRawAXTree(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get accessibility tree: %w", err)
	}

	tgt := findAXRef(buildAXForest(rawNodes), refNum)
	if tgt == nil {
		return "", fmt.Errorf("element %s not found", ref)
	}
	if tgt.BackendID == 0 {
		return "", fmt.Errorf("element %s has no DOM node", ref)
	}

	var objID runtime.RemoteObjectID
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(tgt.BackendID).Do(ctx)
		if err != nil {
			return err
		}
		objID = obj.ObjectID
		return nil
	})); err != nil {
		return "", fmt.Errorf("failed to resolve DOM node for %s: %w", ref, err)
	}

	return objID, nil
}

// mapKeyName maps human-friendly key names to the strings chromedp expects.
func mapKeyName(key string) string {
	keyMap := map[string]string{
		"Enter":      "\r",
		"Tab":        "\t",
		"Backspace":  "\b",
		"Escape":     "\x1b",
		"ArrowUp":    "",
		"ArrowDown":  "",
		"ArrowLeft":  "",
		"ArrowRight": "",
		"Delete":     "",
		"Home":       "",
		"End":        "",
		"PageUp":     "",
		"PageDown":   "",
		"Space":      " ",
	}
	if v, ok := keyMap[key]; ok {
		return v
	}
	return key
}
