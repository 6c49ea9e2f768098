package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"claimscore/internal/schema"
)

// dumpNode is one node of an XGBoost JSON dump. Split nodes carry split,
// split_condition, yes, no, missing and children; leaves carry leaf.
type dumpNode struct {
	NodeID         int         `json:"nodeid"`
	Split          string      `json:"split"`
	SplitCondition float64     `json:"split_condition"`
	Yes            int         `json:"yes"`
	No             int         `json:"no"`
	Missing        int         `json:"missing"`
	Leaf           *float64    `json:"leaf"`
	Children       []*dumpNode `json:"children"`
}

type treeNode struct {
	leaf    bool
	value   float64
	feature int
	cond    float64
	yes     int
	no      int
	missing int
}

// tree is indexed by node id.
type tree []treeNode

// Trees is a gradient-boosted ensemble for binary logistic output:
//
//	margin = logit(base_score) + Σ leaf
//	label  = sigmoid(margin) >= threshold
//
// At a split, x < split_condition goes to yes, otherwise no, and NaN goes
// to missing.
type Trees struct {
	trees      []tree
	baseMargin float64
	threshold  float64
	width      int
}

// LoadTrees decodes an XGBoost dump_model(..., dump_format="json") array.
// Split features may be schema column names or positional "f<i>" names.
// baseScore 0 means the XGBoost default of 0.5.
func LoadTrees(r io.Reader, s *schema.Schema, baseScore, threshold float64) (*Trees, error) {
	if baseScore == 0 {
		baseScore = 0.5
	}
	if baseScore <= 0 || baseScore >= 1 {
		return nil, &ArtifactError{Reason: fmt.Sprintf("base_score %v outside (0, 1)", baseScore)}
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, &ArtifactError{Reason: fmt.Sprintf("threshold %v outside (0, 1)", threshold)}
	}

	var roots []*dumpNode
	if err := json.NewDecoder(r).Decode(&roots); err != nil {
		return nil, &ArtifactError{Reason: "decode: " + err.Error()}
	}
	if len(roots) == 0 {
		return nil, &ArtifactError{Reason: "no trees"}
	}

	m := &Trees{
		trees:      make([]tree, 0, len(roots)),
		baseMargin: logit(baseScore),
		threshold:  threshold,
		width:      s.Len(),
	}
	for i, root := range roots {
		t, err := compileTree(root, s)
		if err != nil {
			return nil, &ArtifactError{Reason: fmt.Sprintf("tree %d: %v", i, err)}
		}
		m.trees = append(m.trees, t)
	}
	return m, nil
}

func compileTree(root *dumpNode, s *schema.Schema) (tree, error) {
	if root == nil {
		return nil, fmt.Errorf("empty tree")
	}
	flat := map[int]*dumpNode{}
	maxID := 0
	var walk func(n *dumpNode) error
	walk = func(n *dumpNode) error {
		if _, dup := flat[n.NodeID]; dup {
			return fmt.Errorf("duplicate node id %d", n.NodeID)
		}
		if n.NodeID < 0 {
			return fmt.Errorf("negative node id %d", n.NodeID)
		}
		flat[n.NodeID] = n
		if n.NodeID > maxID {
			maxID = n.NodeID
		}
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}

	t := make(tree, maxID+1)
	for id, n := range flat {
		if n.Leaf != nil {
			t[id] = treeNode{leaf: true, value: *n.Leaf}
			continue
		}
		feat, err := resolveFeature(n.Split, s)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		for _, child := range []int{n.Yes, n.No, n.Missing} {
			if _, ok := flat[child]; !ok {
				return nil, fmt.Errorf("node %d: child %d not in tree", id, child)
			}
		}
		t[id] = treeNode{feature: feat, cond: n.SplitCondition, yes: n.Yes, no: n.No, missing: n.Missing}
	}
	if _, ok := flat[0]; !ok {
		return nil, fmt.Errorf("no root node 0")
	}
	return t, nil
}

func resolveFeature(name string, s *schema.Schema) (int, error) {
	if i := s.Index(name); i >= 0 {
		return i, nil
	}
	if rest, ok := strings.CutPrefix(name, "f"); ok {
		if i, err := strconv.Atoi(rest); err == nil && i >= 0 && i < s.Len() {
			return i, nil
		}
	}
	return 0, fmt.Errorf("split feature %q is not a schema column", name)
}

func (t tree) score(row []float64) float64 {
	id := 0
	for steps := 0; steps <= len(t); steps++ {
		n := t[id]
		if n.leaf {
			return n.value
		}
		v := row[n.feature]
		switch {
		case math.IsNaN(v):
			id = n.missing
		case v < n.cond:
			id = n.yes
		default:
			id = n.no
		}
	}
	// Unreachable for a well-formed dump; a cycle scores nothing.
	return 0
}

// Margin returns the raw ensemble score of row.
func (m *Trees) Margin(row []float64) float64 {
	sum := m.baseMargin
	for _, t := range m.trees {
		sum += t.score(row)
	}
	return sum
}

// PredictProba returns the fraud probability of each row.
func (m *Trees) PredictProba(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = sigmoid(m.Margin(row))
	}
	return out
}

// Predict implements gate.Classifier.
func (m *Trees) Predict(ctx context.Context, X [][]float64) ([]int, error) {
	if err := checkWidth(X, m.width); err != nil {
		return nil, err
	}
	out := make([]int, len(X))
	for i, row := range X {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if sigmoid(m.Margin(row)) >= m.threshold {
			out[i] = 1
		}
	}
	return out, nil
}
