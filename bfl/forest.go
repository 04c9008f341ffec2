package bfl

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//NodeID identifies one node in the forest arena. IDs are opaque to the
//trainer and assigned on creation.
type NodeID int

const noChild NodeID = -1

//ForestNode is one arena slot. A leaf has no rule and both children set to
//-1; an interior node carries the installed rule and the two edge
//predictors feeding its children.
type ForestNode struct {
	Rule     SplitRule
	Edges    [2]EdgePredictor
	Children [2]NodeID
}

//IsLeaf reports whether the node has not been split.
func (n ForestNode) IsLeaf() bool {
	return n.Children[0] == noChild
}

//ForestModel is the model surface the trainer drives. It owns node
//identities, tree topology and the global bias; the trainer only calls in.
type ForestModel interface {
	NewRootID() NodeID
	ChildID(interiorIndex, pos int) NodeID
	Split(id NodeID, rule SplitRule, edges [2]EdgePredictor) (int, error)
	AddToBias(value float64)
	Predict(features []float64) float64
}

//Forest is the shipped arena-backed model: nodes indexed by integer ID, one
//root per boosting round, and a global bias. Prediction is the bias plus
//the edge outputs along each tree's branch path.
type Forest struct {
	Bias      float64
	Nodes     []ForestNode
	Roots     []NodeID
	Interiors []NodeID
}

func NewForest() *Forest {
	return &Forest{}
}

func (f *Forest) newLeaf() NodeID {
	id := NodeID(len(f.Nodes))
	f.Nodes = append(f.Nodes, ForestNode{Children: [2]NodeID{noChild, noChild}})
	return id
}

//NewRootID starts a new tree and returns its root node.
func (f *Forest) NewRootID() NodeID {
	id := f.newLeaf()
	f.Roots = append(f.Roots, id)
	return id
}

//Split turns the leaf id into an interior node carrying the given rule and
//edge predictors, creates its two children, and returns the interior-node
//index used to address them.
func (f *Forest) Split(id NodeID, rule SplitRule, edges [2]EdgePredictor) (int, error) {
	if id < 0 || int(id) >= len(f.Nodes) {
		return 0, fmt.Errorf("split of unknown node %d", id)
	}
	if !f.Nodes[id].IsLeaf() {
		return 0, fmt.Errorf("node %d is already split", id)
	}
	c0, c1 := f.newLeaf(), f.newLeaf()
	f.Nodes[id] = ForestNode{Rule: rule, Edges: edges, Children: [2]NodeID{c0, c1}}
	f.Interiors = append(f.Interiors, id)
	return len(f.Interiors) - 1, nil
}

//ChildID resolves one child of an interior node by its split index.
func (f *Forest) ChildID(interiorIndex, pos int) NodeID {
	return f.Nodes[f.Interiors[interiorIndex]].Children[pos]
}

//AddToBias shifts the global bias.
func (f *Forest) AddToBias(value float64) {
	f.Bias += value
}

//Predict accumulates the bias and the edge outputs along the branch path of
//every tree.
func (f *Forest) Predict(features []float64) float64 {
	out := f.Bias
	for _, root := range f.Roots {
		id := root
		for !f.Nodes[id].IsLeaf() {
			node := f.Nodes[id]
			branch := node.Rule.Branch(features)
			out += node.Edges[branch].Predict(features)
			id = node.Children[branch]
		}
	}
	return out
}

//PredictTree accumulates the edge outputs along the branch path of a single
//tree, without the bias. Summing PredictTree over all roots and adding the
//bias reproduces Predict; the per-tree form drives learning-curve replay.
func (f *Forest) PredictTree(treeIndex int, features []float64) float64 {
	out := 0.0
	id := f.Roots[treeIndex]
	for !f.Nodes[id].IsLeaf() {
		node := f.Nodes[id]
		branch := node.Rule.Branch(features)
		out += node.Edges[branch].Predict(features)
		id = node.Children[branch]
	}
	return out
}

//nodeDTO is the persisted form of one arena slot. Only the rule and
//predictor types shipped with this package round-trip.
type nodeDTO struct {
	Rule     *ThresholdRule    `json:"rule,omitempty"`
	Edges    [2]*MeanPredictor `json:"edges,omitempty"`
	Children [2]NodeID         `json:"children"`
}

type forestDTO struct {
	Bias      float64   `json:"bias"`
	Nodes     []nodeDTO `json:"nodes"`
	Roots     []NodeID  `json:"roots"`
	Interiors []NodeID  `json:"interiors"`
}

func (f *Forest) toDTO() (*forestDTO, error) {
	dto := &forestDTO{Bias: f.Bias, Roots: f.Roots, Interiors: f.Interiors}
	for id, node := range f.Nodes {
		out := nodeDTO{Children: node.Children}
		if !node.IsLeaf() {
			rule, ok := node.Rule.(ThresholdRule)
			if !ok {
				return nil, fmt.Errorf("node %d: rule %T is not serializable", id, node.Rule)
			}
			out.Rule = &rule
			for pos, edge := range node.Edges {
				pred, ok := edge.(MeanPredictor)
				if !ok {
					return nil, fmt.Errorf("node %d: predictor %T is not serializable", id, edge)
				}
				out.Edges[pos] = &pred
			}
		}
		dto.Nodes = append(dto.Nodes, out)
	}
	return dto, nil
}

func (dto *forestDTO) toForest() *Forest {
	f := &Forest{Bias: dto.Bias, Roots: dto.Roots, Interiors: dto.Interiors}
	for _, in := range dto.Nodes {
		node := ForestNode{Children: in.Children}
		if in.Rule != nil {
			node.Rule = *in.Rule
			for pos, pred := range in.Edges {
				if pred != nil {
					node.Edges[pos] = *pred
				}
			}
		}
		f.Nodes = append(f.Nodes, node)
	}
	return f
}

//Save writes the forest as indented JSON.
func (f *Forest) Save(fileName string) error {
	dto, err := f.toDTO()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(dto, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, raw, 0o644)
}

//LoadForest reads a forest saved by Save.
func LoadForest(fileName string) (*Forest, error) {
	raw, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	var dto forestDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("load %s: %w", fileName, err)
	}
	return dto.toForest(), nil
}

func (f *Forest) recurrentDraw(g *cgraph.Graph, id NodeID, parent *cgraph.Node, edgeLabel string) error {
	node := f.Nodes[id]
	current, err := g.CreateNode(fmt.Sprint(id))
	if err != nil {
		return err
	}

	if parent != nil {
		edge, err := g.CreateEdge("", parent, current)
		if err != nil {
			return err
		}
		edge.SetLabel(edgeLabel)
	}

	if node.IsLeaf() {
		current.Set("label", fmt.Sprintf("leaf %d", id))
		current.Set("shape", "box")
		return nil
	}

	current.Set("label", fmt.Sprintf("id: %d\n%v", id, node.Rule))
	for pos := 0; pos < 2; pos++ {
		label := fmt.Sprintf("%v", node.Edges[pos])
		if err := f.recurrentDraw(g, node.Children[pos], current, label); err != nil {
			return err
		}
	}
	return nil
}

//DrawGraph renders one tree of the forest as a graphviz graph.
func (f *Forest) DrawGraph(treeIndex int) (*graphviz.Graphviz, *cgraph.Graph, error) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	if err != nil {
		return nil, nil, err
	}
	if err := f.recurrentDraw(graph, f.Roots[treeIndex], nil, ""); err != nil {
		return nil, nil, err
	}
	return graphViz, graph, nil
}

//RenderTrees renders every tree of the forest into picturesDirectory.
func (f *Forest) RenderTrees(dumpPrefix, figureType, picturesDirectory string) error {
	graphvizType, ok := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]
	if !ok {
		return fmt.Errorf("unknown figure type %q", figureType)
	}

	for treeIndex := range f.Roots {
		fileName := fmt.Sprintf("%s_%05d.%s", dumpPrefix, treeIndex, figureType)
		graphViz, graph, err := f.DrawGraph(treeIndex)
		if err != nil {
			return err
		}
		if err := graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, fileName)); err != nil {
			return err
		}
	}
	return nil
}
