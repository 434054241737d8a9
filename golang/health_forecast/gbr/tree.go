package gbr

import (
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

//Node is an element of the flat node array of a Tree. Split nodes point to their children by
//array index; terminal nodes have Left = Right = -1 and point into Tree.Leaves by LeafIndex.
type Node struct {
	ID        int     `json:"id"`
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	LeafIndex int     `json:"leaf"`
	Rows      int     `json:"rows"`
	Loss      float64 `json:"loss"`
	Gain      float64 `json:"gain"`
}

func terminalNode(id, leafIndex, rows int) Node {
	return Node{ID: id, Feature: -1, Left: -1, Right: -1, LeafIndex: leafIndex, Rows: rows}
}

func splitNode(split BestSplit, id int) Node {
	return Node{
		ID:        id,
		Feature:   split.featureIndex,
		Threshold: split.threshold,
		Left:      -1,
		Right:     -1,
		LeafIndex: -1,
		Rows:      split.numberOfObjects,
		Loss:      split.currentValue,
		Gain:      split.currentValue - split.bestValue,
	}
}

func (node Node) IsLeaf() bool {
	return node.LeafIndex >= 0
}

func (node Node) label() string {
	return fmt.Sprintf("f_%d < %.5f\nrows %d\ngain %.4g", node.Feature, node.Threshold, node.Rows, node.Gain)
}

//Leaf keeps the already shrunken value a terminal node adds to the prediction.
type Leaf struct {
	ID    int     `json:"id"`
	Value float64 `json:"value"`
	Rows  int     `json:"rows"`
}

func newLeaf(weight float64, rows int, learningRate float64) Leaf {
	return Leaf{ID: -1, Value: weight * learningRate, Rows: rows}
}

func (leaf Leaf) label() string {
	return fmt.Sprintf("%.4f\nrows %d", leaf.Value, leaf.Rows)
}

//Tree is one boosting stage. Curve holds the RMSE of every monitor after this stage.
type Tree struct {
	Nodes  []Node    `json:"nodes"`
	Leaves []Leaf    `json:"leaves"`
	Curve  []float64 `json:"curve,omitempty"`
}

//NewTree grows a tree on the Newton statistics of the current bias. The root starts as a leaf
//holding the step for all rows and is split while that reduces the loss.
func NewTree(matrix Matrix, bias *mat.Dense, params BoosterParams) Tree {
	der1, der2 := derivatives(matrix, bias, params.LossKind)
	grad, hess := 0.0, 0.0
	for p := range der1 {
		grad += der1[p]
		hess += der2[p]
	}
	weight, _ := newtonStep(grad, hess, params.RegLambda)

	var tree Tree
	tree.grow(matrix, bias, newLeaf(weight, Height(matrix.Features), params.LearningRate), params, 0)
	return tree
}

//grow appends the subtree for matrix and returns the index of its top node.
func (tree *Tree) grow(matrix Matrix, bias *mat.Dense, leaf Leaf, params BoosterParams, depth int) int {
	if depth < params.MaxDepth && Height(matrix.Features) >= 2*params.MinLeafSize {
		if split := TheBestSplit(matrix, bias, params); split != nil {
			if left, right, leftBias, rightBias, ok := matrix.Split(bias, *split); ok {
				id := len(tree.Nodes)
				tree.Nodes = append(tree.Nodes, splitNode(*split, id))
				leftID := tree.grow(left, leftBias, newLeaf(split.deltaUp, Height(left.Features), params.LearningRate), params, depth+1)
				rightID := tree.grow(right, rightBias, newLeaf(split.deltaDown, Height(right.Features), params.LearningRate), params, depth+1)
				tree.Nodes[id].Left, tree.Nodes[id].Right = leftID, rightID
				return id
			}
		}
	}

	id := len(tree.Nodes)
	leaf.ID = len(tree.Leaves)
	tree.Nodes = append(tree.Nodes, terminalNode(id, leaf.ID, leaf.Rows))
	tree.Leaves = append(tree.Leaves, leaf)
	return id
}

func (tree Tree) PredictRow(row []float64) float64 {
	if len(tree.Nodes) == 0 {
		return 0
	}
	node := tree.Nodes[0]
	for !node.IsLeaf() {
		if row[node.Feature] < node.Threshold {
			node = tree.Nodes[node.Left]
		} else {
			node = tree.Nodes[node.Right]
		}
	}
	return tree.Leaves[node.LeafIndex].Value
}

//PredictValue returns the contribution of the tree as an h x 1 matrix.
func (tree Tree) PredictValue(features *mat.Dense) *mat.Dense {
	h := Height(features)
	prediction := mat.NewDense(h, 1, nil)
	for p := 0; p < h; p++ {
		prediction.Set(p, 0, tree.PredictRow(features.RawRowView(p)))
	}
	return prediction
}

func (tree Tree) draw(g *cgraph.Graph, index int, parent *cgraph.Node) error {
	node := tree.Nodes[index]
	current, err := g.CreateNode(fmt.Sprint(node.ID))
	if err != nil {
		return errors.Wrap(err, "create node")
	}
	if parent != nil {
		if _, err := g.CreateEdge("", parent, current); err != nil {
			return errors.Wrap(err, "create edge")
		}
	}

	if node.IsLeaf() {
		current.Set("label", tree.Leaves[node.LeafIndex].label())
		current.Set("shape", "box")
		return nil
	}
	current.Set("label", node.label())
	if err := tree.draw(g, node.Left, current); err != nil {
		return err
	}
	return tree.draw(g, node.Right, current)
}

//DrawGraph lays the tree out as a graphviz graph. The caller closes both returned values.
func (tree Tree) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph, error) {
	gv := graphviz.New()
	graph, err := gv.Graph()
	if err != nil {
		gv.Close()
		return nil, nil, errors.Wrap(err, "new graph")
	}
	if len(tree.Nodes) > 0 {
		if err := tree.draw(graph, 0, nil); err != nil {
			graph.Close()
			gv.Close()
			return nil, nil, err
		}
	}
	return gv, graph, nil
}
