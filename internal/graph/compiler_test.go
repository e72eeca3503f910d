package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/pvelab/graphtrader/pkg/errors"
)

type CompilerTestSuite struct {
	suite.Suite
}

func TestCompilerSuite(t *testing.T) {
	suite.Run(t, new(CompilerTestSuite))
}

// chainDoc builds a three node document: close -> ma(window) -> signal.
func chainDoc(window int) []byte {
	return fmt.Appendf(nil, `{
		"nodes": [
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1]}]},
			{"id": 2, "type": "custom/indicators/ma",
			 "properties": {"window": %d, "ma_type": "sma"},
			 "inputs": [{"name": "Value", "type": "float", "link": 1}],
			 "outputs": [{"name": "Float", "type": "float", "links": [2]}]},
			{"id": 3, "type": "custom/tools/add_indicator",
			 "properties": {"name": "ma"},
			 "inputs": [{"name": "Value", "type": "float", "link": 2}]}
		],
		"links": [
			[1, 1, 0, 2, 0, "float"],
			[2, 2, 0, 3, 0, "float"]
		]
	}`, window)
}

func (suite *CompilerTestSuite) TestParseStripsPrefixAndDropsOrphans() {
	doc := []byte(`{
		"nodes": [
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1]}]},
			{"id": 2, "type": "custom/logic/if",
			 "inputs": [{"name": "Condition", "type": "bool", "link": 1}]},
			{"id": 9, "type": "custom/set/float", "properties": {"value": 3.5}}
		],
		"links": [[1, 1, 0, 2, 0, "float"]]
	}`)

	g, err := Parse(doc)
	suite.Require().NoError(err)
	suite.Len(g.Nodes, 2, "orphan node 9 must be dropped")
	suite.Equal("get/close", g.Node(1).Type)
	suite.Nil(g.Node(9))
}

func (suite *CompilerTestSuite) TestCompileOrderRespectsLinks() {
	g, err := Parse(chainDoc(3))
	suite.Require().NoError(err)

	plan, err := Compile(g, nil)
	suite.Require().NoError(err)
	suite.Equal([]int{1, 2, 3}, plan.Order)
}

func (suite *CompilerTestSuite) TestCompileOrderIsPermutation() {
	// Diamond: 1 -> {2, 3} -> 4, plus independent node 5.
	doc := []byte(`{
		"nodes": [
			{"id": 5, "type": "custom/get/open", "outputs": [{"name": "Open", "type": "float", "links": [5]}]},
			{"id": 4, "type": "custom/logic/and",
			 "inputs": [{"name": "A", "type": "bool", "link": 3}, {"name": "B", "type": "bool", "link": 4}]},
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1, 2]}]},
			{"id": 2, "type": "custom/logic/not", "inputs": [{"name": "A", "type": "bool", "link": 1}],
			 "outputs": [{"name": "Not", "type": "bool", "links": [3]}]},
			{"id": 3, "type": "custom/logic/not", "inputs": [{"name": "A", "type": "bool", "link": 2}],
			 "outputs": [{"name": "Not", "type": "bool", "links": [4]}]},
			{"id": 6, "type": "custom/trade/is_none", "inputs": [{"name": "Value", "type": "float", "link": 5}]}
		],
		"links": [
			[1, 1, 0, 2, 0, "float"],
			[2, 1, 0, 3, 0, "float"],
			[3, 2, 0, 4, 0, "bool"],
			[4, 3, 0, 4, 1, "bool"],
			[5, 5, 0, 6, 0, "float"]
		]
	}`)

	g, err := Parse(doc)
	suite.Require().NoError(err)

	plan, err := Compile(g, nil)
	suite.Require().NoError(err)
	suite.Len(plan.Order, 6)

	position := make(map[int]int)
	for idx, id := range plan.Order {
		position[id] = idx
	}

	for _, link := range g.Links {
		suite.Less(position[link.Origin], position[link.Target],
			"origin %d must precede target %d", link.Origin, link.Target)
	}
}

func (suite *CompilerTestSuite) TestCompileDeterministic() {
	g1, err := Parse(chainDoc(5))
	suite.Require().NoError(err)
	g2, err := Parse(chainDoc(5))
	suite.Require().NoError(err)

	p1, err := Compile(g1, nil)
	suite.Require().NoError(err)
	p2, err := Compile(g2, nil)
	suite.Require().NoError(err)

	suite.Equal(p1.Order, p2.Order)
}

func (suite *CompilerTestSuite) TestCycleIsFatal() {
	doc := []byte(`{
		"nodes": [
			{"id": 1, "type": "custom/logic/not",
			 "inputs": [{"name": "A", "type": "bool", "link": 2}],
			 "outputs": [{"name": "Not", "type": "bool", "links": [1]}]},
			{"id": 2, "type": "custom/logic/not",
			 "inputs": [{"name": "A", "type": "bool", "link": 1}],
			 "outputs": [{"name": "Not", "type": "bool", "links": [2]}]}
		],
		"links": [
			[1, 1, 0, 2, 0, "bool"],
			[2, 2, 0, 1, 0, "bool"]
		]
	}`)

	g, err := Parse(doc)
	suite.Require().NoError(err)

	plan, err := Compile(g, nil)
	suite.Nil(plan, "no partial plan on cycle")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeCyclicGraph))
}

func (suite *CompilerTestSuite) TestUnknownNodeTypeRejected() {
	g, err := Parse(chainDoc(3))
	suite.Require().NoError(err)

	_, err = Compile(g, func(nodeType string) bool { return nodeType != "indicators/ma" })
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeUnknownNodeType))
}

func (suite *CompilerTestSuite) TestLookbackFromWindowProperty() {
	g, err := Parse(chainDoc(21))
	suite.Require().NoError(err)

	plan, err := Compile(g, nil)
	suite.Require().NoError(err)
	suite.Equal(21, plan.Lookback)
}

func (suite *CompilerTestSuite) TestLookbackFromConnectedConstant() {
	doc := []byte(`{
		"nodes": [
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1]}]},
			{"id": 2, "type": "custom/set/integer", "properties": {"value": 14},
			 "outputs": [{"name": "Integer", "type": "int", "links": [2]}]},
			{"id": 3, "type": "custom/indicators/ma", "properties": {"ma_type": "ema"},
			 "inputs": [
				{"name": "Value", "type": "float", "link": 1},
				{"name": "Window", "type": "int", "link": 2}
			 ],
			 "outputs": [{"name": "Float", "type": "float", "links": [3]}]},
			{"id": 4, "type": "custom/tools/add_indicator", "properties": {"name": "ema"},
			 "inputs": [{"name": "Value", "type": "float", "link": 3}]}
		],
		"links": [
			[1, 1, 0, 3, 0, "float"],
			[2, 2, 0, 3, 1, "int"],
			[3, 3, 0, 4, 0, "float"]
		]
	}`)

	g, err := Parse(doc)
	suite.Require().NoError(err)

	plan, err := Compile(g, nil)
	suite.Require().NoError(err)
	suite.Equal(14, plan.Lookback)
}

func (suite *CompilerTestSuite) TestLookbackFloorIsOne() {
	doc := []byte(`{
		"nodes": [
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1]}]},
			{"id": 2, "type": "custom/tools/add_indicator", "properties": {"name": "close"},
			 "inputs": [{"name": "Value", "type": "float", "link": 1}]}
		],
		"links": [[1, 1, 0, 2, 0, "float"]]
	}`)

	g, err := Parse(doc)
	suite.Require().NoError(err)

	plan, err := Compile(g, nil)
	suite.Require().NoError(err)
	suite.Equal(1, plan.Lookback)
}
