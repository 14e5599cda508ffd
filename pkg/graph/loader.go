package graph

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/ufo-core/pkg/task"
	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
)

// nodeSpec and edgeSpec mirror the JSON graph document this loader reads:
// { "nodes": [{"name","plugin","properties":{...}}, ...],
//   "edges":  [{"from","to","port"}, ...] }. Parsing this document is the
// only part of graph serialisation this module owns; a disk-backed plugin
// registry and schema validation live outside this package.
type nodeSpec struct {
	Name       string                 `json:"name"`
	Plugin     string                 `json:"plugin"`
	Properties map[string]interface{} `json:"properties"`
}

type edgeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
	Port int    `json:"port"`
}

type graphSpec struct {
	Nodes []nodeSpec `json:"nodes"`
	Edges []edgeSpec `json:"edges"`
}

// PluginFactory builds a task.Node from a node's name and JSON properties.
type PluginFactory func(name string, properties map[string]interface{}) (task.Node, error)

// Loader turns a JSON graph document into a *Graph, instantiating each
// node through a registered plugin factory.
type Loader struct {
	plugins map[string]PluginFactory
}

// NewLoader creates a Loader pre-registered with this module's built-in
// task plugins (dummy, add_one, reconstruct). Callers add more with
// Register before calling Load.
func NewLoader() *Loader {
	l := &Loader{plugins: make(map[string]PluginFactory)}
	l.Register("dummy", newDummyPlugin)
	l.Register("add_one", newAddOnePlugin)
	l.Register("reconstruct", newReconstructPlugin)
	return l
}

// Register adds or replaces the factory used for a plugin name.
func (l *Loader) Register(plugin string, factory PluginFactory) {
	l.plugins[plugin] = factory
}

// Load parses data into a Graph: one node per spec, wired according to
// edges. The produced graph must have exactly one root and one leaf for
// the daemon's stream_json splicing; Load itself only
// enforces that the document is well-formed and acyclic, leaving the
// root/leaf cardinality check to the caller since replicate_json does not
// require it.
func (l *Loader) Load(data []byte) (*Graph, error) {
	var spec graphSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, ufoerr.Wrap(ufoerr.KindGraphInvalid, "parse graph json", err)
	}

	g := New()
	nodes := make(map[string]*Node, len(spec.Nodes))
	for _, ns := range spec.Nodes {
		factory, ok := l.plugins[ns.Plugin]
		if !ok {
			return nil, ufoerr.New(ufoerr.KindGraphInvalid, fmt.Sprintf("unknown plugin %q for node %q", ns.Plugin, ns.Name))
		}
		t, err := factory(ns.Name, ns.Properties)
		if err != nil {
			return nil, ufoerr.Wrap(ufoerr.KindGraphInvalid, fmt.Sprintf("instantiate node %q", ns.Name), err)
		}
		nodes[ns.Name] = g.AddNode(t)
	}

	for _, es := range spec.Edges {
		src, ok := nodes[es.From]
		if !ok {
			return nil, ufoerr.New(ufoerr.KindGraphInvalid, fmt.Sprintf("edge references unknown node %q", es.From))
		}
		dst, ok := nodes[es.To]
		if !ok {
			return nil, ufoerr.New(ufoerr.KindGraphInvalid, fmt.Sprintf("edge references unknown node %q", es.To))
		}
		if _, err := g.Connect(src, dst, es.Port, 0); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func newDummyPlugin(name string, properties map[string]interface{}) (task.Node, error) {
	if _, ok := properties["width"]; !ok {
		return task.NewDummy(name), nil
	}
	width, err := intProperty(properties, "width")
	if err != nil {
		return nil, fmt.Errorf("dummy node %q: %w", name, err)
	}
	height, err := intProperty(properties, "height")
	if err != nil {
		return nil, fmt.Errorf("dummy node %q: %w", name, err)
	}
	depth := 0
	if v, ok := properties["depth"]; ok {
		depth, err = asInt(v)
		if err != nil {
			return nil, fmt.Errorf("dummy node %q: depth: %w", name, err)
		}
	}
	return task.NewDummyWithDims(name, types.Dims{Width: width, Height: height, Depth: depth}), nil
}

func newAddOnePlugin(name string, properties map[string]interface{}) (task.Node, error) {
	programPath, _ := properties["program_path"].(string)
	if programPath == "" {
		return nil, fmt.Errorf("add_one node %q missing required property program_path", name)
	}
	return task.NewAddOne(name, programPath), nil
}

func newReconstructPlugin(name string, properties map[string]interface{}) (task.Node, error) {
	dims, err := dimsFromProperties(properties)
	if err != nil {
		return nil, fmt.Errorf("reconstruct node %q: %w", name, err)
	}
	return task.NewReconstruct(name, dims), nil
}

func dimsFromProperties(properties map[string]interface{}) (types.Dims, error) {
	width, err := intProperty(properties, "slice_width")
	if err != nil {
		return types.Dims{}, err
	}
	height, err := intProperty(properties, "slice_height")
	if err != nil {
		return types.Dims{}, err
	}
	depth := 0
	if v, ok := properties["slice_depth"]; ok {
		depth, err = asInt(v)
		if err != nil {
			return types.Dims{}, fmt.Errorf("slice_depth: %w", err)
		}
	}
	return types.Dims{Width: width, Height: height, Depth: depth}, nil
}

func intProperty(properties map[string]interface{}, key string) (int, error) {
	v, ok := properties[key]
	if !ok {
		return 0, fmt.Errorf("missing required property %s", key)
	}
	n, err := asInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func asInt(v interface{}) (int, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	return int(f), nil
}
