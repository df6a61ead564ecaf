package fakecore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/corelink/internal/protocol"
)

// Codes that script failure modes rather than model commands.
const (
	CodeExit       = "EXIT"
	CodeMismatch   = "MISMATCH"
	CodeGarbage    = "GARBAGE"
	CodeFuture     = "FUTURE"
	CodeStructured = "STRUCT"
)

type graph struct {
	data       []byte
	undo       int
	redo       int
	rewrites   []string
	vertexData map[string]string
	edgeData   map[string]string
}

type model struct {
	theory string
	graphs map[string]*graph
	seq    int
}

var consoleHelp = map[string][2]string{
	"help": {"[COMMAND]", "Lists commands or describes one."},
	"echo": {"TEXT", "Prints TEXT back."},
}

var exportFormats = map[string]bool{
	"native": true, "hilb": true, "mathematica": true, "matlab": true, "tikz": true, "json": true,
}

// Default returns a Core with the console, theory, graph and rewrite commands
// registered against a fresh in-memory model, plus the scripted failure codes.
func Default() *Core {
	c := New(DefaultVersion)
	m := &model{theory: "red_green", graphs: make(map[string]*graph)}

	c.Handle("CC", m.consoleCommand)
	c.Handle("CL", func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &protocol.NameListResponse{Envelope: env(req), Names: sortedKeys(consoleHelp)}, nil
	})
	c.Handle("CH", m.consoleHelp)
	c.Handle("TS", m.setTheory)
	c.Handle("TG", func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &protocol.NameResponse{Envelope: env(req), Name: m.theory}, nil
	})
	c.Handle("GL", func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &protocol.NameListResponse{Envelope: env(req), Names: sortedKeys(m.graphs)}, nil
	})
	c.Handle("GOE", m.openEmpty)
	c.Handle("GOD", m.openFromData)
	c.Handle("GD", m.discard)
	c.Handle("GE", m.export)
	c.Handle("GMU", m.undo)
	c.Handle("GMR", m.redo)
	c.Handle("GMVS", m.setUserData(func(g *graph) *map[string]string { return &g.vertexData }))
	c.Handle("GMES", m.setUserData(func(g *graph) *map[string]string { return &g.edgeData }))
	c.Handle("WA", m.attachRewrites)
	c.Handle("WW", m.applyRewrite)
	c.Handle("WL", m.listRewrites)

	c.Handle(CodeExit, func(protocol.IncomingRequest) (protocol.Response, error) {
		return nil, ErrExit
	})
	c.Handle(CodeMismatch, func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &protocol.OkResponse{Envelope: protocol.Envelope{ID: req.ID + "0"}}, nil
	})
	c.Handle(CodeGarbage, func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &Raw{Envelope: env(req), Bytes: []byte("\x1b<I\x1b:" + req.ID + "\x1b|many\x1b>")}, nil
	})
	c.Handle(CodeFuture, func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &protocol.UnknownResponse{
			Envelope:     env(req),
			ResponseCode: "W",
			Raw:          []byte("\x1b[3\x1b|]\x1b>\x1b]"),
		}, nil
	})
	c.Handle(CodeStructured, func(req protocol.IncomingRequest) (protocol.Response, error) {
		return &protocol.StructuredDataResponse{Envelope: env(req), Raw: []byte("k\x1b;v")}, nil
	})
	return c
}

func (m *model) consoleCommand(req protocol.IncomingRequest) (protocol.Response, error) {
	if len(req.Args) != 1 || req.Args[0].Kind != protocol.ArgChunk {
		return BadArgs(req, "CC expects one data chunk"), nil
	}
	line := strings.TrimSpace(string(req.Args[0].Data))
	name, rest, _ := strings.Cut(line, " ")
	switch name {
	case "help":
		return &protocol.ConsoleResponse{Envelope: env(req), Output: strings.Join(sortedKeys(consoleHelp), "\n")}, nil
	case "echo":
		return &protocol.ConsoleResponse{Envelope: env(req), Output: rest}, nil
	default:
		return &protocol.ConsoleResponse{Envelope: env(req), Output: fmt.Sprintf("!!! Unknown command %q", name)}, nil
	}
}

func (m *model) consoleHelp(req protocol.IncomingRequest) (protocol.Response, error) {
	args, ok := stringArgs(req, 1)
	if !ok {
		return BadArgs(req, "CH expects one command name"), nil
	}
	h, found := consoleHelp[args[0]]
	if !found {
		return Fail(req, "NOSUCHCOMMAND", "no console command named %q", args[0]), nil
	}
	return &protocol.ConsoleHelpResponse{Envelope: env(req), Args: h[0], Help: h[1]}, nil
}

func (m *model) setTheory(req protocol.IncomingRequest) (protocol.Response, error) {
	args, ok := stringArgs(req, 1)
	if !ok {
		return BadArgs(req, "TS expects one theory name"), nil
	}
	m.theory = args[0]
	return Ok(req), nil
}

func (m *model) openEmpty(req protocol.IncomingRequest) (protocol.Response, error) {
	suggested := ""
	if len(req.Args) > 0 {
		args, ok := stringArgs(req, 1)
		if !ok {
			return BadArgs(req, "GOE takes at most one name"), nil
		}
		suggested = args[0]
	}
	name := m.fresh(suggested)
	m.graphs[name] = &graph{}
	return &protocol.NameResponse{Envelope: env(req), Name: name}, nil
}

func (m *model) openFromData(req protocol.IncomingRequest) (protocol.Response, error) {
	if len(req.Args) != 2 || req.Args[0].Kind != protocol.ArgString || req.Args[1].Kind != protocol.ArgChunk {
		return BadArgs(req, "GOD expects a name and a data chunk"), nil
	}
	name := m.fresh(req.Args[0].Text)
	m.graphs[name] = &graph{data: append([]byte(nil), req.Args[1].Data...)}
	return &protocol.NameResponse{Envelope: env(req), Name: name}, nil
}

func (m *model) discard(req protocol.IncomingRequest) (protocol.Response, error) {
	g, name, resp := m.lookup(req, 1)
	if g == nil {
		return resp, nil
	}
	delete(m.graphs, name)
	return Ok(req), nil
}

func (m *model) export(req protocol.IncomingRequest) (protocol.Response, error) {
	g, name, resp := m.lookup(req, 2)
	if g == nil {
		return resp, nil
	}
	format := req.Args[1].Text
	if !exportFormats[format] {
		return Fail(req, "BADFORMAT", "unknown export format %q", format), nil
	}
	switch format {
	case "native":
		return &protocol.RawDataResponse{Envelope: env(req), Data: g.data}, nil
	case "json":
		payload, err := json.Marshal(map[string]any{
			"name":        name,
			"bytes":       len(g.data),
			"rewrites":    g.rewrites,
			"vertex_data": g.vertexData,
			"edge_data":   g.edgeData,
		})
		if err != nil {
			return nil, err
		}
		return &protocol.JSONResponse{Envelope: env(req), Data: payload}, nil
	default:
		return &protocol.RawDataResponse{Envelope: env(req), Data: []byte(format + ":" + name)}, nil
	}
}

func (m *model) undo(req protocol.IncomingRequest) (protocol.Response, error) {
	g, _, resp := m.lookup(req, 1)
	if g == nil {
		return resp, nil
	}
	if g.undo == 0 {
		return Fail(req, "NOUNDO", "nothing to undo"), nil
	}
	g.undo--
	g.redo++
	return Ok(req), nil
}

func (m *model) redo(req protocol.IncomingRequest) (protocol.Response, error) {
	g, _, resp := m.lookup(req, 1)
	if g == nil {
		return resp, nil
	}
	if g.redo == 0 {
		return Fail(req, "NOREDO", "nothing to redo"), nil
	}
	g.redo--
	g.undo++
	return Ok(req), nil
}

// setUserData handles GMVS and GMES: a graph name, an element name and a
// tagged chunk carrying the data.
func (m *model) setUserData(target func(*graph) *map[string]string) Handler {
	return func(req protocol.IncomingRequest) (protocol.Response, error) {
		if len(req.Args) != 3 ||
			req.Args[0].Kind != protocol.ArgString ||
			req.Args[1].Kind != protocol.ArgString ||
			req.Args[2].Kind != protocol.ArgTaggedChunk {
			return BadArgs(req, "%s expects a graph, an element and a tagged chunk", req.Code), nil
		}
		if tag := req.Args[2].Tag; tag != 'N' {
			return BadArgs(req, "unsupported user data tag %q", tag), nil
		}
		g, ok := m.graphs[req.Args[0].Text]
		if !ok {
			return Fail(req, "NOSUCHGRAPH", "no graph named %q", req.Args[0].Text), nil
		}
		data := target(g)
		if *data == nil {
			*data = make(map[string]string)
		}
		(*data)[req.Args[1].Text] = string(req.Args[2].Data)
		return Ok(req), nil
	}
}

func (m *model) attachRewrites(req protocol.IncomingRequest) (protocol.Response, error) {
	if len(req.Args) != 2 || req.Args[0].Kind != protocol.ArgString || req.Args[1].Kind != protocol.ArgList {
		return BadArgs(req, "WA expects a graph name and a vertex list"), nil
	}
	g, ok := m.graphs[req.Args[0].Text]
	if !ok {
		return Fail(req, "NOSUCHGRAPH", "no graph named %q", req.Args[0].Text), nil
	}
	g.rewrites = g.rewrites[:0]
	for _, v := range req.Args[1].Items {
		g.rewrites = append(g.rewrites, "rw-"+v)
	}
	return &protocol.CountResponse{Envelope: env(req), Count: len(g.rewrites)}, nil
}

func (m *model) applyRewrite(req protocol.IncomingRequest) (protocol.Response, error) {
	g, _, resp := m.lookup(req, 2)
	if g == nil {
		return resp, nil
	}
	offset, err := strconv.Atoi(req.Args[1].Text)
	if err != nil || offset < 0 || offset >= len(g.rewrites) {
		return BadArgs(req, "rewrite offset %q out of range", req.Args[1].Text), nil
	}
	g.rewrites = nil
	g.undo++
	g.redo = 0
	return Ok(req), nil
}

func (m *model) listRewrites(req protocol.IncomingRequest) (protocol.Response, error) {
	g, _, resp := m.lookup(req, 2)
	if g == nil {
		return resp, nil
	}
	var b strings.Builder
	b.WriteString("<rewrites>")
	for _, rw := range g.rewrites {
		fmt.Fprintf(&b, "<rewrite name=%q/>", rw)
	}
	b.WriteString("</rewrites>")
	return &protocol.XMLResponse{Envelope: env(req), XML: b.String()}, nil
}

// lookup checks for exactly n string arguments, the first naming a graph.
func (m *model) lookup(req protocol.IncomingRequest, n int) (*graph, string, protocol.Response) {
	args, ok := stringArgs(req, n)
	if !ok {
		return nil, "", BadArgs(req, "%s expects %d string arguments", req.Code, n)
	}
	g, found := m.graphs[args[0]]
	if !found {
		return nil, "", Fail(req, "NOSUCHGRAPH", "no graph named %q", args[0])
	}
	return g, args[0], nil
}

func (m *model) fresh(suggested string) string {
	if suggested == "" {
		suggested = "graph"
	}
	name := suggested
	for {
		if _, taken := m.graphs[name]; !taken {
			return name
		}
		m.seq++
		name = suggested + "-" + strconv.Itoa(m.seq)
	}
}

func stringArgs(req protocol.IncomingRequest, n int) ([]string, bool) {
	if len(req.Args) != n {
		return nil, false
	}
	out := make([]string, n)
	for i, a := range req.Args {
		if a.Kind != protocol.ArgString {
			return nil, false
		}
		out[i] = a.Text
	}
	return out, true
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
