package core

import (
	"context"
	"fmt"

	"github.com/danmuck/corelink/internal/protocol"
)

// Request codes understood by the core.
const (
	CmdConsole        = "CC"
	CmdConsoleList    = "CL"
	CmdConsoleHelp    = "CH"
	CmdTheorySet      = "TS"
	CmdTheoryGet      = "TG"
	CmdGraphList      = "GL"
	CmdGraphOpenEmpty = "GOE"
	CmdGraphOpenData  = "GOD"
	CmdGraphDiscard   = "GD"
	CmdGraphExport    = "GE"
	CmdGraphUndo      = "GMU"
	CmdGraphRedo      = "GMR"
	CmdVertexSetData  = "GMVS"
	CmdEdgeSetData    = "GMES"
	CmdRewriteAttach  = "WA"
	CmdRewriteApply   = "WW"
	CmdRewriteList    = "WL"
)

// UserDataTag marks a tagged chunk holding user data attached to a vertex or
// edge.
const UserDataTag byte = 'N'

// ExportFormat selects the GE output encoding.
type ExportFormat string

const (
	ExportNative      ExportFormat = "native"
	ExportHilbert     ExportFormat = "hilb"
	ExportMathematica ExportFormat = "mathematica"
	ExportMatlab      ExportFormat = "matlab"
	ExportTikz        ExportFormat = "tikz"
)

func (c *Conn) ConsoleCommand(ctx context.Context, line string) (string, error) {
	return c.Console(ctx, CmdConsole, protocol.ChunkString(line))
}

func (c *Conn) ConsoleCommandList(ctx context.Context) ([]string, error) {
	return c.NameList(ctx, CmdConsoleList)
}

// ConsoleCommandHelp returns the argument synopsis and help text of a console
// command.
func (c *Conn) ConsoleCommandHelp(ctx context.Context, command string) (string, string, error) {
	return c.ConsoleHelp(ctx, CmdConsoleHelp, protocol.String(command))
}

func (c *Conn) ChangeTheory(ctx context.Context, theory string) error {
	return c.Ok(ctx, CmdTheorySet, protocol.String(theory))
}

func (c *Conn) CurrentTheory(ctx context.Context) (string, error) {
	return c.Name(ctx, CmdTheoryGet)
}

func (c *Conn) ListGraphs(ctx context.Context) ([]string, error) {
	return c.NameList(ctx, CmdGraphList)
}

// LoadEmptyGraph opens a new graph. The core may pick a different name than
// suggested; an empty suggestion lets it choose.
func (c *Conn) LoadEmptyGraph(ctx context.Context, suggested string) (string, error) {
	if suggested == "" {
		return c.Name(ctx, CmdGraphOpenEmpty)
	}
	return c.Name(ctx, CmdGraphOpenEmpty, protocol.String(suggested))
}

func (c *Conn) LoadGraphFromData(ctx context.Context, suggested string, data []byte) (string, error) {
	return c.Name(ctx, CmdGraphOpenData, protocol.String(suggested), protocol.Chunk(data))
}

func (c *Conn) DiscardGraph(ctx context.Context, graph string) error {
	return c.Ok(ctx, CmdGraphDiscard, protocol.String(graph))
}

func (c *Conn) SaveGraphToData(ctx context.Context, graph string) ([]byte, error) {
	return c.RawData(ctx, CmdGraphExport, protocol.String(graph), protocol.String(string(ExportNative)))
}

func (c *Conn) ExportGraph(ctx context.Context, graph string, format ExportFormat) (string, error) {
	switch format {
	case ExportHilbert, ExportMathematica, ExportMatlab, ExportTikz:
	default:
		return "", fmt.Errorf("core: unsupported export format %q", format)
	}
	data, err := c.RawData(ctx, CmdGraphExport, protocol.String(graph), protocol.String(string(format)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Conn) Undo(ctx context.Context, graph string) error {
	return c.Ok(ctx, CmdGraphUndo, protocol.String(graph))
}

func (c *Conn) Redo(ctx context.Context, graph string) error {
	return c.Ok(ctx, CmdGraphRedo, protocol.String(graph))
}

// SetVertexData replaces the user data attached to a vertex.
func (c *Conn) SetVertexData(ctx context.Context, graph, vertex string, data []byte) error {
	return c.Ok(ctx, CmdVertexSetData, protocol.String(graph), protocol.String(vertex), protocol.Tagged(UserDataTag, data))
}

func (c *Conn) SetEdgeData(ctx context.Context, graph, edge string, data []byte) error {
	return c.Ok(ctx, CmdEdgeSetData, protocol.String(graph), protocol.String(edge), protocol.Tagged(UserDataTag, data))
}

// AttachRewrites asks the core to find rewrites touching vertices (all
// vertices when empty) and returns how many it attached.
func (c *Conn) AttachRewrites(ctx context.Context, graph string, vertices []string) (int, error) {
	return c.Count(ctx, CmdRewriteAttach, protocol.String(graph), protocol.List(vertices))
}

func (c *Conn) ApplyAttachedRewrite(ctx context.Context, graph string, offset int) error {
	return c.Ok(ctx, CmdRewriteApply, protocol.String(graph), protocol.Int(offset))
}

func (c *Conn) ListAttachedRewrites(ctx context.Context, graph string) (string, error) {
	return c.XML(ctx, CmdRewriteList, protocol.String(graph), protocol.String("xml"))
}
