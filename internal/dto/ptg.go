package dto

import (
	"fmt"
	"path"
	"strconv"

	"github.com/aretw0/droidscout/pkg/domain"
)

// Asset names inside a page directory.
const (
	ScreenshotFile = "screenshot.png"
	StructureFile  = "structure.xml"
)

// PTGDocument is the persisted form of a Page Transition Graph.
// Screen images and hierarchy dumps are stored next to it and referenced by relative path.
type PTGDocument struct {
	ApplicationBundle           string     `json:"applicationBundle"`
	ExploredContainerIdentities []string   `json:"exploredContainerIdentities"`
	Nodes                       []PageNode `json:"nodes"`
}

type PageNode struct {
	Index               int     `json:"index"`
	Kind                string  `json:"kind"`
	FunctionDescription string  `json:"functionDescription"`
	Screen              *Screen `json:"screen"`
	Edges               []Edge  `json:"edges"`
	Visited             bool    `json:"visited"`
}

type Screen struct {
	ContainerIdentity     string   `json:"containerIdentity"`
	ScreenshotPath        string   `json:"screenshotPath"`
	StructurePath         string   `json:"structurePath"`
	StructuralFingerprint string   `json:"structuralFingerprint,omitempty"`
	PerceptualHash        string   `json:"perceptualHash,omitempty"`
	Features              []string `json:"features,omitempty"`
	Bundle                string   `json:"bundle,omitempty"`
	Width                 int      `json:"width,omitempty"`
	Height                int      `json:"height,omitempty"`
}

type Edge struct {
	Description   string  `json:"description"`
	ActionKind    string  `json:"actionKind"`
	Position      *[2]int `json:"position"`
	Content       string  `json:"content"`
	IsLeaf        bool    `json:"isLeaf"`
	Postcondition string  `json:"postcondition"`
	Target        *int    `json:"target"`
}

// Assets maps a relative asset path to its bytes.
type Assets map[string][]byte

// AssetLoader reads an asset previously produced by EncodePTG.
type AssetLoader func(relPath string) ([]byte, error)

// PageDir is the relative directory holding the assets of page index.
func PageDir(index int) string {
	return path.Join("pages", strconv.Itoa(index))
}

// EncodePTG converts g into its persisted document and the assets it references.
// Widget nodes share their owner's snapshot and are written without a screen.
func EncodePTG(g *domain.PTG) (*PTGDocument, Assets) {
	doc := &PTGDocument{
		ApplicationBundle:           g.Bundle,
		ExploredContainerIdentities: append([]string{}, g.ExploredContainers...),
		Nodes:                       make([]PageNode, 0, g.Len()),
	}
	assets := make(Assets)

	for _, n := range g.Nodes {
		pn := PageNode{
			Index:               n.Index,
			Kind:                string(n.Kind),
			FunctionDescription: n.FunctionDescription,
			Edges:               make([]Edge, 0, len(n.Edges)),
			Visited:             n.Visited,
		}
		if n.Snapshot != nil && n.Kind != domain.NodeKindWidget {
			pn.Screen = encodeScreen(n.Index, n.Snapshot, assets)
		}
		for _, e := range n.Edges {
			pn.Edges = append(pn.Edges, encodeEdge(e))
		}
		doc.Nodes = append(doc.Nodes, pn)
	}
	return doc, assets
}

func encodeScreen(index int, s *domain.Snapshot, assets Assets) *Screen {
	dir := PageDir(index)
	scr := &Screen{
		ContainerIdentity:     s.ContainerIdentity,
		StructuralFingerprint: s.StructuralFingerprint,
		Features:              append([]string(nil), s.Features...),
		Bundle:                s.Bundle,
		Width:                 s.Width,
		Height:                s.Height,
	}
	if s.PerceptualHash != 0 {
		scr.PerceptualHash = strconv.FormatUint(s.PerceptualHash, 16)
	}
	if len(s.Image) > 0 {
		scr.ScreenshotPath = path.Join(dir, ScreenshotFile)
		assets[scr.ScreenshotPath] = s.Image
	}
	if len(s.Structure) > 0 {
		scr.StructurePath = path.Join(dir, StructureFile)
		assets[scr.StructurePath] = s.Structure
	}
	return scr
}

func encodeEdge(e domain.Edge) Edge {
	out := Edge{
		Description:   e.Description,
		ActionKind:    string(e.Action),
		Content:       e.Content,
		IsLeaf:        e.IsLeaf,
		Postcondition: e.Postcondition,
	}
	if e.Position != nil {
		out.Position = &[2]int{e.Position.X, e.Position.Y}
	}
	if e.Target != nil {
		t := *e.Target
		out.Target = &t
	}
	return out
}

// DecodePTG rebuilds a graph from its document in two passes: every node is created
// first, then edge targets are resolved against the completed arena.
// Widget nodes get their owner's snapshot back from the leaf edge that targets them.
func DecodePTG(doc *PTGDocument, load AssetLoader) (*domain.PTG, error) {
	g := domain.NewPTG(doc.ApplicationBundle)
	g.ExploredContainers = append([]string{}, doc.ExploredContainerIdentities...)

	// Pass 1: nodes.
	for i, pn := range doc.Nodes {
		if pn.Index != i {
			return nil, fmt.Errorf("node at position %d has index %d", i, pn.Index)
		}
		n := &domain.PageNode{
			Index:               pn.Index,
			Kind:                domain.NodeKind(pn.Kind),
			FunctionDescription: pn.FunctionDescription,
			Visited:             pn.Visited,
		}
		if n.Kind == "" {
			n.Kind = domain.NodeKindPage
		}
		if pn.Screen != nil {
			snap, err := decodeScreen(pn.Screen, load)
			if err != nil {
				return nil, fmt.Errorf("failed to decode screen of node %d: %w", i, err)
			}
			n.Snapshot = snap
		}
		g.Nodes = append(g.Nodes, n)
	}

	// Pass 2: edges and handles.
	for i, pn := range doc.Nodes {
		n := g.Nodes[i]
		if len(pn.Edges) > 0 {
			n.Edges = make([]domain.Edge, 0, len(pn.Edges))
		}
		for j, e := range pn.Edges {
			edge := domain.Edge{
				Description:   e.Description,
				Action:        domain.ActionKind(e.ActionKind),
				Content:       e.Content,
				IsLeaf:        e.IsLeaf,
				Postcondition: e.Postcondition,
			}
			if e.Position != nil {
				edge.Position = &domain.Point{X: e.Position[0], Y: e.Position[1]}
			}
			if e.Target != nil {
				target := g.Node(*e.Target)
				if target == nil {
					return nil, fmt.Errorf("edge %d of node %d targets unknown node %d", j, i, *e.Target)
				}
				edge.Bind(target.Index)
				if target.Kind == domain.NodeKindWidget && target.Snapshot == nil {
					target.Snapshot = n.Snapshot
				}
			}
			n.Edges = append(n.Edges, edge)
		}
	}

	g.Reindex()
	return g, nil
}

func decodeScreen(scr *Screen, load AssetLoader) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{
		ContainerIdentity:     scr.ContainerIdentity,
		StructuralFingerprint: scr.StructuralFingerprint,
		Features:              append([]string(nil), scr.Features...),
		Bundle:                scr.Bundle,
		Width:                 scr.Width,
		Height:                scr.Height,
	}
	if scr.PerceptualHash != "" {
		h, err := strconv.ParseUint(scr.PerceptualHash, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid perceptual hash %q: %w", scr.PerceptualHash, err)
		}
		snap.PerceptualHash = h
	}
	if scr.ScreenshotPath != "" && load != nil {
		data, err := load(scr.ScreenshotPath)
		if err != nil {
			return nil, err
		}
		snap.Image = data
	}
	if scr.StructurePath != "" && load != nil {
		data, err := load(scr.StructurePath)
		if err != nil {
			return nil, err
		}
		snap.Structure = data
	}
	return snap, nil
}
