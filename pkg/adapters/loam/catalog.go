// Package loam publishes functional units as Markdown documents through a Loam repository.
// Each run gets its own repository under <root>/<run-id>/units, one document per unit.
package loam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/loam"
)

// UnitMetadata is the front matter of a unit document.
// It uses "mapstructure" tags so Loam can decode it from YAML.
type UnitMetadata struct {
	Index            int      `json:"index" mapstructure:"index"`
	RunID            string   `json:"run_id" mapstructure:"run_id"`
	Actions          [][]int  `json:"actions" mapstructure:"actions"`
	DataIn           []string `json:"data_in" mapstructure:"data_in"`
	DataOut          []string `json:"data_out" mapstructure:"data_out"`
	DataDependencies []int    `json:"data_dependencies" mapstructure:"data_dependencies"`
	ToTest           bool     `json:"to_test" mapstructure:"to_test"`
	// CoreLogic is kept as a JSON string so nested maps survive the YAML round trip unchanged.
	CoreLogic string `json:"core_logic,omitempty" mapstructure:"core_logic"`
}

// Catalog is a ports.UnitCatalog backed by Loam.
type Catalog struct {
	Root   string
	logger *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// New creates a catalog rooted at root. If root is empty, it defaults to ".droidscout/units".
func New(root string, opts ...Option) *Catalog {
	if root == "" {
		root = filepath.Join(".droidscout", "units")
	}
	c := &Catalog{Root: root, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) unitsDir(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid runID %q", runID)
	}
	return filepath.Join(c.Root, runID, "units"), nil
}

func (c *Catalog) open(dir string) (*loam.TypedRepository[UnitMetadata], error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	// No versioning: the catalog is plain generated files, like a report.
	repo, err := loam.Init(abs, loam.WithVersioning(false), loam.WithForceTemp(false))
	if err != nil {
		return nil, fmt.Errorf("failed to init unit catalog at %s: %w", abs, err)
	}
	return loam.NewTypedRepository[UnitMetadata](repo), nil
}

func unitID(index int) string {
	return fmt.Sprintf("unit-%03d", index)
}

// SaveUnits writes one document per unit of fdg.
func (c *Catalog) SaveUnits(ctx context.Context, runID string, fdg *domain.FDG) error {
	dir, err := c.unitsDir(runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	repo, err := c.open(dir)
	if err != nil {
		return err
	}

	for _, u := range fdg.Units {
		meta, err := metadataOf(runID, u)
		if err != nil {
			return err
		}
		err = repo.Save(ctx, &loam.DocumentModel[UnitMetadata]{
			ID:      unitID(u.Index),
			Content: contentOf(u),
			Data:    meta,
		})
		if err != nil {
			return fmt.Errorf("failed to save unit %d: %w", u.Index, err)
		}
	}
	c.logger.Debug("unit catalog written", "run_id", runID, "units", len(fdg.Units), "dir", dir)
	return nil
}

// LoadUnits reads every unit document of a run back, ordered by index.
func (c *Catalog) LoadUnits(ctx context.Context, runID string) (*domain.FDG, error) {
	dir, err := c.unitsDir(runID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrGraphNotFound
	}
	repo, err := c.open(dir)
	if err != nil {
		return nil, err
	}

	docs, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}
	fdg := &domain.FDG{Units: make([]*domain.FunctionalUnit, 0, len(docs))}
	for _, doc := range docs {
		u, err := unitOf(doc.Data, doc.Content)
		if err != nil {
			return nil, fmt.Errorf("unit document %s: %w", doc.ID, err)
		}
		fdg.Units = append(fdg.Units, u)
	}
	sort.Slice(fdg.Units, func(i, j int) bool { return fdg.Units[i].Index < fdg.Units[j].Index })
	return fdg, nil
}

// Unit reads a single unit document.
func (c *Catalog) Unit(ctx context.Context, runID string, index int) (*domain.FunctionalUnit, error) {
	dir, err := c.unitsDir(runID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrGraphNotFound
	}
	repo, err := c.open(dir)
	if err != nil {
		return nil, err
	}
	doc, err := repo.Get(ctx, unitID(index))
	if err != nil {
		return nil, fmt.Errorf("%w: loam get failed for unit %d: %v", domain.ErrUnitNotFound, index, err)
	}
	return unitOf(doc.Data, doc.Content)
}

func metadataOf(runID string, u *domain.FunctionalUnit) (UnitMetadata, error) {
	meta := UnitMetadata{
		Index:            u.Index,
		RunID:            runID,
		DataIn:           u.DataIn,
		DataOut:          u.DataOut,
		DataDependencies: u.DataDependencies,
		ToTest:           u.ToTest,
	}
	for _, ref := range u.ActionRefs {
		meta.Actions = append(meta.Actions, []int{ref.PageIndex, ref.EdgeIndex})
	}
	if len(u.CoreLogic) > 0 {
		raw, err := json.Marshal(u.CoreLogic)
		if err != nil {
			return meta, fmt.Errorf("failed to marshal core logic of unit %d: %w", u.Index, err)
		}
		meta.CoreLogic = string(raw)
	}
	return meta, nil
}

// contentOf renders the document body: the description as a title, then the core logic summary.
func contentOf(u *domain.FunctionalUnit) string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(u.FunctionDescription)
	sb.WriteString("\n")
	if logic, ok := u.CoreLogic["logic"].(string); ok && logic != "" {
		sb.WriteString("\n")
		sb.WriteString(logic)
		sb.WriteString("\n")
	}
	return sb.String()
}

func unitOf(meta UnitMetadata, content string) (*domain.FunctionalUnit, error) {
	u := &domain.FunctionalUnit{
		Index:               meta.Index,
		FunctionDescription: titleOf(content),
		DataIn:              meta.DataIn,
		DataOut:             meta.DataOut,
		DataDependencies:    meta.DataDependencies,
		ToTest:              meta.ToTest,
	}
	for _, a := range meta.Actions {
		if len(a) != 2 {
			return nil, fmt.Errorf("malformed action reference %v", a)
		}
		u.ActionRefs = append(u.ActionRefs, domain.ActionRef{PageIndex: a[0], EdgeIndex: a[1]})
	}
	if meta.CoreLogic != "" {
		if err := json.Unmarshal([]byte(meta.CoreLogic), &u.CoreLogic); err != nil {
			return nil, fmt.Errorf("failed to decode core logic: %w", err)
		}
	}
	return u, nil
}

func titleOf(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
