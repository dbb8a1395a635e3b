// Package neo4j provides a palm Engine translating models into Neo4j labels
// and relationships.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/rlch/palm"
	"go.uber.org/zap"
)

// OptionExistence enables property existence constraints, which need
// Neo4j Enterprise.
const OptionExistence = "existence_constraints"

// ErrNoURI is returned when connecting without a configured URI.
var ErrNoURI = errors.New("neo4j: no uri configured")

//nolint:gochecknoinits // Engine self-registration pattern
func init() {
	palm.RegisterEngine(palm.EngineNeo4j, func(cfg palm.ConnectionConfig) (palm.Engine, error) {
		return New(cfg), nil
	})
}

// Engine implements palm.Engine for Neo4j.
type Engine struct {
	*palm.BaseEngine

	cfg       palm.ConnectionConfig
	existence bool

	mu         sync.Mutex
	statements []string
	driver     neo4j.DriverWithContext
}

// New creates an engine for a connection. The driver connects on first use.
func New(cfg palm.ConnectionConfig) *Engine {
	existence, _ := cfg.Options[OptionExistence].(bool)

	return &Engine{
		BaseEngine: palm.NewBaseEngine(palm.EngineNeo4j, cfg.Name, Parsers()),
		cfg:        cfg,
		existence:  existence,
	}
}

// Models returns the model translator.
func (e *Engine) Models() palm.ModelTranslator { //nolint:ireturn
	return translator{}
}

// Label returns the translated label of a model.
func (e *Engine) Label(model string) (*Label, error) {
	inst, ok := e.Cache().Instance(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %q", palm.ErrNotTranslated, model, e.ConnectionName())
	}

	l, ok := inst.(*Label)
	if !ok {
		return nil, fmt.Errorf("neo4j: model %s has native instance %T", model, inst)
	}

	return l, nil
}

// Statements returns the schema statements built by the last
// after-translation hook.
func (e *Engine) Statements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.statements...)
}

// LazyEvaluateField attaches a deferred relationship once the target label
// has been translated.
func (e *Engine) LazyEvaluateField(ctx context.Context, req *palm.LazyEvaluation) (any, error) {
	label, ok := req.Instance.(*Label)
	if !ok {
		return nil, fmt.Errorf("neo4j: model %s has native instance %T", req.ModelName, req.Instance)
	}

	rel, ok := req.Partial.(*Relationship)
	if !ok || req.Field.ForeignKey == nil {
		return nil, fmt.Errorf("neo4j: deferred field %s.%s is not a relationship", req.ModelName, req.Field.Name)
	}

	fk := req.Field.ForeignKey

	inst, err := req.InstanceOf(ctx, fk.RelatedTo)
	if err != nil {
		return nil, err
	}

	target, ok := inst.(*Label)
	if !ok {
		return nil, nil
	}

	out := label.Clone()
	if out.Relationship(rel.Field) != nil {
		return out, nil
	}

	attached := *rel
	attached.Target = target.Name

	if related := req.Catalog.Model(fk.RelatedTo); related != nil {
		key := related.PrimaryKey()
		if fk.ToField != "" {
			key = related.Field(fk.ToField)
		}

		if key != nil {
			attached.TargetKey = key.DatabaseName
		}
	}

	out.Relationships = append(out.Relationships, &attached)

	return out, nil
}

// AfterModelsTranslation collects the constraint and index statements of
// every label.
func (e *Engine) AfterModelsTranslation(_ context.Context, _ palm.Engine, models []palm.TranslatedModel) ([]palm.TranslatedModel, error) {
	var stmts []string

	for _, m := range models {
		l, ok := m.Instance.(*Label)
		if !ok {
			return nil, fmt.Errorf("neo4j: model %s has native instance %T", m.Name, m.Instance)
		}

		stmts = append(stmts, l.Statements(e.existence)...)
	}

	e.mu.Lock()
	e.statements = stmts
	e.mu.Unlock()

	return nil, nil
}

func (e *Engine) connect(ctx context.Context) (neo4j.DriverWithContext, error) { //nolint:ireturn
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.driver != nil {
		return e.driver, nil
	}

	if e.cfg.URI == "" {
		return nil, ErrNoURI
	}

	auth := neo4j.NoAuth()
	if e.cfg.Username != "" {
		auth = neo4j.BasicAuth(e.cfg.Username, e.cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(e.cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to create driver: %w", err)
	}

	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		_ = driver.Close(ctx)

		return nil, fmt.Errorf("neo4j: failed to connect: %w", err)
	}

	e.driver = driver

	return driver, nil
}

// Execute runs one Cypher statement and returns the flattened records.
func (e *Engine) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	driver, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	sessionCfg := neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite}
	if e.cfg.Database != "" {
		sessionCfg.DatabaseName = e.cfg.Database
	}

	session := driver.NewSession(ctx, sessionCfg)
	defer func() { _ = session.Close(ctx) }()

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("neo4j: query execution failed: %w", err)
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to collect results: %w", err)
	}

	rows := make([]map[string]any, len(records))
	for i, record := range records {
		rows[i] = flattenRecord(record.Keys, record.Values)
	}

	return rows, nil
}

// Apply runs the translated schema statements. Schema statements cannot
// share a transaction in Neo4j, so each one runs on its own.
func (e *Engine) Apply(ctx context.Context) error {
	logger := e.Logger()

	for _, stmt := range e.Statements() {
		logger.Debug("applying statement", zap.String("uri", e.cfg.URI), zap.String("statement", stmt))

		_, err := e.Execute(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}

	return nil
}

// Close releases the driver.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.driver == nil {
		return nil
	}

	err := e.driver.Close(context.Background())
	e.driver = nil

	if err != nil {
		return fmt.Errorf("neo4j: failed to close driver: %w", err)
	}

	return nil
}

// flattenRecord converts a Neo4j record into a flat map.
// Nodes and relationships are expanded so their properties are accessible
// as "alias.property" (e.g., u.name, r.since).
func flattenRecord(keys []string, values []any) map[string]any {
	result := make(map[string]any)

	for i, key := range keys {
		flattenValue(result, key, values[i])
	}

	return result
}

func flattenValue(result map[string]any, key string, value any) {
	switch v := value.(type) {
	case dbtype.Node:
		for prop, propVal := range v.Props {
			result[key+"."+prop] = propVal
		}

		result[key+".labels"] = v.Labels
		result[key+".elementId"] = v.ElementId

	case dbtype.Relationship:
		for prop, propVal := range v.Props {
			result[key+"."+prop] = propVal
		}

		result[key+".type"] = v.Type
		result[key+".elementId"] = v.ElementId

	case map[string]any:
		for k, val := range v {
			result[key+"."+k] = val
		}

	default:
		result[key] = v
	}
}

// Compile-time interface checks.
var (
	_ palm.Engine               = (*Engine)(nil)
	_ palm.LazyFieldEvaluator   = (*Engine)(nil)
	_ palm.AfterTranslationHook = (*Engine)(nil)
)
