package configstream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/types"
)

// Distinguished config stream locations and record names
const (
	RoutingStreamPath = "/.config/routing"
	DomainsStreamPath = "/.config/domains"
	OwnerStreamPath   = "/.config/owner"

	RoutesRecordName  = "routes"
	DomainsRecordName = "domains"
	SchemaRecordName  = "schema"
	SchemaStreamName  = ".config"
)

// Manager reads the distinguished `.config` streams that drive system
// behavior: routing rewrites, the custom domain set and per-stream
// schemas. Values are views over ordinary append-only records; the
// "current" value is the latest non-deleted record with the distinguished
// name.
type Manager struct {
	catalog *catalog.Catalog
}

// New creates a config stream manager over the catalog
func New(cat *catalog.Catalog) *Manager {
	return &Manager{catalog: cat}
}

// Routing returns the pod's link rewrite map, empty when unconfigured
func (m *Manager) Routing(ctx context.Context, pod string) (map[string]string, error) {
	key := pod + ":routing"
	if v, ok := m.catalog.Cache().Get(cache.PoolPods, key); ok {
		return v.(map[string]string), nil
	}

	routes := map[string]string{}
	record, err := m.latest(ctx, pod, RoutingStreamPath, RoutesRecordName)
	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeStreamNotFound) || errdefs.IsCode(err, errdefs.CodeRecordNotFound) {
			m.catalog.Cache().Set(cache.PoolPods, key, routes)
			return routes, nil
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(record.Content), &routes); err != nil {
		podLog := log.WithPod(pod)
		podLog.Warn().Err(err).Msg("malformed routing record")
		return map[string]string{}, nil
	}

	m.catalog.Cache().Set(cache.PoolPods, key, routes)
	return routes, nil
}

// Domains returns the pod's effective custom domain set: the fold of its
// add/remove history.
func (m *Manager) Domains(ctx context.Context, pod string) ([]string, error) {
	key := pod + ":domains"
	if v, ok := m.catalog.Cache().Get(cache.PoolPods, key); ok {
		return v.([]string), nil
	}

	stream, err := m.catalog.GetStreamByPath(ctx, pod, DomainsStreamPath)
	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeStreamNotFound) {
			return nil, nil
		}
		return nil, err
	}

	records, err := m.catalog.Store().ListAllRecords(stream.ID)
	if err != nil {
		return nil, err
	}

	set := map[string]bool{}
	var order []string
	for _, r := range records {
		if r.Purged || r.Name != DomainsRecordName {
			continue
		}
		var change types.DomainChange
		if err := json.Unmarshal([]byte(r.Content), &change); err != nil || change.Domain == "" {
			continue
		}
		switch change.Action {
		case "add":
			if !set[change.Domain] {
				set[change.Domain] = true
				order = append(order, change.Domain)
			}
		case "remove":
			delete(set, change.Domain)
		}
	}

	domains := make([]string, 0, len(order))
	for _, d := range order {
		if set[d] {
			domains = append(domains, d)
		}
	}

	m.catalog.Cache().Set(cache.PoolPods, key, domains)
	return domains, nil
}

// PodForDomain maps a request host to the pod claiming it via
// `.config/domains`, or empty when no pod does.
func (m *Manager) PodForDomain(ctx context.Context, host string) (string, error) {
	key := "host:" + host
	if v, ok := m.catalog.Cache().Get(cache.PoolPods, key); ok {
		return v.(string), nil
	}

	pods, err := m.catalog.Store().ListPods()
	if err != nil {
		return "", err
	}
	for _, pod := range pods {
		domains, err := m.Domains(ctx, pod.Name)
		if err != nil {
			continue
		}
		for _, d := range domains {
			if strings.EqualFold(d, host) {
				m.catalog.Cache().Set(cache.PoolPods, key, pod.Name)
				return pod.Name, nil
			}
		}
	}

	m.catalog.Cache().Set(cache.PoolPods, key, "")
	return "", nil
}

// Schema returns the schema configuration for a stream, nil when the
// stream has no `.config` schema record.
func (m *Manager) Schema(ctx context.Context, pod, streamPath string) (*types.SchemaConfig, error) {
	record, err := m.latest(ctx, pod, streamPath+"/"+SchemaStreamName, SchemaRecordName)
	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeStreamNotFound) || errdefs.IsCode(err, errdefs.CodeRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var cfg types.SchemaConfig
	if err := json.Unmarshal([]byte(record.Content), &cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeSchemaError, "malformed schema record", err)
	}
	return &cfg, nil
}

// ValidateRecord checks a record payload against its stream's schema, if
// one is configured and applies. Only JSON payloads are checked against the
// schema; a non-JSON payload is accepted when appliesTo is "json" or the
// mode is permissive, and rejected otherwise.
func (m *Manager) ValidateRecord(ctx context.Context, stream *types.Stream, contentType string, content []byte) error {
	if !stream.HasSchema {
		return nil
	}

	cfg, err := m.Schema(ctx, stream.PodName, stream.Path)
	if err != nil {
		return err
	}
	if cfg == nil || cfg.SchemaType == "" || cfg.SchemaType == "none" || cfg.Schema == nil {
		return nil
	}
	if cfg.SchemaType != "json-schema" {
		return errdefs.Newf(errdefs.CodeSchemaError, "unsupported schema type: %s", cfg.SchemaType)
	}

	isJSON := strings.HasPrefix(strings.ToLower(contentType), "application/json")
	if cfg.AppliesTo == "json" && !isJSON {
		return nil
	}
	if !isJSON {
		// Non-JSON payloads cannot be validated; strict mode rejects them
		if cfg.ValidationMode == "permissive" {
			return nil
		}
		return errdefs.New(errdefs.CodeValidationError, "stream requires JSON records")
	}

	var doc interface{}
	if err := json.Unmarshal(content, &doc); err != nil {
		return errdefs.Wrap(errdefs.CodeValidationError, "record content is not valid JSON", err)
	}

	schema, err := m.compile(cfg.Schema)
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		if cfg.ValidationMode == "permissive" {
			streamLog := log.WithStream(stream.PodName, stream.Path)
			streamLog.Warn().Err(err).Msg("record failed schema validation")
			return nil
		}
		return errdefs.Wrap(errdefs.CodeValidationError, "record failed schema validation", err)
	}
	return nil
}

func (m *Manager) compile(schema interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeSchemaError, "unencodable schema", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeSchemaError, "invalid schema resource", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeSchemaError, "schema does not compile", err)
	}
	return compiled, nil
}

// SyncSchemaFlag keeps a stream's has_schema flag aligned with its
// `.config` stream. Called after every write to a `.config` child.
func (m *Manager) SyncSchemaFlag(ctx context.Context, configStream *types.Stream) error {
	if configStream.Name != SchemaStreamName || configStream.ParentID == nil {
		return nil
	}

	parent, err := m.catalog.Store().GetStream(*configStream.ParentID)
	if err != nil {
		return err
	}

	cfg, err := m.Schema(ctx, parent.PodName, parent.Path)
	if err != nil {
		return err
	}
	hasSchema := cfg != nil && cfg.SchemaType != "" && cfg.SchemaType != "none"

	if parent.HasSchema == hasSchema {
		return nil
	}
	parent.HasSchema = hasSchema
	if err := m.catalog.Store().UpdateStream(parent); err != nil {
		return err
	}
	m.catalog.Cache().Invalidate(cache.PoolStreams, parent.PodName+":")
	return nil
}

// latest returns the newest visible record with the given name
func (m *Manager) latest(ctx context.Context, pod, streamPath, name string) (*types.Record, error) {
	stream, err := m.catalog.GetStreamByPath(ctx, pod, streamPath)
	if err != nil {
		return nil, err
	}
	return m.catalog.GetRecordByName(ctx, stream, name, false)
}
