package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantBackend implements VectorBackend on Qdrant's gRPC API.
//
// Qdrant reports cosine similarity s in [-1, 1]; this backend converts it to
// cosine distance 1 - s on the way out, and converts a distance cutoff t to
// the similarity cutoff 1 - t on the way in.
type QdrantBackend struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
}

// NewQdrantBackend dials Qdrant. The connection is lazy; use Ping to verify it.
func NewQdrantBackend(cfg *QdrantConfig) (*QdrantBackend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantBackend{client: client}, nil
}

// ListCollections returns every collection name.
func (b *QdrantBackend) ListCollections(ctx context.Context) ([]string, error) {
	names, err := b.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections: %w", err)
	}
	return names, nil
}

// CreateCollection creates a cosine-distance collection.
func (b *QdrantBackend) CreateCollection(ctx context.Context, name string, dimension int) error {
	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("qdrant: create collection %q: %w", name, ErrCollectionExists)
		}
		return fmt.Errorf("qdrant: create collection %q: %w", name, err)
	}
	return nil
}

// EnsureFileIndex creates the keyword index on metadata.file_id that keeps
// file deletes and file filters cheap. An existing index is success.
func (b *QdrantBackend) EnsureFileIndex(ctx context.Context, collection string) error {
	wait := true
	_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		Wait:           &wait,
		FieldName:      PayloadMetadata + "." + MetaFileID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("qdrant: index file_id on %q: %w", collection, err)
	}
	return nil
}

// DeleteCollection drops the collection.
func (b *QdrantBackend) DeleteCollection(ctx context.Context, name string) error {
	if err := b.client.DeleteCollection(ctx, name); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("qdrant: delete collection %q: %w", name, ErrCollectionNotFound)
		}
		return fmt.Errorf("qdrant: delete collection %q: %w", name, err)
	}
	return nil
}

// CollectionInfo returns point counts and status.
func (b *QdrantBackend) CollectionInfo(ctx context.Context, name string) (*CollectionStats, error) {
	info, err := b.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("qdrant: collection info %q: %w", name, ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("qdrant: collection info %q: %w", name, err)
	}
	return &CollectionStats{
		Name:                name,
		VectorsCount:        info.GetPointsCount(),
		PointsCount:         info.GetPointsCount(),
		IndexedVectorsCount: info.GetIndexedVectorsCount(),
		Status:              strings.ToLower(info.GetStatus().String()),
	}, nil
}

// Upsert writes points with payload {page_content, metadata} and waits for
// the write to be applied.
func (b *QdrantBackend) Upsert(ctx context.Context, collection string, points []Point) error {
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		meta, err := toPayloadValue(map[string]any(p.Metadata))
		if err != nil {
			return fmt.Errorf("qdrant: point %s metadata: %w", p.ID, err)
		}
		payload, err := qdrant.TryValueMap(map[string]any{
			PayloadContent:  p.Content,
			PayloadMetadata: meta,
		})
		if err != nil {
			return fmt.Errorf("qdrant: point %s payload: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: payload,
		})
	}

	wait := true
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points into %q: %w", len(points), collection, err)
	}
	return nil
}

// Search uses the universal Query API. Points whose payload does not have the
// {page_content: string, metadata: object} shape make the whole response
// ErrIncompatibleResponse, as does a server without the Query RPC.
func (b *QdrantBackend) Search(ctx context.Context, collection string, vector []float32, k int, filter Metadata) ([]ScoredPoint, error) {
	limit := uint64(k)
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f := buildFilter(filter); f != nil {
		req.Filter = f
	}

	hits, err := b.client.Query(ctx, req)
	if err != nil {
		if isIncompatible(err) {
			return nil, fmt.Errorf("qdrant: query %q: %w: %v", collection, ErrIncompatibleResponse, err)
		}
		return nil, fmt.Errorf("qdrant: query %q: %w", collection, err)
	}

	out := make([]ScoredPoint, 0, len(hits))
	for _, h := range hits {
		sp, err := decodeStrict(h)
		if err != nil {
			return nil, fmt.Errorf("qdrant: query %q: %w: %v", collection, ErrIncompatibleResponse, err)
		}
		out = append(out, sp)
	}
	return out, nil
}

// SearchWithThreshold uses the legacy Search RPC with Qdrant's native
// score_threshold. Payload decoding is lenient: content may sit under
// page_content or text, and a missing metadata object decodes as empty.
func (b *QdrantBackend) SearchWithThreshold(ctx context.Context, collection string, vector []float32, k int, maxDistance float32, filter Metadata) ([]ScoredPoint, error) {
	minSimilarity := 1 - maxDistance
	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(k),
		ScoreThreshold: &minSimilarity,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filter),
	}

	resp, err := b.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %q: %w", collection, err)
	}

	hits := resp.GetResult()
	out := make([]ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, decodeLenient(h))
	}
	return out, nil
}

// DeleteByFile removes points whose metadata.file_id matches.
func (b *QdrantBackend) DeleteByFile(ctx context.Context, collection, fileID string) error {
	wait := true
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(PayloadMetadata+"."+MetaFileID, fileID),
			},
		}),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("qdrant: delete file %q from %q: %w", fileID, collection, ErrCollectionNotFound)
		}
		return fmt.Errorf("qdrant: delete file %q from %q: %w", fileID, collection, err)
	}
	return nil
}

// Ping calls the Qdrant health check RPC.
func (b *QdrantBackend) Ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (b *QdrantBackend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("qdrant: close: %w", err)
	}
	return nil
}

// buildFilter turns a flat metadata filter into Qdrant must-conditions on
// metadata.<key>. Returns nil for an empty filter.
func buildFilter(filter Metadata) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		field := PayloadMetadata + "." + k
		switch x := v.(type) {
		case bool:
			must = append(must, qdrant.NewMatchBool(field, x))
		case int:
			must = append(must, qdrant.NewMatchInt(field, int64(x)))
		case int64:
			must = append(must, qdrant.NewMatchInt(field, x))
		case float64:
			if x == float64(int64(x)) {
				must = append(must, qdrant.NewMatchInt(field, int64(x)))
			} else {
				must = append(must, qdrant.NewMatch(field, fmt.Sprint(x)))
			}
		default:
			must = append(must, qdrant.NewMatch(field, fmt.Sprint(x)))
		}
	}
	return &qdrant.Filter{Must: must}
}

// decodeStrict converts a hit whose payload must be {page_content, metadata}.
func decodeStrict(h *qdrant.ScoredPoint) (ScoredPoint, error) {
	payload := h.GetPayload()
	content, ok := payload[PayloadContent]
	if !ok {
		return ScoredPoint{}, fmt.Errorf("point %s: missing %s", pointID(h), PayloadContent)
	}
	if _, isString := content.GetKind().(*qdrant.Value_StringValue); !isString {
		return ScoredPoint{}, fmt.Errorf("point %s: %s is not a string", pointID(h), PayloadContent)
	}

	meta := Metadata{}
	if raw, ok := payload[PayloadMetadata]; ok {
		st, isStruct := raw.GetKind().(*qdrant.Value_StructValue)
		if !isStruct {
			return ScoredPoint{}, fmt.Errorf("point %s: %s is not an object", pointID(h), PayloadMetadata)
		}
		meta = structToMetadata(st.StructValue)
	}

	return ScoredPoint{
		ID:       pointID(h),
		Content:  content.GetStringValue(),
		Metadata: meta,
		Distance: 1 - h.GetScore(),
	}, nil
}

// decodeLenient converts a hit without rejecting unexpected payload shapes.
func decodeLenient(h *qdrant.ScoredPoint) ScoredPoint {
	payload := h.GetPayload()
	content := payload[PayloadContent].GetStringValue()
	if content == "" {
		content = payload[payloadText].GetStringValue()
	}
	meta := structToMetadata(payload[PayloadMetadata].GetStructValue())
	return ScoredPoint{
		ID:       pointID(h),
		Content:  content,
		Metadata: meta,
		Distance: 1 - h.GetScore(),
	}
}

// pointID renders a point ID whether it is a UUID or a numeric ID.
func pointID(h *qdrant.ScoredPoint) string {
	id := h.GetId()
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}

// structToMetadata converts a Qdrant struct into Metadata. Nil yields an empty map.
func structToMetadata(s *qdrant.Struct) Metadata {
	meta := Metadata{}
	for k, v := range s.GetFields() {
		meta[k] = valueToAny(v)
	}
	return meta
}

// valueToAny converts a Qdrant value into plain Go values.
func valueToAny(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_StructValue:
		return map[string]any(structToMetadata(k.StructValue))
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, item := range vals {
			out[i] = valueToAny(item)
		}
		return out
	default:
		return nil
	}
}

// toPayloadValue normalises v into the types qdrant.NewValue accepts.
// Typed maps and slices are widened to map[string]any / []any, times are
// formatted as RFC 3339, and anything else goes through a JSON round trip.
func toPayloadValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int, int32, int64, uint, uint32, uint64, float32, float64:
		return x, nil
	case Metadata:
		return toPayloadValue(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			n, err := toPayloadValue(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			n, err := toPayloadValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("unsupported metadata value %T: %w", x, err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return nil, fmt.Errorf("unsupported metadata value %T: %w", x, err)
		}
		return generic, nil
	}
}

// grpcCode extracts the gRPC status code from a possibly wrapped error.
func grpcCode(err error) codes.Code {
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus().Code()
	}
	return status.Code(err)
}

// isIncompatible reports errors that mean "this server does not speak the
// API we called", as opposed to connectivity or server failures.
func isIncompatible(err error) bool {
	switch grpcCode(err) {
	case codes.Unimplemented:
		return true
	case codes.Internal:
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "unmarshal") || strings.Contains(msg, "cannot parse")
	default:
		return false
	}
}

// isAlreadyExists reports a create on an existing collection.
func isAlreadyExists(err error) bool {
	if grpcCode(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// isNotFound reports an operation on a missing collection.
func isNotFound(err error) bool {
	if grpcCode(err) == codes.NotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "doesn't exist")
}
