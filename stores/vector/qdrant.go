package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/poiesic/strata/stores"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig locates a Qdrant collection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  uint64
}

// QdrantStore implements stores.VectorStore on a Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

var _ stores.VectorStore = (*QdrantStore)(nil)

// OpenQdrant connects and creates the collection with cosine distance if it
// does not exist.
func OpenQdrant(ctx context.Context, cfg QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Collection == "" {
		return nil, errors.New("collection is required")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	s := &QdrantStore{client: client, collection: cfg.Collection, logger: logger}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		// leave the store usable; writes report unavailable until Qdrant is up
		logger.Warn("qdrant unreachable", "collection", cfg.Collection, "err", err)
		return s, nil
	}
	if !exists {
		if cfg.Dimension == 0 {
			client.Close()
			return nil, errors.New("dimension is required to create a collection")
		}
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     cfg.Dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("create collection %s: %w", cfg.Collection, err)
		}
		logger.Info("created qdrant collection", "collection", cfg.Collection, "dimension", cfg.Dimension)
	}
	return s, nil
}

// unreachable reports whether err means Qdrant could not be contacted.
func unreachable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func result(err error) stores.Result {
	if unreachable(err) {
		return stores.Unavailable(err)
	}
	return stores.Failed(err)
}

// UpsertVectors implements stores.VectorStore.
func (s *QdrantStore) UpsertVectors(ctx context.Context, points []stores.Point) stores.Result {
	if len(points) == 0 {
		return stores.Ok("", nil)
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return stores.Failed(fmt.Errorf("payload of %s: %w", p.ID, err))
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return result(fmt.Errorf("upsert %d points: %w", len(points), err))
	}
	last := points[len(points)-1]
	return stores.Ok(last.ID, map[string]string{
		"collection": s.collection,
		"dimension":  strconv.Itoa(len(last.Vector)),
	})
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(stores.PayloadDocumentID, documentID)},
	}
}

// SearchVectors implements stores.VectorStore.
func (s *QdrantStore) SearchVectors(ctx context.Context, vector []float32, limit int, threshold float32, filter stores.VectorFilter) ([]stores.VectorMatch, error) {
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		ScoreThreshold: qdrant.PtrOf(threshold),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if limit > 0 {
		query.Limit = qdrant.PtrOf(uint64(limit))
	}
	if filter.DocumentID != "" {
		query.Filter = documentFilter(filter.DocumentID)
	}
	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.collection, err)
	}
	matches := make([]stores.VectorMatch, 0, len(points))
	for _, p := range points {
		matches = append(matches, stores.VectorMatch{
			ID:      pointID(p.GetId()),
			Score:   p.GetScore(),
			Payload: fromValueMap(p.GetPayload()),
		})
	}
	return matches, nil
}

// DeleteByDocument implements stores.VectorStore.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	return err
}

// Close implements stores.VectorStore.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func fromValueMap(m map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		return fromValueMap(kind.StructValue.GetFields())
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromValue(item)
		}
		return out
	}
	return nil
}
