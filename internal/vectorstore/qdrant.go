package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
)

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

const (
	DefaultQdrantPort     = 6334
	DefaultCollectionName = "documents"
	DefaultVectorSize     = 768
	scrollPageSize        = 256
)

// QdrantConfig configures the gRPC connection to Qdrant.
type QdrantConfig struct {
	Host           string
	Port           int // gRPC port, not the REST one
	APIKey         string
	UseTLS         bool
	CollectionName string

	// VectorSize is used when the collection has to be created before an
	// embedding dimension is known.
	VectorSize     int
	MaxMessageSize int
	Retry          RetryPolicy
}

func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = DefaultQdrantPort
	}
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
	if c.VectorSize == 0 {
		c.VectorSize = DefaultVectorSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	c.Retry.applyDefaults()
}

func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.CollectionName) {
		return fmt.Errorf("%w: invalid collection name %q", ErrInvalidConfig, c.CollectionName)
	}
	if c.VectorSize < 0 {
		return fmt.Errorf("%w: vector size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// qdrantClient is the subset of *qdrant.Client the store uses.
type qdrantClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore keeps one point per chunk in a single Qdrant collection.
type QdrantStore struct {
	client qdrantClient
	config QdrantConfig
	log    *zap.Logger

	dim atomic.Int64

	mu    sync.Mutex
	ready bool
}

// NewQdrantStore connects to Qdrant. The collection is created lazily on the
// first insert, once the embedding dimension is known.
func NewQdrantStore(ctx context.Context, config QdrantConfig, log *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := newQdrantStore(client, config, log)
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Health(hctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info("qdrant store ready",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.CollectionName))
	return s, nil
}

func newQdrantStore(client qdrantClient, config QdrantConfig, log *zap.Logger) *QdrantStore {
	config.ApplyDefaults()
	return &QdrantStore{
		client: client,
		config: config,
		log:    log.With(zap.String("backend", "qdrant")),
	}
}

func (s *QdrantStore) SetEmbeddingDimension(n int) {
	s.dim.Store(int64(n))
	s.log.Info("embedding dimension set", zap.Int("dimension", n))
}

func (s *QdrantStore) dimension() int {
	if d := int(s.dim.Load()); d > 0 {
		return d
	}
	return s.config.VectorSize
}

func (s *QdrantStore) retry(ctx context.Context, name string, op func(context.Context) error) error {
	return retryOperation(ctx, s.config.Retry, "qdrant", name, s.log, op)
}

// ensureCollection creates the collection and its payload indexes if needed,
// or adopts the vector size of an existing one.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	name := s.config.CollectionName
	var exists bool
	err := s.retry(ctx, "collection_exists", func(ctx context.Context) error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return err
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return fmt.Errorf("reading collection %s: %w", name, err)
		}
		size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		want := int(s.dim.Load())
		switch {
		case size > 0 && want > 0 && size != want:
			return fmt.Errorf("%w: %w", ErrDimensionMismatch,
				ingesterr.Validationf("collection %s has %d dimensions, embedder produces %d", name, size, want))
		case size > 0 && want == 0:
			s.dim.Store(int64(size))
		}
		s.log.Info("using existing collection", zap.String("collection", name), zap.Int("dimension", size))
		s.ready = true
		return nil
	}

	dim := s.dimension()
	err = s.retry(ctx, "create_collection", func(ctx context.Context) error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	for _, field := range keywordFields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			s.log.Warn("payload index not created", zap.String("field", field), zap.Error(err))
		}
	}
	s.dim.CompareAndSwap(0, int64(dim))
	s.log.Info("collection created", zap.String("collection", name), zap.Int("dimension", dim))
	s.ready = true
	return nil
}

// Insert upserts one point per chunk. The document id comes from meta.ID, or
// a fresh uuid when empty.
func (s *QdrantStore) Insert(ctx context.Context, chunks []record.Chunk, meta DocumentMeta) (string, error) {
	if len(chunks) == 0 {
		return "", ErrEmptyInsert
	}
	if err := s.ensureCollection(ctx); err != nil {
		return "", err
	}
	if err := checkDimensions(chunks, s.dimension()); err != nil {
		return "", err
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now()
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		payload, err := qdrant.TryValueMap(chunkPayload(c, meta))
		if err != nil {
			return "", fmt.Errorf("chunk %d payload: %w", i, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectorsDense(c.Embedding),
			Payload: payload,
		}
	}

	err := s.retry(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	s.log.Info("document stored",
		zap.String("document_id", meta.ID),
		zap.String("filename", meta.Filename),
		zap.Int("chunks", len(points)))
	return meta.ID, nil
}

// Search runs a nearest-neighbour query. A missing collection yields no hits.
func (s *QdrantStore) Search(ctx context.Context, query []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, ingesterr.Validationf("limit must be positive, got %d", limit)
	}
	if dim := int(s.dim.Load()); dim > 0 && len(query) != dim {
		return nil, fmt.Errorf("%w: %w", ErrDimensionMismatch,
			ingesterr.Validationf("query has %d dimensions, store expects %d", len(query), dim))
	}
	exists, err := s.client.CollectionExists(ctx, s.config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "search", func(ctx context.Context) error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.CollectionName,
			Query:          qdrant.NewQueryDense(query),
			Limit:          qdrant.PtrOf(uint64(limit)),
			ScoreThreshold: qdrant.PtrOf(scoreThreshold),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, resultFromFields(pointID(p.GetId()), p.GetScore(), qdrantFields(p.GetPayload())))
	}
	return out, nil
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword(fieldDocumentID, documentID)}}

	var n uint64
	err := s.retry(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.CollectionName,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	err = s.retry(ctx, "delete", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		return err
	})
	if err != nil {
		return false, err
	}
	s.log.Info("document deleted", zap.String("document_id", documentID), zap.Uint64("chunks", n))
	return true, nil
}

// scroll pages through every point matching filter, reading only the given
// payload keys.
func (s *QdrantStore) scroll(ctx context.Context, filter *qdrant.Filter, keys []string, visit func(fields)) error {
	var offset *qdrant.PointId
	for {
		var (
			page []*qdrant.RetrievedPoint
			next *qdrant.PointId
		)
		err := s.retry(ctx, "scroll", func(ctx context.Context) error {
			var err error
			page, next, err = s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: s.config.CollectionName,
				Filter:         filter,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				WithPayload:    qdrant.NewWithPayloadInclude(keys...),
			})
			return err
		})
		if err != nil {
			return err
		}
		for _, p := range page {
			visit(qdrantFields(p.GetPayload()))
		}
		if next == nil || len(page) == 0 {
			return nil
		}
		offset = next
	}
}

func (s *QdrantStore) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	catalog := newDocumentCatalog()
	err := s.scroll(ctx, nil, []string{fieldDocumentID, fieldFilename, fieldFileType, fieldUploadedAt}, catalog.add)
	if isNotFound(err) {
		return []DocumentInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return catalog.list(), nil
}

func (s *QdrantStore) Outline(ctx context.Context, q OutlineQuery) ([]string, error) {
	field := q.Level.field()
	if field == "" {
		return nil, ingesterr.Validationf("unknown outline level %d", q.Level)
	}
	var filter *qdrant.Filter
	if parent := q.Level.parentField(); parent != "" && q.Parent != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword(parent, q.Parent)}}
	}

	var labels []string
	err := s.scroll(ctx, filter, []string{field}, func(f fields) {
		labels = append(labels, f.str(field))
	})
	if isNotFound(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return distinct(labels), nil
}

func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Backend:    "qdrant",
		Collection: s.config.CollectionName,
		Dimension:  int(s.dim.Load()),
		Status:     "missing",
	}
	info, err := s.client.GetCollectionInfo(ctx, s.config.CollectionName)
	if isNotFound(err) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading collection info: %w", err)
	}
	st.Status = info.GetStatus().String()
	st.Points = int(info.GetPointsCount())
	if size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()); size > 0 {
		st.Dimension = size
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		return st, err
	}
	st.Documents = len(docs)
	return st, nil
}

func (s *QdrantStore) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return ingesterr.Transient("qdrant health", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

func pointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}

// qdrantFields reads a Qdrant payload.
type qdrantFields map[string]*qdrant.Value

func (f qdrantFields) str(key string) string { return f[key].GetStringValue() }

func (f qdrantFields) num(key string) int {
	v := f[key]
	if _, ok := v.GetKind().(*qdrant.Value_DoubleValue); ok {
		return int(v.GetDoubleValue())
	}
	return int(v.GetIntegerValue())
}

func (f qdrantFields) flag(key string) bool { return f[key].GetBoolValue() }

var _ Store = (*QdrantStore)(nil)
