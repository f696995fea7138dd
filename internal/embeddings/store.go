// Package embeddings stores fixed-dimension module vectors and computes
// similarity between them.
package embeddings

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// ErrDimensionMismatch is returned when a vector does not match the store's
// configured dimensionality
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ModuleRef identifies a module awaiting an embedding
type ModuleRef struct {
	ID      string
	Type    types.ModuleType
	Content string
}

// Text is the input sent to the embedder for this module
func (m ModuleRef) Text() string {
	return string(m.Type) + ": " + m.Content
}

// Store persists module embeddings
type Store interface {
	Embedding(ctx context.Context, moduleID string) ([]float32, error)
	Embeddings(ctx context.Context, ids []string) (map[string][]float32, error)
	SaveEmbedding(ctx context.Context, moduleID string, vec []float32) error
	MissingEmbeddings(ctx context.Context, limit int) ([]ModuleRef, error)
}

// Embedder turns texts into vectors, one per input in input order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Repository is the persistence needed by SQLStore
type Repository interface {
	ModuleEmbeddingBlobs(ctx context.Context, ids []string) (map[string][]byte, error)
	SetModuleEmbedding(ctx context.Context, id string, blob []byte) error
	ModulesMissingEmbedding(ctx context.Context, limit int) ([]types.Module, error)
}

// SQLStore keeps vectors as little-endian float32 blobs on the modules table
type SQLStore struct {
	repo       Repository
	dimensions int
}

// NewSQLStore creates a store enforcing dimensions
func NewSQLStore(repo Repository, dimensions int) *SQLStore {
	return &SQLStore{repo: repo, dimensions: dimensions}
}

// Dimensions returns the configured vector length
func (s *SQLStore) Dimensions() int {
	return s.dimensions
}

// Embedding returns the vector for moduleID, or nil if none is stored
func (s *SQLStore) Embedding(ctx context.Context, moduleID string) ([]float32, error) {
	vecs, err := s.Embeddings(ctx, []string{moduleID})
	if err != nil {
		return nil, err
	}
	return vecs[moduleID], nil
}

// Embeddings returns stored vectors keyed by id. Ids without a vector are
// absent from the map.
func (s *SQLStore) Embeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	blobs, err := s.repo.ModuleEmbeddingBlobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]float32, len(blobs))
	for id, blob := range blobs {
		vec, err := Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", id, err)
		}
		result[id] = vec
	}
	return result, nil
}

// SaveEmbedding stores vec, rejecting vectors of the wrong length
func (s *SQLStore) SaveEmbedding(ctx context.Context, moduleID string, vec []float32) error {
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dimensions)
	}
	return s.repo.SetModuleEmbedding(ctx, moduleID, Encode(vec))
}

// MissingEmbeddings lists modules with no stored vector
func (s *SQLStore) MissingEmbeddings(ctx context.Context, limit int) ([]ModuleRef, error) {
	modules, err := s.repo.ModulesMissingEmbedding(ctx, limit)
	if err != nil {
		return nil, err
	}
	refs := make([]ModuleRef, len(modules))
	for i, m := range modules {
		refs[i] = ModuleRef{ID: m.ID, Type: m.Type, Content: m.Content}
	}
	return refs, nil
}

// Encode serializes vec as little-endian float32 values
func Encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode is the inverse of Encode
func Decode(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
