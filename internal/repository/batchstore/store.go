// Package batchstore persists evidence batches as self-contained directories:
// a manifest, the fragment list, the tokenized lexical corpus, and the dense
// index. Batches are written once during ingestion and never mutated;
// re-ingestion allocates a fresh batch id.
package batchstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/repository/dense"
	"github.com/ledgerlens/ledgerlens/internal/repository/lexical"
)

const (
	manifestFile  = "manifest.json"
	fragmentsFile = "fragments.json"
	lexicalFile   = "lexical.json"
	denseDir      = "dense"

	batchDirPrefix = "batch_"
)

// Manifest records what one batch directory contains.
type Manifest struct {
	BatchID       int    `json:"batch_id"`
	Chunks        int    `json:"chunks"`
	FragmentsPath string `json:"fragments_path,omitempty"`
	LexicalPath   string `json:"lexical_path,omitempty"`
	DensePath     string `json:"dense_path,omitempty"`
}

// Store manages batch directories under a single storage root.
type Store struct {
	root string
}

// New creates a batch store rooted at dir, creating it if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// BatchDir returns the directory for a batch id (zero-padded, stable).
func (s *Store) BatchDir(batchID int) string {
	return filepath.Join(s.root, fmt.Sprintf("%s%04d", batchDirPrefix, batchID))
}

// NextBatchID returns one past the highest existing batch id.
func (s *Store) NextBatchID() (int, error) {
	ids, err := s.batchIDs()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 1, nil
	}
	return ids[len(ids)-1] + 1, nil
}

// CreateDense initializes the dense index inside a batch directory.
func (s *Store) CreateDense(batchID int) (*dense.Index, error) {
	dir := filepath.Join(s.BatchDir(batchID), denseDir)
	idx, err := dense.Create(dir)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", batchID, err)
	}
	return idx, nil
}

// SaveEmpty persists a zero-fragment manifest. Retrieval skips such batches.
func (s *Store) SaveEmpty(batchID int) (Manifest, error) {
	m := Manifest{BatchID: batchID, Chunks: 0}
	if err := s.writeManifest(batchID, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Save persists the fragment list, lexical corpus, and manifest of a batch.
// The dense index is persisted separately by chromem as it is populated.
func (s *Store) Save(batchID int, fragments []domain.Fragment, corpus [][]string) (Manifest, error) {
	dir := s.BatchDir(batchID)

	dtos := make([]fragmentDTO, len(fragments))
	for i := range fragments {
		dtos[i] = toDTO(&fragments[i])
	}
	if err := writeJSON(filepath.Join(dir, fragmentsFile), dtos); err != nil {
		return Manifest{}, fmt.Errorf("batch %d fragments: %w", batchID, err)
	}
	if err := writeJSON(filepath.Join(dir, lexicalFile), corpus); err != nil {
		return Manifest{}, fmt.Errorf("batch %d lexical corpus: %w", batchID, err)
	}

	m := Manifest{
		BatchID:       batchID,
		Chunks:        len(fragments),
		FragmentsPath: fragmentsFile,
		LexicalPath:   lexicalFile,
		DensePath:     denseDir,
	}
	if err := s.writeManifest(batchID, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Batch is a loaded, read-only handle over one batch's indices.
type Batch struct {
	Manifest  Manifest
	Fragments []domain.Fragment
	Lexical   *lexical.Index
	Dense     *dense.Index
}

// Load opens a batch for retrieval. Returns domain.ErrEmptyBatch for a
// zero-fragment batch and domain.ErrBatchNotFound for a missing directory.
func (s *Store) Load(batchID int) (*Batch, error) {
	dir := s.BatchDir(batchID)

	var m Manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("batch %d: %w", batchID, domain.ErrBatchNotFound)
		}
		return nil, fmt.Errorf("batch %d manifest: %w", batchID, err)
	}
	if m.Chunks == 0 {
		return nil, fmt.Errorf("batch %d: %w", batchID, domain.ErrEmptyBatch)
	}

	var dtos []fragmentDTO
	if err := readJSON(filepath.Join(dir, m.FragmentsPath), &dtos); err != nil {
		return nil, fmt.Errorf("batch %d fragments: %w", batchID, err)
	}
	fragments := make([]domain.Fragment, len(dtos))
	for i := range dtos {
		fragments[i] = dtos[i].toDomain()
	}

	var corpus [][]string
	if err := readJSON(filepath.Join(dir, m.LexicalPath), &corpus); err != nil {
		return nil, fmt.Errorf("batch %d lexical corpus: %w", batchID, err)
	}

	denseIdx, err := dense.Open(filepath.Join(dir, m.DensePath))
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", batchID, err)
	}

	return &Batch{
		Manifest:  m,
		Fragments: fragments,
		Lexical:   lexical.New(corpus),
		Dense:     denseIdx,
	}, nil
}

// LoadAll opens every non-empty batch under the root, in batch-id order.
// Empty and missing batches are skipped, never an error.
func (s *Store) LoadAll() ([]*Batch, error) {
	ids, err := s.batchIDs()
	if err != nil {
		return nil, err
	}

	batches := make([]*Batch, 0, len(ids))
	for _, id := range ids {
		b, err := s.Load(id)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyBatch) || errors.Is(err, domain.ErrBatchNotFound) {
				continue
			}
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func (s *Store) batchIDs() ([]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}
	var ids []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), batchDirPrefix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(e.Name(), batchDirPrefix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *Store) writeManifest(batchID int, m Manifest) error {
	if err := writeJSON(filepath.Join(s.BatchDir(batchID), manifestFile), m); err != nil {
		return fmt.Errorf("batch %d manifest: %w", batchID, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
