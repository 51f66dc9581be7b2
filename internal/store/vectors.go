package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// StoreInstanceVector persists an instance embedding. Embeddings live in a
// JSON column; when vec0 is available a mirror row is maintained for ANN
// search, otherwise similarity queries fall back to a linear scan.
func (s *Store) StoreInstanceVector(ctx context.Context, instanceID string, embedding []float64) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for instance %s", instanceID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(embedding)
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to encode embedding for instance %s", instanceID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO instance_vectors (instance_id, embedding, dims)
		VALUES (?, ?, ?)`, instanceID, string(raw), len(embedding))
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to store embedding for instance %s", instanceID)
	}

	if s.vectorExt {
		s.upsertVecRowLocked(ctx, instanceID, embedding)
	}

	logging.StoreDebug("Stored %d-dim embedding for instance %s", len(embedding), instanceID)
	return nil
}

// upsertVecRowLocked mirrors the embedding into the vec0 virtual table.
// Best-effort: the JSON column remains authoritative.
func (s *Store) upsertVecRowLocked(ctx context.Context, instanceID string, embedding []float64) {
	create := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_instances USING vec0(instance_id TEXT PRIMARY KEY, embedding float[%d])",
		len(embedding))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		logging.StoreDebug("vec0 table creation failed: %v", err)
		return
	}

	raw, _ := json.Marshal(embedding)
	_, _ = s.db.ExecContext(ctx,
		"DELETE FROM vec_instances WHERE instance_id = ?", instanceID)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO vec_instances (instance_id, embedding) VALUES (?, ?)",
		instanceID, string(raw)); err != nil {
		logging.StoreDebug("vec0 insert failed for %s: %v", instanceID, err)
	}
}

// SimilarInstance is one result of a vector similarity search.
type SimilarInstance struct {
	InstanceID string
	Score      float64
}

// SearchSimilarInstances returns the instances closest to the query embedding,
// best first. Uses vec0 ANN when available, otherwise a full cosine scan.
func (s *Store) SearchSimilarInstances(ctx context.Context, query []float64, limit int) ([]SimilarInstance, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		if results, err := s.searchVecLocked(ctx, query, limit); err == nil {
			return results, nil
		} else {
			logging.StoreDebug("vec0 search failed, falling back to scan: %v", err)
		}
	}

	return s.scanSimilarLocked(ctx, query, limit)
}

func (s *Store) searchVecLocked(ctx context.Context, query []float64, limit int) ([]SimilarInstance, error) {
	raw, _ := json.Marshal(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, distance FROM vec_instances
		WHERE embedding MATCH ? ORDER BY distance LIMIT ?`, string(raw), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SimilarInstance
	for rows.Next() {
		var r SimilarInstance
		var distance float64
		if err := rows.Scan(&r.InstanceID, &distance); err != nil {
			return nil, err
		}
		// vec0 returns L2 distance; invert so larger is better like cosine.
		r.Score = 1.0 / (1.0 + distance)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) scanSimilarLocked(ctx context.Context, query []float64, limit int) ([]SimilarInstance, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT instance_id, embedding FROM instance_vectors")
	if err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to scan instance vectors")
	}
	defer rows.Close()

	var results []SimilarInstance
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, types.NewEngineError(types.KindPersistenceFailure, err,
				"failed to scan vector row")
		}
		var embedding []float64
		if err := json.Unmarshal([]byte(raw), &embedding); err != nil {
			logging.StoreDebug("Corrupt embedding for instance %s, skipping", id)
			continue
		}
		results = append(results, SimilarInstance{
			InstanceID: id,
			Score:      CosineSimilarity(query, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
