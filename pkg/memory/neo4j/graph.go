// Package neo4j provides the graph half of the Mnemovox dual memory, backed
// by a Neo4j database via the official Bolt driver.
//
// Graph model:
//
//	(:AudioFile {id, userId, filename, language, createdAt})
//	  -[:HAS_CHUNK]-> (:AudioChunk {id, recordingId, userId, text, start, end,
//	                           index, total, language, tags, category,
//	                           entityCount, entityNames, createdAt})
//	(:AudioChunk) -[:MENTIONS {count, confidence, starts, ends, confidences}]->
//	  (:Entity:<Type> {normalized, type, userId, name, firstSeen, lastSeen,
//	                           mentionCount, confidence})
//	(:AudioChunk) -[:FOLLOWED_BY {recordingId}]-> (:AudioChunk)
//	(:Entity) -[WORKS_FOR|LOCATED_IN|BASED_IN|ASSOCIATED_WITH|CO_OCCURS_WITH
//	            {strength, recordingId, coOccurrenceCount}]-> (:Entity)
//
// Entity nodes carry the shared :Entity label plus one label per taxonomy
// type (:Person, :Organization, ...).
//
// All writes use MERGE keyed on stable identifiers, so re-ingesting a
// recording converges onto the same nodes and edges instead of duplicating
// them. Entity mention counters, accumulated confidence, and co-occurrence
// counts are recomputed from MENTIONS evidence rather than incremented,
// keeping repeated ingestions idempotent.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Compile-time interface check.
var _ memory.EntityGraph = (*Graph)(nil)

// Graph is the Neo4j implementation of [memory.EntityGraph].
// All methods are safe for concurrent use.
type Graph struct {
	driver   neo4j.DriverWithContext
	database string
}

// Config holds the Neo4j connection parameters.
type Config struct {
	// URI is the Bolt endpoint, e.g. "neo4j://localhost:7687".
	URI string

	// Username and Password authenticate against the database.
	Username string
	Password string

	// Database is the target database name; empty selects the server default.
	Database string
}

// NewGraph connects to Neo4j, verifies connectivity, and ensures the schema
// constraints and indexes exist.
func NewGraph(ctx context.Context, cfg Config) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: create driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j graph: verify connectivity: %w", err)
	}

	g := &Graph{driver: driver, database: cfg.Database}
	if err := g.migrate(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j graph: migrate: %w", err)
	}
	return g, nil
}

// Close shuts down the underlying driver and its connection pool.
func (g *Graph) Close(ctx context.Context) error { return g.driver.Close(ctx) }

// migrate ensures constraints and indexes. Statements are idempotent and safe
// to run on every application start.
func (g *Graph) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT audio_file_id IF NOT EXISTS
		 FOR (r:AudioFile) REQUIRE r.id IS UNIQUE`,
		`CREATE CONSTRAINT audio_chunk_id IF NOT EXISTS
		 FOR (c:AudioChunk) REQUIRE c.id IS UNIQUE`,
		`CREATE INDEX chunk_recording IF NOT EXISTS
		 FOR (c:AudioChunk) ON (c.recordingId)`,
		`CREATE INDEX entity_merge_key IF NOT EXISTS
		 FOR (e:Entity) ON (e.normalized, e.type, e.userId)`,
		`CREATE INDEX entity_name IF NOT EXISTS
		 FOR (e:Entity) ON (e.name)`,
	}
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: g.database,
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// EnsureRecording implements [memory.EntityGraph].
func (g *Graph) EnsureRecording(ctx context.Context, rec types.Recording) error {
	const q = `
		MERGE (r:AudioFile {id: $id})
		SET r.userId    = $userId,
		    r.filename  = $filename,
		    r.language  = $language,
		    r.createdAt = $createdAt`

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, q, map[string]any{
			"id":        rec.ID,
			"userId":    rec.UserID,
			"filename":  rec.Filename,
			"language":  rec.Language,
			"createdAt": rec.CreatedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("neo4j graph: ensure recording %q: %w", rec.ID, err)
	}
	return nil
}

// chunkMention is one entity aggregated over its mentions within a chunk.
// Starts, Ends, and Confidences are parallel slices, one element per raw
// mention in transcript order; Neo4j properties cannot nest lists, so the
// spans are stored as parallel lists on the MENTIONS edge.
type chunkMention struct {
	Surface     string
	Normalized  string
	Type        memory.EntityType
	Count       int
	Confidence  float64
	Starts      []int
	Ends        []int
	Confidences []float64
}

// aggregateMentions groups a chunk's raw mentions by merge key, collecting
// every span and per-mention confidence, and keeping the highest confidence
// and the first surface form.
func aggregateMentions(mentions []memory.EntityMention) []chunkMention {
	index := map[string]int{}
	var out []chunkMention
	for _, m := range mentions {
		key := m.Normalized() + "\x00" + string(m.Type)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, chunkMention{
				Surface:    m.Surface,
				Normalized: m.Normalized(),
				Type:       m.Type,
			})
		}
		out[i].Count++
		if m.Confidence > out[i].Confidence {
			out[i].Confidence = m.Confidence
		}
		out[i].Starts = append(out[i].Starts, m.Start)
		out[i].Ends = append(out[i].Ends, m.End)
		out[i].Confidences = append(out[i].Confidences, m.Confidence)
	}
	return out
}

// entityLabel is the per-type node label added next to :Entity. Only fixed
// taxonomy values may be spliced into Cypher; anything else gets the generic
// label.
func entityLabel(t memory.EntityType) string {
	if t.IsValid() {
		return string(t)
	}
	return string(memory.EntityGeneric)
}

const mergeChunkQuery = `
	MERGE (c:AudioChunk {id: $id})
	SET c.recordingId = $recordingId,
	    c.userId      = $userId,
	    c.text        = $text,
	    c.start       = $start,
	    c.end         = $end,
	    c.index       = $index,
	    c.total       = $total,
	    c.language    = $language,
	    c.tags        = $tags,
	    c.category    = $category,
	    c.entityCount = $entityCount,
	    c.entityNames = $entityNames,
	    c.createdAt   = $createdAt
	WITH c
	MATCH (r:AudioFile {id: $recordingId})
	MERGE (r)-[:HAS_CHUNK]->(c)`

// mergeMentionTemplate takes the per-type entity label. The span lists and
// per-mention confidences are overwritten wholesale on every merge, and the
// entity counters are recomputed from all MENTIONS edges, so re-ingestion
// converges instead of compounding.
const mergeMentionTemplate = `
	MATCH (c:AudioChunk {id: $chunkId})
	MERGE (e:Entity {normalized: $normalized, type: $type, userId: $userId})
	ON CREATE SET e.name = $surface, e.firstSeen = $seenAt, e.confidence = 0.0
	SET e.lastSeen = $seenAt, e:%s
	MERGE (c)-[m:MENTIONS]->(e)
	SET m.count       = $count,
	    m.confidence  = $confidence,
	    m.starts      = $starts,
	    m.ends        = $ends,
	    m.confidences = $confidences
	WITH e
	MATCH (:AudioChunk)-[all:MENTIONS]->(e)
	WITH e, sum(all.count) AS total,
	     sum(reduce(acc = 0.0, x IN all.confidences | acc + x)) AS conf
	SET e.mentionCount = total, e.confidence = conf`

// mergeRelationTemplate takes the inferred relationship type. The
// co-occurrence count is recomputed as the number of distinct chunks
// mentioning both endpoints: monotonic as recordings arrive, stable when one
// is re-ingested.
const mergeRelationTemplate = `
	MATCH (a:Entity {normalized: $fromNorm, type: $fromType, userId: $userId})
	MATCH (b:Entity {normalized: $toNorm, type: $toType, userId: $userId})
	MERGE (a)-[r:%s]->(b)
	SET r.strength = $strength, r.recordingId = $recordingId
	WITH a, b, r
	MATCH (ch:AudioChunk)-[:MENTIONS]->(a)
	MATCH (ch)-[:MENTIONS]->(b)
	WITH r, count(DISTINCT ch) AS cooc
	SET r.coOccurrenceCount = cooc`

// MergeChunk implements [memory.EntityGraph]. The chunk node, its entities,
// the MENTIONS edges, and the inferred entity-to-entity edges are written in
// one transaction.
func (g *Graph) MergeChunk(ctx context.Context, c memory.Chunk) error {
	mentions := aggregateMentions(c.Entities)

	entityNames := make([]string, 0, len(mentions))
	for _, m := range mentions {
		entityNames = append(entityNames, m.Surface)
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, mergeChunkQuery, map[string]any{
			"id":          c.ID,
			"recordingId": c.RecordingID,
			"userId":      c.UserID,
			"text":        c.Text,
			"start":       c.Start,
			"end":         c.End,
			"index":       c.Index,
			"total":       c.Total,
			"language":    c.Language,
			"tags":        tags,
			"category":    c.Category,
			"entityCount": len(c.Entities),
			"entityNames": entityNames,
			"createdAt":   c.CreatedAt,
		}); err != nil {
			return nil, err
		}

		for _, m := range mentions {
			q := fmt.Sprintf(mergeMentionTemplate, entityLabel(m.Type))
			if _, err := tx.Run(ctx, q, map[string]any{
				"chunkId":     c.ID,
				"normalized":  m.Normalized,
				"type":        string(m.Type),
				"userId":      c.UserID,
				"surface":     m.Surface,
				"seenAt":      c.CreatedAt,
				"count":       m.Count,
				"confidence":  m.Confidence,
				"starts":      m.Starts,
				"ends":        m.Ends,
				"confidences": m.Confidences,
			}); err != nil {
				return nil, err
			}
		}

		// Inferred edges between every ordered pair of distinct entities
		// co-mentioned in this chunk. The relationship type comes from the
		// fixed inference rule table, so splicing it into the query is safe.
		for i, from := range mentions {
			for j, to := range mentions {
				if i == j {
					continue
				}
				rel, strength := memory.InferRelation(from.Type, to.Type)
				q := fmt.Sprintf(mergeRelationTemplate, rel)
				if _, err := tx.Run(ctx, q, map[string]any{
					"fromNorm":    from.Normalized,
					"fromType":    string(from.Type),
					"toNorm":      to.Normalized,
					"toType":      string(to.Type),
					"userId":      c.UserID,
					"strength":    strength,
					"recordingId": c.RecordingID,
				}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j graph: merge chunk %q: %w", c.ID, err)
	}
	return nil
}

// LinkSequence implements [memory.EntityGraph].
func (g *Graph) LinkSequence(ctx context.Context, recordingID string, chunkIDs []string) error {
	if len(chunkIDs) < 2 {
		return nil
	}
	const q = `
		UNWIND range(0, size($ids) - 2) AS i
		MATCH (a:AudioChunk {id: $ids[i]})
		MATCH (b:AudioChunk {id: $ids[i + 1]})
		MERGE (a)-[f:FOLLOWED_BY]->(b)
		SET f.recordingId = $recordingId`

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, q, map[string]any{
			"ids":         chunkIDs,
			"recordingId": recordingID,
		})
	})
	if err != nil {
		return fmt.Errorf("neo4j graph: link sequence %q: %w", recordingID, err)
	}
	return nil
}

// DeleteRecording implements [memory.EntityGraph]. The recording node and its
// chunks go away with every attached edge; entity nodes survive, possibly
// orphaned. Counters are left stale until the next ingestion touches them.
func (g *Graph) DeleteRecording(ctx context.Context, recordingID string) error {
	const q = `
		OPTIONAL MATCH (r:AudioFile {id: $id})
		OPTIONAL MATCH (c:AudioChunk {recordingId: $id})
		DETACH DELETE r, c`

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, q, map[string]any{"id": recordingID})
	})
	if err != nil {
		return fmt.Errorf("neo4j graph: delete recording %q: %w", recordingID, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Counts and health
// ─────────────────────────────────────────────────────────────────────────────

// CountChunks implements [memory.EntityGraph].
func (g *Graph) CountChunks(ctx context.Context, recordingID string) (int, error) {
	n, err := g.readCount(ctx,
		`MATCH (c:AudioChunk {recordingId: $id}) RETURN count(c)`,
		map[string]any{"id": recordingID})
	if err != nil {
		return 0, fmt.Errorf("neo4j graph: count chunks %q: %w", recordingID, err)
	}
	return n, nil
}

// CountSequenceEdges implements [memory.EntityGraph].
func (g *Graph) CountSequenceEdges(ctx context.Context, recordingID string) (int, error) {
	n, err := g.readCount(ctx,
		`MATCH (:AudioChunk)-[f:FOLLOWED_BY {recordingId: $id}]->(:AudioChunk) RETURN count(f)`,
		map[string]any{"id": recordingID})
	if err != nil {
		return 0, fmt.Errorf("neo4j graph: count sequence edges %q: %w", recordingID, err)
	}
	return n, nil
}

func (g *Graph) readCount(ctx context.Context, query string, params map[string]any) (int, error) {
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Values[0].(int64)
		return int(count), nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

// HealthCheck implements [memory.EntityGraph].
func (g *Graph) HealthCheck(ctx context.Context) error {
	if err := g.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j graph: verify connectivity: %w", err)
	}
	return nil
}
