package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// chunkReturn is the Cypher projection shared by every query that returns a
// chunk node, aliased as "c".
const chunkReturn = `
	c.id          AS id,
	c.recordingId AS recordingId,
	c.userId      AS userId,
	c.text        AS text,
	c.start       AS start,
	c.end         AS end,
	c.index       AS index,
	c.total       AS total,
	c.language    AS language,
	c.tags        AS tags,
	c.category    AS category,
	c.entityNames AS entityNames,
	c.createdAt   AS createdAt`

// chunkFromRecord rebuilds a [memory.Chunk] from the [chunkReturn] columns.
// Entity mentions come back as surfaces only; offsets and confidences live in
// the MENTIONS edges and are not needed by retrieval.
func chunkFromRecord(record *db.Record) memory.Chunk {
	get := func(key string) any {
		v, _ := record.Get(key)
		return v
	}
	c := memory.Chunk{
		ID:          asString(get("id")),
		RecordingID: asString(get("recordingId")),
		UserID:      asString(get("userId")),
		Text:        asString(get("text")),
		Start:       asInt(get("start")),
		End:         asInt(get("end")),
		Index:       asInt(get("index")),
		Total:       asInt(get("total")),
		Language:    asString(get("language")),
		Tags:        asStrings(get("tags")),
		Category:    asString(get("category")),
		CreatedAt:   asTime(get("createdAt")),
	}
	for _, name := range asStrings(get("entityNames")) {
		c.Entities = append(c.Entities, memory.EntityMention{Surface: name})
	}
	return c
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// collectRecords runs a read query and maps every record through fn.
func collectRecords[T any](ctx context.Context, g *Graph, query string, params map[string]any, fn func(*db.Record) T) ([]T, error) {
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]T, 0, len(records))
		for _, record := range records {
			items = append(items, fn(record))
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]T), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Search strategies
// ─────────────────────────────────────────────────────────────────────────────

// SearchEntityMentions implements [memory.EntityGraph]. The entity name match
// is a case-insensitive substring test over both the surface and normalized
// forms; hits arrive ordered by the entity's global mention count.
func (g *Graph) SearchEntityMentions(ctx context.Context, name string, entityType memory.EntityType, userID string, limit int) ([]memory.EntityMentionHit, error) {
	const q = `
		MATCH (e:Entity)
		WHERE (toLower(e.name) CONTAINS toLower($name)
		       OR e.normalized CONTAINS $normalized)
		  AND ($type = '' OR e.type = $type)
		  AND ($userId = '' OR e.userId = $userId)
		MATCH (c:AudioChunk)-[:MENTIONS]->(e)
		WHERE $userId = '' OR c.userId = $userId
		RETURN ` + chunkReturn + `,
		       e.name         AS entityName,
		       e.normalized   AS entityNormalized,
		       e.mentionCount AS mentionCount
		ORDER BY e.mentionCount DESC, c.id
		LIMIT $limit`

	hits, err := collectRecords(ctx, g, q, map[string]any{
		"name":       name,
		"normalized": memory.NormalizeEntityName(name),
		"type":       string(entityType),
		"userId":     userID,
		"limit":      clampLimit(limit),
	}, func(record *db.Record) memory.EntityMentionHit {
		get := func(key string) any { v, _ := record.Get(key); return v }
		return memory.EntityMentionHit{
			Chunk:            chunkFromRecord(record),
			EntityName:       asString(get("entityName")),
			EntityNormalized: asString(get("entityNormalized")),
			MentionCount:     asInt(get("mentionCount")),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: search entity mentions %q: %w", name, err)
	}
	return hits, nil
}

// SearchText implements [memory.EntityGraph].
func (g *Graph) SearchText(ctx context.Context, query string, userID string, limit int) ([]memory.TextHit, error) {
	const q = `
		MATCH (c:AudioChunk)
		WHERE toLower(c.text) CONTAINS toLower($query)
		  AND ($userId = '' OR c.userId = $userId)
		RETURN ` + chunkReturn + `
		ORDER BY c.createdAt DESC, c.id
		LIMIT $limit`

	hits, err := collectRecords(ctx, g, q, map[string]any{
		"query":  query,
		"userId": userID,
		"limit":  clampLimit(limit),
	}, func(record *db.Record) memory.TextHit {
		chunk := chunkFromRecord(record)
		return memory.TextHit{
			Chunk:       chunk,
			MatchOffset: matchOffset(chunk.Text, query),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: search text %q: %w", query, err)
	}
	return hits, nil
}

// matchOffset returns the rune offset of the first case-insensitive
// occurrence of query in text, or 0 when absent.
func matchOffset(text, query string) int {
	i := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if i <= 0 {
		return 0
	}
	return utf8.RuneCountInString(text[:i])
}

// SearchPaths implements [memory.EntityGraph]. Seed chunks are found by text
// match; hits are the chunks reachable from a seed over entity-to-entity
// paths of up to maxDepth hops. The variable-length bound cannot be a query
// parameter, so it is clamped and spliced in.
func (g *Graph) SearchPaths(ctx context.Context, query string, userID string, maxDepth, limit int) ([]memory.PathHit, error) {
	depth := memory.ClampDepth(maxDepth)
	q := fmt.Sprintf(`
		MATCH (seed:AudioChunk)
		WHERE toLower(seed.text) CONTAINS toLower($query)
		  AND ($userId = '' OR seed.userId = $userId)
		WITH seed LIMIT 25
		MATCH p = (seed)-[:MENTIONS]->(e1:Entity)-[*0..%d]-(e2:Entity)<-[:MENTIONS]-(c:AudioChunk)
		WHERE c.id <> seed.id
		  AND ($userId = '' OR c.userId = $userId)
		  AND all(n IN nodes(p)[1..-1] WHERE n:Entity)
		WITH c, p ORDER BY length(p)
		WITH c, head(collect(p)) AS p
		RETURN `+chunkReturn+`,
		       length(p) AS pathLength,
		       [n IN nodes(p) WHERE n:Entity | n.name] AS pathNames
		ORDER BY pathLength, c.id
		LIMIT $limit`, depth)

	hits, err := collectRecords(ctx, g, q, map[string]any{
		"query":  query,
		"userId": userID,
		"limit":  clampLimit(limit),
	}, pathHitFromRecord)
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: search paths %q: %w", query, err)
	}
	return hits, nil
}

// FindPathsBetween implements [memory.EntityGraph]. Both endpoints are found
// by case-insensitive name match; the hits are chunks mentioning any entity
// on a connecting path.
func (g *Graph) FindPathsBetween(ctx context.Context, nameA, nameB string, maxDepth int, userID string, limit int) ([]memory.PathHit, error) {
	depth := memory.ClampDepth(maxDepth)
	q := fmt.Sprintf(`
		MATCH (a:Entity), (b:Entity)
		WHERE toLower(a.name) CONTAINS toLower($nameA)
		  AND toLower(b.name) CONTAINS toLower($nameB)
		  AND a <> b
		  AND ($userId = '' OR (a.userId = $userId AND b.userId = $userId))
		MATCH p = (a)-[*..%d]-(b)
		WHERE all(n IN nodes(p) WHERE n:Entity)
		WITH p ORDER BY length(p) LIMIT 5
		UNWIND [n IN nodes(p) WHERE n:Entity] AS e
		MATCH (c:AudioChunk)-[:MENTIONS]->(e)
		WHERE $userId = '' OR c.userId = $userId
		WITH DISTINCT c, p
		RETURN `+chunkReturn+`,
		       length(p) AS pathLength,
		       [n IN nodes(p) | n.name] AS pathNames
		ORDER BY pathLength, c.id
		LIMIT $limit`, depth)

	hits, err := collectRecords(ctx, g, q, map[string]any{
		"nameA":  nameA,
		"nameB":  nameB,
		"userId": userID,
		"limit":  clampLimit(limit),
	}, pathHitFromRecord)
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: find paths %q-%q: %w", nameA, nameB, err)
	}
	return hits, nil
}

func pathHitFromRecord(record *db.Record) memory.PathHit {
	get := func(key string) any { v, _ := record.Get(key); return v }
	return memory.PathHit{
		Chunk:      chunkFromRecord(record),
		PathLength: asInt(get("pathLength")),
		Path:       asStrings(get("pathNames")),
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// GetChunk implements [memory.EntityGraph].
func (g *Graph) GetChunk(ctx context.Context, id string) (*memory.Chunk, error) {
	const q = `MATCH (c:AudioChunk {id: $id}) RETURN ` + chunkReturn

	chunks, err := collectRecords(ctx, g, q, map[string]any{"id": id}, chunkFromRecord)
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: get chunk %q: %w", id, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("neo4j graph: get chunk %q: %w", id, memory.ErrNotFound)
	}
	return &chunks[0], nil
}

// GetEntity implements [memory.EntityGraph].
func (g *Graph) GetEntity(ctx context.Context, normalized string, entityType memory.EntityType, userID string) (*memory.Entity, error) {
	const q = `
		MATCH (e:Entity {normalized: $normalized, type: $type, userId: $userId})
		RETURN e.name         AS name,
		       e.normalized   AS normalized,
		       e.type         AS type,
		       e.userId       AS userId,
		       e.firstSeen    AS firstSeen,
		       e.lastSeen     AS lastSeen,
		       e.mentionCount AS mentionCount,
		       e.confidence   AS confidence`

	entities, err := collectRecords(ctx, g, q, map[string]any{
		"normalized": normalized,
		"type":       string(entityType),
		"userId":     userID,
	}, func(record *db.Record) memory.Entity {
		get := func(key string) any { v, _ := record.Get(key); return v }
		return memory.Entity{
			Name:         asString(get("name")),
			Normalized:   asString(get("normalized")),
			Type:         memory.EntityType(asString(get("type"))),
			UserID:       asString(get("userId")),
			FirstSeen:    asTime(get("firstSeen")),
			LastSeen:     asTime(get("lastSeen")),
			MentionCount: asInt(get("mentionCount")),
			Confidence:   asFloat(get("confidence")),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j graph: get entity %q: %w", normalized, err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("neo4j graph: get entity %q: %w", normalized, memory.ErrNotFound)
	}
	return &entities[0], nil
}
