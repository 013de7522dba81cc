// Package graph maintains the knowledge-graph projection of extracted
// relations in Neo4j. Nodes are keyed by (name, tenant_id) so tenants never
// share subgraphs; every node remembers the document that created it so
// document deletion can tear its subgraph down.
package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/indexforge/docproc/pkg/types"
)

// Store is the Neo4j-backed relation store.
type Store struct {
	driver neo4j.DriverWithContext
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, uri, user, password string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: failed to create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph: failed to verify connectivity: %w", err)
	}
	return &Store{driver: driver}, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// AddRelations merges sanitized triples into the graph within one
// transaction. Labels and relation types are inlined into the query text,
// which is safe only because SanitizeRelations restricts them to known
// labels and bare identifier characters.
func (s *Store) AddRelations(ctx context.Context, relations []types.Relation, tenantID, docID uuid.UUID) error {
	if len(relations) == 0 {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, rel := range relations {
			query := fmt.Sprintf(
				"MERGE (s:%s {name: $s_name, tenant_id: $tenant_id}) ON CREATE SET s.doc_id = $doc_id "+
					"MERGE (o:%s {name: $o_name, tenant_id: $tenant_id}) ON CREATE SET o.doc_id = $doc_id "+
					"MERGE (s)-[r:%s]->(o)",
				rel.SubjectType, rel.ObjectType, rel.Relation)
			_, err := tx.Run(ctx, query, map[string]any{
				"s_name":    rel.Subject,
				"o_name":    rel.Object,
				"tenant_id": tenantID.String(),
				"doc_id":    docID.String(),
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: failed to add relations for document %s: %w", docID, err)
	}
	return nil
}

// DeleteByDoc removes every node (and its relationships) created by the
// given document within the tenant.
func (s *Store) DeleteByDoc(ctx context.Context, docID, tenantID uuid.UUID) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		"MATCH (n {doc_id: $doc_id, tenant_id: $tenant_id}) DETACH DELETE n",
		map[string]any{"doc_id": docID.String(), "tenant_id": tenantID.String()})
	if err != nil {
		return fmt.Errorf("graph: failed to delete subgraph for document %s: %w", docID, err)
	}
	return nil
}
