package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FindByPartialID returns every ticket id containing prefix as a
// substring. Ambiguity/uniqueness is the caller's decision, per spec §4.6.
func (s *Store) FindByPartialID(ctx context.Context, prefix string) ([]string, error) {
	return findPartial(ctx, s.db.conn, "tickets", "ticket_id", prefix)
}

// FindPlanByPartialID is the plan-kind counterpart of FindByPartialID.
func (s *Store) FindPlanByPartialID(ctx context.Context, prefix string) ([]string, error) {
	return findPartial(ctx, s.db.conn, "plans", "plan_id", prefix)
}

func findPartial(ctx context.Context, conn *sql.DB, table, idCol, prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIKE ? ESCAPE '\'`, idCol, table, idCol) //nolint:gosec // table/idCol constants
	pattern := "%" + escapeLike(prefix) + "%"
	rows, err := conn.QueryContext(ctx, query, pattern)
	if err != nil {
		return nil, withBusyRetry(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GetAllTickets returns every ticket row, hydrated into the in-memory shape.
func (s *Store) GetAllTickets(ctx context.Context) ([]Ticket, error) {
	rows, err := s.db.conn.QueryContext(ctx, ticketSelectColumns+` FROM tickets`)
	if err != nil {
		return nil, withBusyRetry(err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetAllPlans returns every plan row, hydrated into the in-memory shape.
func (s *Store) GetAllPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT plan_id, uuid, mtime_ns, title, created, structure_type, tickets_json, phases_json FROM plans`)
	if err != nil {
		return nil, withBusyRetry(err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BuildTicketMap returns every ticket indexed by id.
func (s *Store) BuildTicketMap(ctx context.Context) (map[string]Ticket, error) {
	tickets, err := s.GetAllTickets(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Ticket, len(tickets))
	for _, t := range tickets {
		m[t.ID] = t
	}
	return m, nil
}

// ChildrenCounts returns, for every ticket id that appears as a parent,
// the number of tickets naming it as parent. A single aggregation query
// avoids the N+1 pattern a per-ticket lookup would cause.
func (s *Store) ChildrenCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT parent, COUNT(*) FROM tickets WHERE parent IS NOT NULL AND parent != '' GROUP BY parent`)
	if err != nil {
		return nil, withBusyRetry(err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var parent string
		var count int
		if err := rows.Scan(&parent, &count); err != nil {
			return nil, err
		}
		counts[parent] = count
	}
	return counts, rows.Err()
}

// EmbeddingCoverage reports how many tickets carry a non-NULL embedding
// out of the total ticket count.
func (s *Store) EmbeddingCoverage(ctx context.Context) (with, total int, err error) {
	err = s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE embedding IS NOT NULL`).Scan(&with)
	if err != nil {
		return 0, 0, withBusyRetry(err)
	}
	err = s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&total)
	if err != nil {
		return 0, 0, withBusyRetry(err)
	}
	return with, total, nil
}

// SemanticSearch returns up to k tickets nearest to queryVec by cosine
// similarity, via the in-process vector index rebuilt on the last Sync,
// then hydrates each hit's full row from the database. If threshold is
// non-zero, results below it are filtered out in Go, matching the
// spec's note that the SQL/index path itself stays unconditional.
func (s *Store) SemanticSearch(ctx context.Context, queryVec []float32, k int, threshold float32) ([]SearchResult, error) {
	matches, err := s.vectors.Search(queryVec, k, threshold)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		t, err := s.getTicketByID(ctx, m.ID)
		if err != nil {
			continue // row may have been deleted between index rebuild and this read
		}
		results = append(results, SearchResult{Ticket: t, Similarity: m.Similarity})
	}
	return results, nil
}

func (s *Store) getTicketByID(ctx context.Context, id string) (Ticket, error) {
	row := s.db.conn.QueryRowContext(ctx, ticketSelectColumns+` FROM tickets WHERE ticket_id = ?`, id)
	return scanTicket(row)
}

const ticketSelectColumns = `SELECT ticket_id, uuid, mtime_ns, status, title, priority, ticket_type,
	deps, links, parent, created, external_ref, remote, completion_summary,
	spawned_from, spawn_context, depth, file_path, triaged, body, size, embedding`

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which
// implement Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (Ticket, error) {
	var t Ticket
	var status, ticketType, depsJSON, linksJSON, created, triaged sql.NullString
	var embedding []byte
	var depth sql.NullInt64

	err := row.Scan(
		&t.ID, &t.UUID, &t.MtimeNS, &status, &t.Title, &t.Priority, &ticketType,
		&depsJSON, &linksJSON, &t.Parent, &created, &t.ExternalRef, &t.Remote,
		&t.CompletionSummary, &t.SpawnedFrom, &t.SpawnContext, &depth,
		&t.FilePath, &triaged, &t.Body, &t.Size, &embedding,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, &ErrNotFound{ID: t.ID}
		}
		return t, err
	}

	t.Status = TicketStatus(status.String)
	t.Type = TicketType(ticketType.String)
	if depsJSON.Valid && depsJSON.String != "" {
		_ = json.Unmarshal([]byte(depsJSON.String), &t.Deps)
	}
	if linksJSON.Valid && linksJSON.String != "" {
		_ = json.Unmarshal([]byte(linksJSON.String), &t.Links)
	}
	if created.Valid {
		if parsed, err := time.Parse(time.RFC3339, created.String); err == nil {
			t.Created = &parsed
		}
	}
	if depth.Valid {
		d := int(depth.Int64)
		t.Depth = &d
	}
	if triaged.Valid {
		b := triaged.String == "1"
		t.Triaged = &b
	}
	if len(embedding) > 0 {
		vec, err := decodeVector(embedding)
		if err == nil {
			t.Embedding = vec
		}
	}
	return t, nil
}

func scanPlan(row rowScanner) (Plan, error) {
	var p Plan
	var created, ticketsJSON, phasesJSON sql.NullString
	var structureType string

	err := row.Scan(&p.ID, &p.UUID, &p.MtimeNS, &p.Title, &created, &structureType, &ticketsJSON, &phasesJSON)
	if err != nil {
		return p, err
	}
	p.StructureType = StructureType(structureType)
	if created.Valid {
		if parsed, err := time.Parse(time.RFC3339, created.String); err == nil {
			p.Created = &parsed
		}
	}
	if ticketsJSON.Valid && ticketsJSON.String != "" {
		_ = json.Unmarshal([]byte(ticketsJSON.String), &p.Tickets)
	}
	if phasesJSON.Valid && phasesJSON.String != "" {
		_ = json.Unmarshal([]byte(phasesJSON.String), &p.Phases)
	}
	return p, nil
}
