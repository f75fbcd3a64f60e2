package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/janus-dev/janus-cache/internal/embedcache"
	"github.com/janus-dev/janus-cache/internal/embedder"
)

// Syncer reconciles the on-disk items/plans directories into the
// database, one kind per transaction. It holds no state across calls
// besides its collaborators; fields are supplied once at Store
// construction time.
type Syncer struct {
	db        *DB
	cache     *embedcache.Cache
	embed     embedder.Embedder
	parseItem ParseItemFunc
	itemsDir  string
	plansDir  string
	batchSize int
	log       *slog.Logger
}

// NewSyncer wires the sync engine's collaborators. parseItem and embed
// are external collaborators per spec §6; the reference implementations
// live in internal/itemparser and internal/embedder. batchSize is the
// number of items embedded concurrently within one transaction, read
// from config.Config.Embeddings.BatchSize; a non-positive value falls
// back to embedder.DefaultBatchSize.
func NewSyncer(db *DB, cache *embedcache.Cache, embed embedder.Embedder, parseItem ParseItemFunc, repoRoot string, batchSize int, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = embedder.DefaultBatchSize
	}
	return &Syncer{
		db:        db,
		cache:     cache,
		embed:     embed,
		parseItem: parseItem,
		itemsDir:  filepath.Join(repoRoot, ".janus", "items"),
		plansDir:  filepath.Join(repoRoot, ".janus", "plans"),
		batchSize: batchSize,
		log:       log,
	}
}

// Sync reconciles tickets then plans, each in its own transaction, per
// spec §4.5. A no-op sync touches no rows: readers never observe an
// empty intermediate state since each kind commits atomically.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	ticketReport, err := s.syncTickets(ctx)
	if err != nil {
		return report, fmt.Errorf("sync tickets: %w", err)
	}
	report.TicketsCreated = ticketReport.created
	report.TicketsUpdated = ticketReport.updated
	report.TicketsDeleted = ticketReport.deleted
	report.Warnings = append(report.Warnings, ticketReport.warnings...)

	planReport, err := s.syncPlans(ctx)
	if err != nil {
		return report, fmt.Errorf("sync plans: %w", err)
	}
	report.PlansCreated = planReport.created
	report.PlansUpdated = planReport.updated
	report.PlansDeleted = planReport.deleted
	report.Warnings = append(report.Warnings, planReport.warnings...)

	return report, nil
}

type kindReport struct {
	created, updated, deleted int
	warnings                  []Warning
}

func (s *Syncer) syncTickets(ctx context.Context) (kindReport, error) {
	var rep kindReport

	diskIDs, diskPaths, err := scanMarkdown(s.itemsDir)
	if err != nil {
		return rep, err
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return rep, withBusyRetry(err)
	}
	defer func() { _ = tx.Rollback() }()

	dbMtimes, err := queryMtimes(ctx, tx, "tickets", "ticket_id")
	if err != nil {
		return rep, err
	}

	toUpsert := make([]string, 0)
	for id := range diskIDs {
		existing, known := dbMtimes[id]
		if !known {
			toUpsert = append(toUpsert, id)
			continue
		}
		info, statErr := os.Stat(diskPaths[id])
		if statErr != nil {
			continue
		}
		if info.ModTime().UnixNano() > existing {
			toUpsert = append(toUpsert, id)
		}
	}
	toDelete := make([]string, 0)
	for id := range dbMtimes {
		if _, onDisk := diskIDs[id]; !onDisk {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE ticket_id = ?`, id); err != nil {
			return rep, fmt.Errorf("delete ticket %s: %w", id, err)
		}
		rep.deleted++
	}

	for start := 0; start < len(toUpsert); start += s.batchSize {
		end := min(start+s.batchSize, len(toUpsert))
		batch := toUpsert[start:end]
		created, updated, warnings := s.upsertTicketBatch(ctx, tx, batch, diskPaths, dbMtimes)
		rep.created += created
		rep.updated += updated
		rep.warnings = append(rep.warnings, warnings...)
	}

	if err := tx.Commit(); err != nil {
		return rep, withBusyRetry(err)
	}
	return rep, nil
}

// upsertTicketBatch parses and embeds one batch concurrently, then
// writes every successfully parsed row serially (SQLite tolerates only
// one writer at a time; the concurrency here is in parsing and
// embedding, not in the DML itself).
func (s *Syncer) upsertTicketBatch(ctx context.Context, tx *sql.Tx, ids []string, diskPaths map[string]string, dbMtimes map[string]int64) (created, updated int, warnings []Warning) {
	type parsed struct {
		id        string
		meta      Metadata
		mtimeNS   int64
		embedding []float32
		embedWarn *Warning
		err       error
	}
	results := make([]parsed, len(ids))

	group, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		group.Go(func() error {
			path := diskPaths[id]
			meta, mtimeNS, err := s.parseItem(path)
			if err != nil {
				results[i] = parsed{id: id, err: &ErrParseFailure{ID: id, Reason: err.Error()}}
				return nil
			}
			if meta.Ticket == nil {
				results[i] = parsed{id: id, err: &ErrParseFailure{ID: id, Reason: "parser returned no ticket metadata"}}
				return nil
			}

			text := meta.Ticket.Title + "\n\n" + meta.Ticket.Body
			vec, embedErr := s.cache.GetOrCompute(path, mtimeNS, func() ([]float32, error) {
				return s.embed.Embed(gctx, text)
			})
			var warn *Warning
			if embedErr != nil {
				s.log.Warn("embedding failed, row will store NULL embedding",
					slog.String("ticket_id", id), slog.String("error", embedErr.Error()))
				warn = &Warning{EntityType: "ticket", FilePath: path, Message: embedErr.Error()}
			}
			results[i] = parsed{id: id, meta: meta, mtimeNS: mtimeNS, embedding: vec, embedWarn: warn}
			return nil
		})
	}
	_ = group.Wait() // individual errors are carried in results, never aborts the batch

	for _, r := range results {
		if r.err != nil {
			warnings = append(warnings, Warning{EntityType: "ticket", FilePath: diskPaths[r.id], Message: r.err.Error()})
			continue
		}
		if err := upsertTicketRow(ctx, tx, r.meta.Ticket, r.mtimeNS, r.embedding); err != nil {
			warnings = append(warnings, Warning{EntityType: "ticket", FilePath: diskPaths[r.id], Message: err.Error()})
			continue
		}
		if r.embedWarn != nil {
			warnings = append(warnings, *r.embedWarn)
		}
		if _, existed := dbMtimes[r.id]; existed {
			updated++
		} else {
			created++
		}
	}
	return created, updated, warnings
}

func upsertTicketRow(ctx context.Context, tx *sql.Tx, t *Ticket, mtimeNS int64, embedding []float32) error {
	var embBlob []byte
	if len(embedding) > 0 {
		embBlob = encodeVector(embedding)
	}
	var createdStr *string
	if t.Created != nil {
		v := t.Created.Format(time.RFC3339)
		createdStr = &v
	}
	var triaged *int
	if t.Triaged != nil {
		v := 0
		if *t.Triaged {
			v = 1
		}
		triaged = &v
	}

	depsJSON, _ := json.Marshal(t.Deps)
	linksJSON, _ := json.Marshal(t.Links)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (
			ticket_id, uuid, mtime_ns, status, title, priority, ticket_type,
			deps, links, parent, created, external_ref, remote,
			completion_summary, spawned_from, spawn_context, depth,
			file_path, triaged, body, size, embedding
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(ticket_id) DO UPDATE SET
			uuid=excluded.uuid, mtime_ns=excluded.mtime_ns, status=excluded.status,
			title=excluded.title, priority=excluded.priority, ticket_type=excluded.ticket_type,
			deps=excluded.deps, links=excluded.links, parent=excluded.parent,
			created=excluded.created, external_ref=excluded.external_ref, remote=excluded.remote,
			completion_summary=excluded.completion_summary, spawned_from=excluded.spawned_from,
			spawn_context=excluded.spawn_context, depth=excluded.depth, file_path=excluded.file_path,
			triaged=excluded.triaged, body=excluded.body, size=excluded.size, embedding=excluded.embedding
	`,
		t.ID, t.UUID, mtimeNS, string(t.Status), t.Title, t.Priority, string(t.Type),
		string(depsJSON), string(linksJSON), t.Parent, createdStr, t.ExternalRef, t.Remote,
		t.CompletionSummary, t.SpawnedFrom, t.SpawnContext, t.Depth,
		t.FilePath, triaged, t.Body, t.Size, embBlob,
	)
	return err
}

func (s *Syncer) syncPlans(ctx context.Context) (kindReport, error) {
	var rep kindReport

	diskIDs, diskPaths, err := scanMarkdown(s.plansDir)
	if err != nil {
		return rep, err
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return rep, withBusyRetry(err)
	}
	defer func() { _ = tx.Rollback() }()

	dbMtimes, err := queryMtimes(ctx, tx, "plans", "plan_id")
	if err != nil {
		return rep, err
	}

	toDelete := make([]string, 0)
	for id := range dbMtimes {
		if _, onDisk := diskIDs[id]; !onDisk {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE plan_id = ?`, id); err != nil {
			return rep, fmt.Errorf("delete plan %s: %w", id, err)
		}
		rep.deleted++
	}

	for id := range diskIDs {
		existing, known := dbMtimes[id]
		path := diskPaths[id]
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		if known && info.ModTime().UnixNano() <= existing {
			continue
		}

		meta, mtimeNS, err := s.parseItem(path)
		if err != nil || meta.Plan == nil {
			reason := "parser returned no plan metadata"
			if err != nil {
				reason = err.Error()
			}
			rep.warnings = append(rep.warnings, Warning{EntityType: "plan", FilePath: path, Message: reason})
			continue
		}
		if err := upsertPlanRow(ctx, tx, meta.Plan, mtimeNS); err != nil {
			rep.warnings = append(rep.warnings, Warning{EntityType: "plan", FilePath: path, Message: err.Error()})
			continue
		}
		if known {
			rep.updated++
		} else {
			rep.created++
		}
	}

	if err := tx.Commit(); err != nil {
		return rep, withBusyRetry(err)
	}
	return rep, nil
}

func upsertPlanRow(ctx context.Context, tx *sql.Tx, p *Plan, mtimeNS int64) error {
	var createdStr *string
	if p.Created != nil {
		v := p.Created.Format(time.RFC3339)
		createdStr = &v
	}
	ticketsJSON, _ := json.Marshal(p.Tickets)
	phasesJSON, _ := json.Marshal(p.Phases)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO plans (plan_id, uuid, mtime_ns, title, created, structure_type, tickets_json, phases_json)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(plan_id) DO UPDATE SET
			uuid=excluded.uuid, mtime_ns=excluded.mtime_ns, title=excluded.title,
			created=excluded.created, structure_type=excluded.structure_type,
			tickets_json=excluded.tickets_json, phases_json=excluded.phases_json
	`, p.ID, p.UUID, mtimeNS, p.Title, createdStr, string(p.StructureType), string(ticketsJSON), string(phasesJSON))
	return err
}

// scanMarkdown returns the set of id stems found as *.md files directly
// under dir, and a map from id to full path. A missing directory is not
// an error: it is treated as an empty corpus.
func scanMarkdown(dir string) (map[string]struct{}, map[string]string, error) {
	ids := make(map[string]struct{})
	paths := make(map[string]string)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, paths, nil
		}
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".md")
		ids[id] = struct{}{}
		paths[id] = filepath.Join(dir, entry.Name())
	}
	return ids, paths, nil
}

func queryMtimes(ctx context.Context, tx *sql.Tx, table, idCol string) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT %s, mtime_ns FROM %s`, idCol, table)) //nolint:gosec // table/idCol are compile-time constants
	if err != nil {
		return nil, fmt.Errorf("query %s mtimes: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var mtime int64
		if err := rows.Scan(&id, &mtime); err != nil {
			return nil, err
		}
		out[id] = mtime
	}
	return out, rows.Err()
}

// encodeVector packs a vector as raw little-endian float32 values, the
// same format embedcache uses for its .bin files, so a BLOB column and a
// cache file are byte-for-byte interchangeable.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeVector unpacks a BLOB written by encodeVector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
