package itemparser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/janus-dev/janus-cache/internal/store"
)

const frontmatterDelimiter = "---"

// headingPattern matches the first level-1 Markdown heading, used as the
// title when frontmatter doesn't set one explicitly.
var headingPattern = regexp.MustCompile(`(?m)^#\s+(.+?)\s*$`)

type ticketFrontmatter struct {
	ID                string   `yaml:"id"`
	UUID              string   `yaml:"uuid"`
	Title             string   `yaml:"title"`
	Status            string   `yaml:"status"`
	Priority          int      `yaml:"priority"`
	Type              string   `yaml:"type"`
	Size              string   `yaml:"size"`
	Deps              []string `yaml:"deps"`
	Links             []string `yaml:"links"`
	Parent            string   `yaml:"parent"`
	Created           string   `yaml:"created"`
	ExternalRef       string   `yaml:"external_ref"`
	Remote            string   `yaml:"remote"`
	CompletionSummary string   `yaml:"completion_summary"`
	SpawnedFrom       string   `yaml:"spawned_from"`
	SpawnContext      string   `yaml:"spawn_context"`
	Depth             *int     `yaml:"depth"`
	Triaged           *bool    `yaml:"triaged"`
}

type planFrontmatter struct {
	ID            string        `yaml:"id"`
	UUID          string        `yaml:"uuid"`
	Title         string        `yaml:"title"`
	Created       string        `yaml:"created"`
	StructureType string        `yaml:"structure_type"`
	Tickets       []string      `yaml:"tickets"`
	Phases        []phaseSyntax `yaml:"phases"`
}

type phaseSyntax struct {
	Number  int      `yaml:"number"`
	Name    string   `yaml:"name"`
	Tickets []string `yaml:"tickets"`
}

// ParseItem is the reference ParseItemFunc: it reads path, classifies it
// as a ticket or a plan by its parent directory (items/ or plans/), and
// returns the parsed Metadata alongside the file's current mtime in
// nanoseconds. The id is always taken from the filename stem, never from
// the frontmatter, matching the spec's "filename stem is the primary
// key" rule.
func ParseItem(path string) (store.Metadata, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return store.Metadata{}, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	mtimeNS := info.ModTime().UnixNano()

	raw, err := os.ReadFile(path)
	if err != nil {
		return store.Metadata{}, mtimeNS, fmt.Errorf("read %s: %w", path, err)
	}

	fmYAML, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return store.Metadata{}, mtimeNS, fmt.Errorf("parse %s: %w", path, err)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	kind := filepath.Base(filepath.Dir(path))

	switch kind {
	case "plans":
		plan, err := parsePlan(id, fmYAML, body)
		if err != nil {
			return store.Metadata{}, mtimeNS, fmt.Errorf("parse %s: %w", path, err)
		}
		plan.MtimeNS = mtimeNS
		return store.Metadata{Plan: plan}, mtimeNS, nil
	default:
		ticket, err := parseTicket(id, fmYAML, body)
		if err != nil {
			return store.Metadata{}, mtimeNS, fmt.Errorf("parse %s: %w", path, err)
		}
		ticket.MtimeNS = mtimeNS
		ticket.FilePath = path
		return store.Metadata{Ticket: ticket}, mtimeNS, nil
	}
}

// splitFrontmatter separates a leading "---\n...\n---\n" YAML block from
// the remaining Markdown body. A file with no frontmatter delimiter is
// treated as having empty frontmatter and the whole file as body.
func splitFrontmatter(content string) (fmYAML string, body string, err error) {
	if !strings.HasPrefix(content, frontmatterDelimiter) {
		return "", content, nil
	}

	rest := content[len(frontmatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontmatterDelimiter)
	if idx == -1 {
		return "", "", fmt.Errorf("unclosed frontmatter block")
	}

	fmYAML = rest[:idx]
	body = strings.TrimPrefix(rest[idx+len("\n"+frontmatterDelimiter):], "\n")
	return fmYAML, body, nil
}

func parseTicket(id, fmYAML, body string) (*store.Ticket, error) {
	var fm ticketFrontmatter
	if strings.TrimSpace(fmYAML) != "" {
		if err := yaml.Unmarshal([]byte(fmYAML), &fm); err != nil {
			return nil, fmt.Errorf("unmarshal ticket frontmatter: %w", err)
		}
	}

	title := fm.Title
	if title == "" {
		title = firstHeading(body)
	}

	t := &store.Ticket{
		ID:                id,
		UUID:              fm.UUID,
		Status:            store.TicketStatus(fm.Status),
		Title:             title,
		Priority:          fm.Priority,
		Type:              store.TicketType(fm.Type),
		Deps:              nonNil(fm.Deps),
		Links:             nonNil(fm.Links),
		Parent:            fm.Parent,
		ExternalRef:       fm.ExternalRef,
		Remote:            fm.Remote,
		CompletionSummary: fm.CompletionSummary,
		SpawnedFrom:       fm.SpawnedFrom,
		SpawnContext:      fm.SpawnContext,
		Depth:             fm.Depth,
		Triaged:           fm.Triaged,
		Size:              fm.Size,
		Body:              body,
	}
	if t.Status == "" {
		t.Status = store.StatusNew
	}
	if created, ok := parseCreated(fm.Created); ok {
		t.Created = &created
	}
	return t, nil
}

func parsePlan(id, fmYAML, body string) (*store.Plan, error) {
	var fm planFrontmatter
	if strings.TrimSpace(fmYAML) != "" {
		if err := yaml.Unmarshal([]byte(fmYAML), &fm); err != nil {
			return nil, fmt.Errorf("unmarshal plan frontmatter: %w", err)
		}
	}

	title := fm.Title
	if title == "" {
		title = firstHeading(body)
	}

	p := &store.Plan{
		ID:            id,
		UUID:          fm.UUID,
		Title:         title,
		StructureType: store.StructureType(fm.StructureType),
	}
	if p.StructureType == "" {
		p.StructureType = store.StructureSimple
	}

	switch p.StructureType {
	case store.StructurePhased:
		p.Phases = make([]store.Phase, 0, len(fm.Phases))
		for _, ph := range fm.Phases {
			p.Phases = append(p.Phases, store.Phase{
				Number:  ph.Number,
				Name:    ph.Name,
				Tickets: nonNil(ph.Tickets),
			})
		}
	default:
		p.Tickets = nonNil(fm.Tickets)
	}

	if created, ok := parseCreated(fm.Created); ok {
		p.Created = &created
	}
	return p, nil
}

func firstHeading(body string) string {
	m := headingPattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

var createdLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseCreated(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
