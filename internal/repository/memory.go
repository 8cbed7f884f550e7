package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/normalize"
)

// Memory is an in-process Store. Values are copied on the way in and out so
// callers never share state with the store.
type Memory struct {
	mu          sync.RWMutex
	sources     map[uuid.UUID]entity.IngestionSource
	jobs        map[uuid.UUID]entity.IngestionJob
	logs        map[uuid.UUID][]entity.ProcessingLog
	extracted   map[uuid.UUID]entity.ExtractedRecipe
	recipes     map[uuid.UUID]entity.Recipe
	ingredients map[string]entity.Ingredient
	pairings    map[string]entity.PairedPhotoSource
	senders     map[string]entity.ApprovedSender
	emails      map[string]entity.ProcessedEmail
	attachments map[uuid.UUID]entity.EmailAttachment
	mappings    *normalize.MemoryStore
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store whose mapping cache holds at most
// mappingCapacity entries.
func NewMemory(mappingCapacity int) *Memory {
	return &Memory{
		sources:     map[uuid.UUID]entity.IngestionSource{},
		jobs:        map[uuid.UUID]entity.IngestionJob{},
		logs:        map[uuid.UUID][]entity.ProcessingLog{},
		extracted:   map[uuid.UUID]entity.ExtractedRecipe{},
		recipes:     map[uuid.UUID]entity.Recipe{},
		ingredients: map[string]entity.Ingredient{},
		pairings:    map[string]entity.PairedPhotoSource{},
		senders:     map[string]entity.ApprovedSender{},
		emails:      map[string]entity.ProcessedEmail{},
		attachments: map[uuid.UUID]entity.EmailAttachment{},
		mappings:    normalize.NewMemoryStore(mappingCapacity),
	}
}

func (m *Memory) Mappings() normalize.MappingStore { return m.mappings }

func (m *Memory) Close() error { return nil }

func notFound(what string, key any) error {
	return fmt.Errorf("%s %v: %w", what, key, common.ErrNotFound)
}

func conflict(what string, key any) error {
	return fmt.Errorf("%s %v: %w", what, key, common.ErrConflict)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// sources

func cloneSource(s entity.IngestionSource) entity.IngestionSource {
	s.ImagePaths = slices.Clone(s.ImagePaths)
	s.ProcessedAt = copyTime(s.ProcessedAt)
	return s
}

func (m *Memory) CreateSource(_ context.Context, src *entity.IngestionSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.Status == "" {
		src.Status = constants.SourcePending
	}
	src.CreatedAt = utc(src.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[src.ID]; ok {
		return conflict("source", src.ID)
	}
	m.sources[src.ID] = cloneSource(*src)
	return nil
}

func (m *Memory) GetSource(_ context.Context, id uuid.UUID) (*entity.IngestionSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, notFound("source", id)
	}
	s = cloneSource(s)
	return &s, nil
}

func (m *Memory) UpdateSourceStatus(_ context.Context, id uuid.UUID, status string, processedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return notFound("source", id)
	}
	s.Status = status
	if processedAt != nil {
		t := processedAt.UTC()
		s.ProcessedAt = &t
	}
	m.sources[id] = s
	return nil
}

func (m *Memory) SetSourceText(_ context.Context, id uuid.UUID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return notFound("source", id)
	}
	s.RawText = text
	m.sources[id] = s
	return nil
}

// jobs

func cloneJob(j entity.IngestionJob) entity.IngestionJob {
	j.FinishedAt = copyTime(j.FinishedAt)
	return j
}

func (m *Memory) CreateJob(_ context.Context, job *entity.IngestionJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Stage == "" {
		job.Stage = constants.StageCreated
	}
	job.StartedAt = utc(job.StartedAt)
	job.UpdatedAt = job.StartedAt
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[job.SourceID]; !ok {
		return notFound("source", job.SourceID)
	}
	if _, ok := m.jobs[job.ID]; ok {
		return conflict("job", job.ID)
	}
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*entity.IngestionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	j = cloneJob(j)
	return &j, nil
}

func (m *Memory) UpdateJob(_ context.Context, job *entity.IngestionJob) error {
	job.UpdatedAt = utc(job.UpdatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[job.ID]
	if !ok {
		return notFound("job", job.ID)
	}
	next := cloneJob(*job)
	next.SourceID, next.StartedAt = cur.SourceID, cur.StartedAt
	m.jobs[job.ID] = next
	return nil
}

func (m *Memory) ListJobsBySource(_ context.Context, sourceID uuid.UUID) ([]entity.IngestionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.IngestionJob
	for _, j := range m.jobs {
		if j.SourceID == sourceID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out, nil
}

func (m *Memory) AppendLog(_ context.Context, entry *entity.ProcessingLog) error {
	entry.CreatedAt = utc(entry.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[entry.JobID]; !ok {
		return notFound("job", entry.JobID)
	}
	entry.Seq = len(m.logs[entry.JobID]) + 1
	m.logs[entry.JobID] = append(m.logs[entry.JobID], *entry)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, jobID uuid.UUID) ([]entity.ProcessingLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.logs[jobID]), nil
}

// extracted recipes

func cloneExtracted(r entity.ExtractedRecipe) entity.ExtractedRecipe {
	r.RawIngredients = slices.Clone(r.RawIngredients)
	r.RawSteps = slices.Clone(r.RawSteps)
	return r
}

func (m *Memory) CreateExtracted(_ context.Context, rec *entity.ExtractedRecipe) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = constants.RecipePending
	}
	rec.CreatedAt = utc(rec.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[rec.JobID]; !ok {
		return notFound("job", rec.JobID)
	}
	m.extracted[rec.ID] = cloneExtracted(*rec)
	return nil
}

func (m *Memory) SetExtractedStatus(_ context.Context, id uuid.UUID, status constants.ExtractedRecipeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.extracted[id]
	if !ok {
		return notFound("extracted recipe", id)
	}
	r.Status = status
	m.extracted[id] = r
	return nil
}

func (m *Memory) ListExtracted(_ context.Context, jobID uuid.UUID) ([]entity.ExtractedRecipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.ExtractedRecipe
	for _, r := range m.extracted {
		if r.JobID == jobID {
			out = append(out, cloneExtracted(r))
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// recipes

func cloneRecipe(r entity.Recipe) entity.Recipe {
	r.Instructions = slices.Clone(r.Instructions)
	r.Ingredients = slices.Clone(r.Ingredients)
	return r
}

func (m *Memory) CreateRecipe(_ context.Context, r *entity.Recipe) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = utc(r.CreatedAt)
	r.UpdatedAt = r.CreatedAt
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipes[r.ID]; ok {
		return conflict("recipe", r.ID)
	}
	m.recipes[r.ID] = cloneRecipe(*r)
	return nil
}

func (m *Memory) UpdateRecipe(_ context.Context, r *entity.Recipe) error {
	r.UpdatedAt = utc(r.UpdatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recipes[r.ID]
	if !ok {
		return notFound("recipe", r.ID)
	}
	next := cloneRecipe(*r)
	next.UserID, next.CreatedAt = cur.UserID, cur.CreatedAt
	m.recipes[r.ID] = next
	return nil
}

func (m *Memory) GetRecipe(_ context.Context, id uuid.UUID) (*entity.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipes[id]
	if !ok {
		return nil, notFound("recipe", id)
	}
	r = cloneRecipe(r)
	return &r, nil
}

func (m *Memory) FindRecipesByName(_ context.Context, userID uuid.UUID, name string) ([]entity.Recipe, error) {
	key := entity.RecipeNameKey(name)
	return m.filterRecipes(func(r entity.Recipe) bool {
		return r.UserID == userID && entity.RecipeNameKey(r.Name) == key
	}), nil
}

func (m *Memory) ListRecipes(_ context.Context, userID uuid.UUID) ([]entity.Recipe, error) {
	return m.filterRecipes(func(r entity.Recipe) bool {
		return userID == uuid.Nil || r.UserID == userID
	}), nil
}

func (m *Memory) filterRecipes(keep func(entity.Recipe) bool) []entity.Recipe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.Recipe
	for _, r := range m.recipes {
		if keep(r) {
			out = append(out, cloneRecipe(r))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	return out
}

// ingredients

func (m *Memory) EnsureIngredient(_ context.Context, ing entity.Ingredient) (entity.Ingredient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.ingredients[ing.Name]; ok {
		return cur, nil
	}
	if ing.ID == uuid.Nil {
		ing.ID = uuid.New()
	}
	ing.CreatedAt = utc(ing.CreatedAt)
	m.ingredients[ing.Name] = ing
	return ing, nil
}

func (m *Memory) ListIngredients(_ context.Context) ([]entity.Ingredient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.Ingredient, 0, len(m.ingredients))
	for _, ing := range m.ingredients {
		out = append(out, ing)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// pairings

func clonePairing(p entity.PairedPhotoSource) entity.PairedPhotoSource {
	if p.Ingredients != nil {
		v := *p.Ingredients
		p.Ingredients = &v
	}
	if p.Directions != nil {
		v := *p.Directions
		p.Directions = &v
	}
	p.JobID = copyUUID(p.JobID)
	return p
}

func (m *Memory) CreatePairing(_ context.Context, p *entity.PairedPhotoSource) error {
	p.CreatedAt = utc(p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairings[p.Token]; ok {
		return conflict("pairing", p.Token)
	}
	m.pairings[p.Token] = clonePairing(*p)
	return nil
}

func (m *Memory) GetPairing(_ context.Context, token string) (*entity.PairedPhotoSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairings[token]
	if !ok {
		return nil, notFound("pairing", token)
	}
	p = clonePairing(p)
	return &p, nil
}

func (m *Memory) UpdatePairing(_ context.Context, p *entity.PairedPhotoSource) error {
	p.UpdatedAt = utc(p.UpdatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.pairings[p.Token]
	if !ok {
		return notFound("pairing", p.Token)
	}
	next := clonePairing(*p)
	next.UserID, next.CreatedAt = cur.UserID, cur.CreatedAt
	m.pairings[p.Token] = next
	return nil
}

// email

func (m *Memory) GetApprovedSender(_ context.Context, email string) (*entity.ApprovedSender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.senders[senderKey(email)]
	if !ok {
		return nil, notFound("approved sender", email)
	}
	return &s, nil
}

func (m *Memory) UpsertApprovedSender(_ context.Context, s *entity.ApprovedSender) error {
	s.Email = senderKey(s.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.senders[s.Email]; ok {
		s.CreatedAt = cur.CreatedAt
	} else {
		s.CreatedAt = utc(s.CreatedAt)
	}
	m.senders[s.Email] = *s
	return nil
}

func (m *Memory) ListApprovedSenders(_ context.Context) ([]entity.ApprovedSender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.ApprovedSender, 0, len(m.senders))
	for _, s := range m.senders {
		out = append(out, s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Email < out[b].Email })
	return out, nil
}

func (m *Memory) MessageProcessed(_ context.Context, messageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emails[messageID]
	return ok, nil
}

func (m *Memory) RecordProcessedEmail(_ context.Context, e *entity.ProcessedEmail) error {
	e.ReceivedAt = utc(e.ReceivedAt)
	e.ProcessedAt = utc(e.ProcessedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[e.MessageID]; ok {
		return conflict("processed email", e.MessageID)
	}
	m.emails[e.MessageID] = *e
	return nil
}

func (m *Memory) SaveAttachment(_ context.Context, a *entity.EmailAttachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = utc(a.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	v := *a
	v.JobID = copyUUID(a.JobID)
	m.attachments[a.ID] = v
	return nil
}

func (m *Memory) ListAttachments(_ context.Context, messageID string) ([]entity.EmailAttachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.EmailAttachment
	for _, a := range m.attachments {
		if a.MessageID == messageID {
			a.JobID = copyUUID(a.JobID)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupIndex != out[j].GroupIndex {
			return out[i].GroupIndex < out[j].GroupIndex
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
