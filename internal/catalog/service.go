package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/scryfall"
)

var (
	// ErrCardNotFound indicates that neither the catalog nor the external service knows the card.
	ErrCardNotFound = errors.New("catalog: card not found")
	// ErrUpstreamUnavailable indicates that the external catalog service could not be reached.
	ErrUpstreamUnavailable = errors.New("catalog: external catalog unavailable")
	// ErrInvalidRequest indicates malformed input to a catalog operation.
	ErrInvalidRequest = errors.New("catalog: invalid request")
	// ErrInvalidCard is returned when a card violates the catalog invariants.
	ErrInvalidCard = cards.ErrInvalidCard

	errMissingStore   = errors.New("card store is required")
	errMissingFetcher = errors.New("external fetcher is required")
	noOpLogger        = zap.NewNop()
	tracer            = otel.Tracer("github.com/MarcoPoloResearchLab/grimoire/backend/internal/catalog")
)

const (
	opServiceNew     = "catalog.service.new"
	opGet            = "catalog.get"
	opGetMany        = "catalog.get_many"
	opUpsert         = "catalog.upsert"
	opImportByName   = "catalog.import_by_name"
	opImportByID     = "catalog.import_by_id"
	opImportByNames  = "catalog.import_by_names"
	opResolveNames   = "catalog.resolve_names"
	opSearch         = "catalog.search"
	opCount          = "catalog.count"
	defaultPageLimit = 50
	maxPageLimit     = 500

	// sharedImportTimeout bounds a collapsed import once it is detached from its callers.
	sharedImportTimeout = 2 * time.Minute
)

// Store persists cards keyed by external identifier.
type Store interface {
	Get(ctx context.Context, externalID string) (cards.Card, bool, error)
	GetMany(ctx context.Context, externalIDs []string) (map[string]cards.Card, error)
	FindByName(ctx context.Context, name string) (cards.Card, bool, error)
	Upsert(ctx context.Context, card cards.Card) (cards.Card, error)
	Search(ctx context.Context, filter cards.SearchFilter, limit, skip int) ([]cards.Card, error)
	Count(ctx context.Context, filter cards.SearchFilter) (int64, error)
}

// Fetcher looks cards up in the external catalog service.
type Fetcher interface {
	FetchByName(ctx context.Context, name string) (scryfall.Card, error)
	FetchByID(ctx context.Context, id string) (scryfall.Card, error)
	FetchCollection(ctx context.Context, identifiers []scryfall.Identifier) ([]scryfall.Card, error)
}

// ServiceConfig wires the catalog service collaborators.
type ServiceConfig struct {
	Store     Store
	Fetcher   Fetcher
	Cache     Cache
	BatchSize int
	Logger    *zap.Logger
}

// Service is the catalog cache/upsert layer.
type Service struct {
	store     Store
	fetcher   Fetcher
	cache     Cache
	batchSize int
	imports   singleflight.Group
	logger    *zap.Logger
}

// ImportResult summarizes a batch import.
type ImportResult struct {
	Total     int                  `json:"total"`
	Success   int                  `json:"success"`
	Failed    int                  `json:"failed"`
	Successes []cards.Card         `json:"successes"`
	Failures  []apperr.ItemFailure `json:"failures"`
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.New(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Fetcher == nil {
		return nil, apperr.New(opServiceNew, "missing_fetcher", errMissingFetcher)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > scryfall.MaxBatchSize {
		batchSize = scryfall.MaxBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		cache:     cfg.Cache,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Get reads one card. The boolean is false when the catalog has no such card.
func (s *Service) Get(ctx context.Context, externalID string) (cards.Card, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return cards.Card{}, false, apperr.New(opGet, "missing_external_id", ErrInvalidRequest)
	}
	if s.cache != nil {
		if card, ok := s.cache.Get(ctx, externalID); ok {
			return card, true, nil
		}
	}
	card, found, err := s.store.Get(ctx, externalID)
	if err != nil {
		s.logError(opGet, "store_failed", err, zap.String("external_id", externalID))
		return cards.Card{}, false, apperr.New(opGet, "store_failed", err)
	}
	if found && s.cache != nil {
		s.cache.Add(ctx, card)
	}
	return card, found, nil
}

// GetMany reads the requested cards in one store round trip. Unknown ids are omitted.
func (s *Service) GetMany(ctx context.Context, externalIDs []string) (map[string]cards.Card, error) {
	ctx, span := tracer.Start(ctx, opGetMany)
	defer span.End()

	ids := distinct(externalIDs)
	span.SetAttributes(attribute.Int("catalog.requested", len(ids)))
	if len(ids) == 0 {
		return map[string]cards.Card{}, nil
	}

	found := map[string]cards.Card{}
	missing := ids
	if s.cache != nil {
		found = s.cache.GetMany(ctx, ids)
		missing = make([]string, 0, len(ids)-len(found))
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	stored, err := s.store.GetMany(ctx, missing)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store_failed")
		s.logError(opGetMany, "store_failed", err, zap.Int("ids", len(missing)))
		return nil, apperr.New(opGetMany, "store_failed", err)
	}
	for id, card := range stored {
		found[id] = card
		if s.cache != nil {
			s.cache.Add(ctx, card)
		}
	}
	span.SetAttributes(attribute.Int("catalog.found", len(found)))
	return found, nil
}

// Upsert replaces or inserts the card keyed by its external id and returns the stored value.
func (s *Service) Upsert(ctx context.Context, card cards.Card) (cards.Card, error) {
	if err := card.Validate(); err != nil {
		return cards.Card{}, apperr.New(opUpsert, "invalid_card", err)
	}
	stored, err := s.store.Upsert(ctx, card)
	if err != nil {
		s.logError(opUpsert, "store_failed", err, zap.String("external_id", card.ExternalID))
		return cards.Card{}, apperr.New(opUpsert, "store_failed", err)
	}
	if s.cache != nil {
		s.cache.Add(ctx, stored)
	}
	return stored, nil
}

// ImportByName returns the stored card with the given name, fetching and storing it when
// absent or when refresh is set.
func (s *Service) ImportByName(ctx context.Context, name string, refresh bool) (cards.Card, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return cards.Card{}, apperr.New(opImportByName, "missing_name", ErrInvalidRequest)
	}
	if !refresh {
		card, found, err := s.store.FindByName(ctx, name)
		if err != nil {
			s.logError(opImportByName, "store_failed", err, zap.String("name", name))
			return cards.Card{}, apperr.New(opImportByName, "store_failed", err)
		}
		if found {
			return card, nil
		}
	}
	return s.importOnce(ctx, opImportByName, "name:"+strings.ToLower(name), func(ctx context.Context) (scryfall.Card, error) {
		return s.fetcher.FetchByName(ctx, name)
	})
}

// ImportByID returns the stored card with the given external id, fetching and storing it
// when absent or when refresh is set.
func (s *Service) ImportByID(ctx context.Context, externalID string, refresh bool) (cards.Card, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return cards.Card{}, apperr.New(opImportByID, "missing_external_id", ErrInvalidRequest)
	}
	if !refresh {
		card, found, err := s.Get(ctx, externalID)
		if err != nil {
			return cards.Card{}, err
		}
		if found {
			return card, nil
		}
	}
	return s.importOnce(ctx, opImportByID, "id:"+externalID, func(ctx context.Context) (scryfall.Card, error) {
		return s.fetcher.FetchByID(ctx, externalID)
	})
}

// importOnce collapses concurrent imports of the same key into one external call. The
// shared call runs detached from any single caller; each caller stops waiting when its own
// context ends.
func (s *Service) importOnce(ctx context.Context, operation, key string, fetch func(context.Context) (scryfall.Card, error)) (cards.Card, error) {
	ctx, span := tracer.Start(ctx, operation)
	defer span.End()
	span.SetAttributes(attribute.String("catalog.key", key))

	results := s.imports.DoChan(key, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedImportTimeout)
		defer cancel()

		record, err := fetch(sharedCtx)
		if err != nil {
			return nil, s.classifyFetchError(operation, key, err)
		}
		card, err := cards.Normalize(record)
		if err != nil {
			s.logError(operation, "invalid_record", err, zap.String("key", key))
			return nil, apperr.New(operation, "invalid_record", err)
		}
		stored, err := s.Upsert(sharedCtx, card)
		if err != nil {
			return nil, err
		}
		return stored, nil
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		err := apperr.New(operation, "canceled", ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
		return cards.Card{}, err
	case result = <-results:
	}
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, apperr.CodeOf(result.Err))
		return cards.Card{}, result.Err
	}
	span.SetAttributes(attribute.Bool("catalog.shared", result.Shared))
	card := result.Val.(cards.Card)
	return card.Clone(), nil
}

func (s *Service) classifyFetchError(operation, key string, err error) error {
	switch {
	case errors.Is(err, scryfall.ErrNotFound):
		return apperr.New(operation, "not_found", fmt.Errorf("%w: %w", ErrCardNotFound, err))
	case errors.Is(err, scryfall.ErrRequestRejected):
		return apperr.New(operation, "rejected", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	default:
		s.logError(operation, "upstream_unavailable", err, zap.String("key", key))
		return apperr.New(operation, "upstream_unavailable", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
	}
}

// ImportByNames fetches the named cards in sequential chunks and upserts each one
// independently. Per-item problems land in the result; an unreachable upstream marks the
// current chunk and every later chunk as failed.
func (s *Service) ImportByNames(ctx context.Context, names []string) (ImportResult, error) {
	ctx, span := tracer.Start(ctx, opImportByNames)
	defer span.End()

	requested := distinctNames(names)
	if len(requested) == 0 {
		return ImportResult{}, apperr.New(opImportByNames, "missing_names", ErrInvalidRequest)
	}
	span.SetAttributes(attribute.Int("catalog.requested", len(requested)))

	result := ImportResult{
		Total:     len(requested),
		Successes: []cards.Card{},
		Failures:  []apperr.ItemFailure{},
	}
	chunks := chunkStrings(requested, s.batchSize)
	for index, chunk := range chunks {
		err := s.importChunk(ctx, chunk, &result)
		if err == nil {
			continue
		}
		if errors.Is(err, scryfall.ErrUnavailable) || ctx.Err() != nil {
			s.logError(opImportByNames, "upstream_unavailable", err,
				zap.Int("chunk", index),
				zap.Int("remaining_chunks", len(chunks)-index))
			reason := ErrUpstreamUnavailable.Error()
			for _, remaining := range chunks[index:] {
				for _, name := range remaining {
					result.Failures = append(result.Failures, apperr.ItemFailure{Key: name, Error: reason})
				}
			}
			break
		}
		s.logError(opImportByNames, "chunk_failed", err, zap.Int("chunk", index))
		for _, name := range chunk {
			result.Failures = append(result.Failures, apperr.ItemFailure{Key: name, Error: err.Error()})
		}
	}

	result.Success = len(result.Successes)
	result.Failed = len(result.Failures)
	span.SetAttributes(
		attribute.Int("catalog.success", result.Success),
		attribute.Int("catalog.failed", result.Failed),
	)
	return result, nil
}

func (s *Service) importChunk(ctx context.Context, chunk []string, result *ImportResult) error {
	identifiers := make([]scryfall.Identifier, len(chunk))
	pending := make(map[string]string, len(chunk))
	for index, name := range chunk {
		identifiers[index] = scryfall.Identifier{Name: name}
		pending[strings.ToLower(name)] = name
	}

	records, err := s.fetcher.FetchCollection(ctx, identifiers)
	if err != nil {
		return err
	}

	for _, record := range records {
		requestedName, ok := matchRequestedName(record, pending)
		if !ok {
			s.loggerOrDefault().Debug("collection record matched no requested name",
				zap.String("name", record.Name))
			continue
		}
		delete(pending, strings.ToLower(requestedName))

		card, err := cards.Normalize(record)
		if err != nil {
			result.Failures = append(result.Failures, apperr.ItemFailure{Key: requestedName, Error: err.Error()})
			continue
		}
		stored, err := s.Upsert(ctx, card)
		if err != nil {
			result.Failures = append(result.Failures, apperr.ItemFailure{Key: requestedName, Error: err.Error()})
			continue
		}
		result.Successes = append(result.Successes, stored)
	}

	for _, name := range chunk {
		if _, missing := pending[strings.ToLower(name)]; missing {
			result.Failures = append(result.Failures, apperr.ItemFailure{Key: name, Error: ErrCardNotFound.Error()})
		}
	}
	return nil
}

// matchRequestedName correlates a collection record with a requested name. Multi-faced
// cards may be requested by their full "A // B" name or by either face.
func matchRequestedName(record scryfall.Card, pending map[string]string) (string, bool) {
	candidates := []string{record.Name}
	candidates = append(candidates, strings.Split(record.Name, " // ")...)
	for _, face := range record.CardFaces {
		candidates = append(candidates, face.Name)
	}
	for _, candidate := range candidates {
		if name, ok := pending[strings.ToLower(strings.TrimSpace(candidate))]; ok {
			return name, true
		}
	}
	return "", false
}

// ResolveNames looks display names up by external id without touching the store. On failure
// the names resolved so far are returned together with the error.
func (s *Service) ResolveNames(ctx context.Context, externalIDs []string) (map[string]string, error) {
	ctx, span := tracer.Start(ctx, opResolveNames)
	defer span.End()

	names := map[string]string{}
	for _, chunk := range chunkStrings(distinct(externalIDs), s.batchSize) {
		identifiers := make([]scryfall.Identifier, len(chunk))
		for index, id := range chunk {
			identifiers[index] = scryfall.Identifier{ID: id}
		}
		records, err := s.fetcher.FetchCollection(ctx, identifiers)
		if err != nil {
			span.RecordError(err)
			return names, apperr.New(opResolveNames, "upstream_unavailable", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
		}
		for _, record := range records {
			if record.ID != "" && record.Name != "" {
				names[record.ID] = record.Name
			}
		}
	}
	return names, nil
}

// Page is one window of a card search together with the effective paging and total match count.
type Page struct {
	Cards []cards.Card `json:"cards"`
	Total int64        `json:"total"`
	Limit int          `json:"limit"`
	Skip  int          `json:"skip"`
}

// Search lists stored cards matching the filter ordered by name. A zero limit selects the
// default page size.
func (s *Service) Search(ctx context.Context, filter cards.SearchFilter, limit, skip int) (Page, error) {
	limit, skip, err := normalizePage(opSearch, limit, skip)
	if err != nil {
		return Page{}, err
	}
	found, err := s.store.Search(ctx, filter, limit, skip)
	if err != nil {
		s.logError(opSearch, "store_failed", err)
		return Page{}, apperr.New(opSearch, "store_failed", err)
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		s.logError(opSearch, "store_failed", err)
		return Page{}, apperr.New(opSearch, "store_failed", err)
	}
	if found == nil {
		found = []cards.Card{}
	}
	return Page{Cards: found, Total: total, Limit: limit, Skip: skip}, nil
}

// Count reports how many stored cards match the filter.
func (s *Service) Count(ctx context.Context, filter cards.SearchFilter) (int64, error) {
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		s.logError(opCount, "store_failed", err)
		return 0, apperr.New(opCount, "store_failed", err)
	}
	return total, nil
}

func normalizePage(operation string, limit, skip int) (int, int, error) {
	if limit < 0 || skip < 0 {
		return 0, 0, apperr.New(operation, "invalid_page", ErrInvalidRequest)
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, skip, nil
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

// distinctNames de-duplicates names case-insensitively, keeping the first spelling.
func distinctNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	result := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, name)
	}
	return result
}

func chunkStrings(values []string, size int) [][]string {
	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("catalog service error", attrs...)
}
