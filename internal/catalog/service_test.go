package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/scryfall"
)

type memoryStore struct {
	mu          sync.Mutex
	cards       map[string]cards.Card
	getManyHits int
	upserts     int
	failUpsert  map[string]bool
}

func newMemoryStore(seed ...cards.Card) *memoryStore {
	store := &memoryStore{cards: map[string]cards.Card{}, failUpsert: map[string]bool{}}
	for _, card := range seed {
		store.cards[card.ExternalID] = card
	}
	return store
}

func (m *memoryStore) Get(_ context.Context, externalID string) (cards.Card, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[externalID]
	return card, ok, nil
}

func (m *memoryStore) GetMany(_ context.Context, externalIDs []string) (map[string]cards.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getManyHits++
	found := map[string]cards.Card{}
	for _, id := range externalIDs {
		if card, ok := m.cards[id]; ok {
			found[id] = card
		}
	}
	return found, nil
}

func (m *memoryStore) FindByName(_ context.Context, name string) (cards.Card, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, card := range m.cards {
		if strings.EqualFold(card.Name, name) {
			return card, true, nil
		}
	}
	return cards.Card{}, false, nil
}

func (m *memoryStore) Upsert(_ context.Context, card cards.Card) (cards.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert[card.ExternalID] {
		return cards.Card{}, errors.New("disk full")
	}
	m.upserts++
	m.cards[card.ExternalID] = card
	return card, nil
}

func (m *memoryStore) Search(_ context.Context, filter cards.SearchFilter, limit, skip int) ([]cards.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := []cards.Card{}
	for _, card := range m.cards {
		if filter.Name == "" || strings.Contains(strings.ToLower(card.Name), strings.ToLower(filter.Name)) {
			found = append(found, card)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	if skip >= len(found) {
		return []cards.Card{}, nil
	}
	found = found[skip:]
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (m *memoryStore) Count(ctx context.Context, filter cards.SearchFilter) (int64, error) {
	found, _ := m.Search(ctx, filter, maxPageLimit, 0)
	return int64(len(found)), nil
}

type fakeFetcher struct {
	mu              sync.Mutex
	byName          map[string]scryfall.Card
	collectionCalls [][]scryfall.Identifier
	singleCalls     int32
	failOnCall      int
	failWith        error
	release         chan struct{}
	started         chan struct{}
}

func newFakeFetcher(records ...scryfall.Card) *fakeFetcher {
	fetcher := &fakeFetcher{byName: map[string]scryfall.Card{}}
	for _, record := range records {
		fetcher.byName[strings.ToLower(record.Name)] = record
		for _, face := range strings.Split(record.Name, " // ") {
			fetcher.byName[strings.ToLower(face)] = record
		}
	}
	return fetcher
}

func (f *fakeFetcher) FetchByName(ctx context.Context, name string) (scryfall.Card, error) {
	atomic.AddInt32(&f.singleCalls, 1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if err := ctx.Err(); err != nil {
		return scryfall.Card{}, err
	}
	if f.failWith != nil {
		return scryfall.Card{}, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.byName[strings.ToLower(name)]
	if !ok {
		return scryfall.Card{}, scryfall.ErrNotFound
	}
	return record, nil
}

func (f *fakeFetcher) FetchByID(_ context.Context, id string) (scryfall.Card, error) {
	atomic.AddInt32(&f.singleCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.byName {
		if record.ID == id {
			return record, nil
		}
	}
	return scryfall.Card{}, scryfall.ErrNotFound
}

func (f *fakeFetcher) FetchCollection(_ context.Context, identifiers []scryfall.Identifier) ([]scryfall.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectionCalls = append(f.collectionCalls, identifiers)
	if f.failOnCall > 0 && len(f.collectionCalls) >= f.failOnCall {
		return nil, f.failWith
	}
	found := []scryfall.Card{}
	for _, identifier := range identifiers {
		for _, record := range f.byName {
			if identifier.ID != "" && record.ID == identifier.ID {
				found = append(found, record)
				break
			}
		}
		if identifier.Name != "" {
			if record, ok := f.byName[strings.ToLower(identifier.Name)]; ok {
				found = append(found, record)
			}
		}
	}
	return found, nil
}

func record(id, name string) scryfall.Card {
	return scryfall.Card{ID: id, Name: name, Set: "tst", Colors: []string{}}
}

func mustService(t *testing.T, store Store, fetcher Fetcher, batchSize int) *Service {
	t.Helper()
	cache, err := NewLRUCache(16)
	if err != nil {
		t.Fatalf("failed to build cache: %v", err)
	}
	service, err := NewService(ServiceConfig{Store: store, Fetcher: fetcher, Cache: cache, BatchSize: batchSize})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(ServiceConfig{Fetcher: newFakeFetcher()}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewService(ServiceConfig{Store: newMemoryStore()}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
}

func TestUpsertIsIdempotentAndRejectsInvalidCards(t *testing.T) {
	store := newMemoryStore()
	service := mustService(t, store, newFakeFetcher(), 0)
	card := cards.Card{ExternalID: "bolt", Name: "Lightning Bolt"}

	first, err := service.Upsert(context.Background(), card)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.Upsert(context.Background(), card)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ExternalID != second.ExternalID || len(store.cards) != 1 {
		t.Fatalf("expected a single stored card, got %d", len(store.cards))
	}

	_, err = service.Upsert(context.Background(), cards.Card{Name: "Nameless"})
	if !errors.Is(err, ErrInvalidCard) {
		t.Fatalf("expected invalid card error, got %v", err)
	}
	if len(store.cards) != 1 {
		t.Fatalf("invalid card must not be persisted")
	}
}

func TestGetManyOmitsUnknownIDsAndUsesCache(t *testing.T) {
	store := newMemoryStore(
		cards.Card{ExternalID: "a", Name: "Opt"},
		cards.Card{ExternalID: "b", Name: "Shock"},
	)
	service := mustService(t, store, newFakeFetcher(), 0)

	found, err := service.GetMany(context.Background(), []string{"a", "b", "missing", "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 || found["a"].Name != "Opt" {
		t.Fatalf("unexpected result %#v", found)
	}

	if _, err := service.GetMany(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.getManyHits != 1 {
		t.Fatalf("expected cached second read, store was hit %d times", store.getManyHits)
	}
}

func TestImportByNameReturnsStoredCardWithoutFetching(t *testing.T) {
	store := newMemoryStore(cards.Card{ExternalID: "bolt", Name: "Lightning Bolt"})
	fetcher := newFakeFetcher(record("bolt", "Lightning Bolt"))
	service := mustService(t, store, fetcher, 0)

	card, err := service.ImportByName(context.Background(), "lightning bolt", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if card.ExternalID != "bolt" || fetcher.singleCalls != 0 {
		t.Fatalf("expected stored card without fetch, got %#v after %d calls", card, fetcher.singleCalls)
	}

	if _, err := service.ImportByName(context.Background(), "Lightning Bolt", true); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if fetcher.singleCalls != 1 {
		t.Fatalf("expected refresh to fetch once, got %d", fetcher.singleCalls)
	}
}

func TestImportByNameFetchesAndStores(t *testing.T) {
	store := newMemoryStore()
	fetcher := newFakeFetcher(record("shock-id", "Shock"))
	service := mustService(t, store, fetcher, 0)

	card, err := service.ImportByName(context.Background(), "Shock", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if card.ExternalID != "shock-id" || card.SetCode != "tst" {
		t.Fatalf("unexpected card %#v", card)
	}
	if _, ok := store.cards["shock-id"]; !ok {
		t.Fatalf("expected imported card to be stored")
	}
}

func TestImportByIDClassifiesFetchErrors(t *testing.T) {
	testCases := []struct {
		name     string
		failWith error
		want     error
	}{
		{name: "not found", failWith: nil, want: ErrCardNotFound},
		{name: "upstream", failWith: fmt.Errorf("wrapped: %w", scryfall.ErrUnavailable), want: ErrUpstreamUnavailable},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			fetcher.failWith = testCase.failWith
			service := mustService(t, newMemoryStore(), fetcher, 0)

			var err error
			if testCase.failWith == nil {
				_, err = service.ImportByID(context.Background(), "ghost", false)
			} else {
				_, err = service.ImportByName(context.Background(), "ghost", false)
			}
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestConcurrentImportsShareOneFetch(t *testing.T) {
	store := newMemoryStore()
	fetcher := newFakeFetcher(record("opt-id", "Opt"))
	fetcher.started = make(chan struct{}, 8)
	fetcher.release = make(chan struct{})
	service := mustService(t, store, fetcher, 0)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ImportByName(context.Background(), "Opt", false)
			errs <- err
		}()
	}

	<-fetcher.started
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls := atomic.LoadInt32(&fetcher.singleCalls); calls != 1 {
		t.Fatalf("expected a single external call, got %d", calls)
	}
}

func TestCanceledImportLeavesSharedFetchRunning(t *testing.T) {
	store := newMemoryStore()
	fetcher := newFakeFetcher(record("opt-id", "Opt"))
	fetcher.started = make(chan struct{}, 8)
	fetcher.release = make(chan struct{})
	service := mustService(t, store, fetcher, 0)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := service.ImportByName(firstCtx, "Opt", false)
		firstErr <- err
	}()
	<-fetcher.started

	type outcome struct {
		card cards.Card
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		card, err := service.ImportByName(context.Background(), "Opt", false)
		second <- outcome{card: card, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the canceled caller to stop with context.Canceled, got %v", err)
	}

	close(fetcher.release)
	got := <-second
	if got.err != nil {
		t.Fatalf("expected the live caller to succeed, got %v", got.err)
	}
	if got.card.ExternalID != "opt-id" {
		t.Fatalf("unexpected card %#v", got.card)
	}
	if _, found, _ := store.Get(context.Background(), "opt-id"); !found {
		t.Fatalf("expected the shared import to store the card")
	}
	if calls := atomic.LoadInt32(&fetcher.singleCalls); calls != 1 {
		t.Fatalf("expected a single external call, got %d", calls)
	}
}

func TestImportByNamesCollectsPerItemFailures(t *testing.T) {
	store := newMemoryStore()
	store.failUpsert["broken-id"] = true
	fetcher := newFakeFetcher(
		record("bolt-id", "Lightning Bolt"),
		record("fire-id", "Fire // Ice"),
		record("broken-id", "Broken Card"),
	)
	service := mustService(t, store, fetcher, 2)

	result, err := service.ImportByNames(context.Background(), []string{
		"Lightning Bolt", "lightning bolt", "Fire", "Broken Card", "Nonexistent", "  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 4 {
		t.Fatalf("expected duplicates and blanks dropped, total=%d", result.Total)
	}
	if result.Success != 2 || result.Failed != 2 {
		t.Fatalf("unexpected counts %+v", result)
	}
	if len(fetcher.collectionCalls) != 2 {
		t.Fatalf("expected two chunks, got %d calls", len(fetcher.collectionCalls))
	}
	failed := map[string]string{}
	for _, failure := range result.Failures {
		failed[failure.Key] = failure.Error
	}
	if _, ok := failed["Broken Card"]; !ok {
		t.Fatalf("expected store failure to be reported, got %#v", failed)
	}
	if failed["Nonexistent"] != ErrCardNotFound.Error() {
		t.Fatalf("expected not found failure, got %#v", failed)
	}
	if _, ok := store.cards["fire-id"]; !ok {
		t.Fatalf("expected face name to match the split card")
	}
}

func TestImportByNamesStopsAfterUpstreamFailure(t *testing.T) {
	store := newMemoryStore()
	fetcher := newFakeFetcher(record("a-id", "Alpha"), record("b-id", "Beta"), record("c-id", "Gamma"))
	fetcher.failOnCall = 2
	fetcher.failWith = fmt.Errorf("collection: %w", scryfall.ErrUnavailable)
	service := mustService(t, store, fetcher, 1)

	result, err := service.ImportByNames(context.Background(), []string{"Alpha", "Beta", "Gamma"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success != 1 || result.Successes[0].ExternalID != "a-id" {
		t.Fatalf("expected earlier success to be kept, got %+v", result)
	}
	if result.Failed != 2 {
		t.Fatalf("expected failing and remaining chunks marked failed, got %+v", result.Failures)
	}
	for _, failure := range result.Failures {
		if failure.Error != ErrUpstreamUnavailable.Error() {
			t.Fatalf("unexpected failure reason %q", failure.Error)
		}
	}
	if len(fetcher.collectionCalls) != 2 {
		t.Fatalf("expected no calls after upstream failure, got %d", len(fetcher.collectionCalls))
	}
}

func TestImportByNamesRequiresNames(t *testing.T) {
	service := mustService(t, newMemoryStore(), newFakeFetcher(), 0)
	if _, err := service.ImportByNames(context.Background(), []string{" "}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestResolveNamesDoesNotWriteStore(t *testing.T) {
	store := newMemoryStore()
	fetcher := newFakeFetcher(record("a-id", "Alpha"), record("b-id", "Beta"))
	service := mustService(t, store, fetcher, 0)

	names, err := service.ResolveNames(context.Background(), []string{"a-id", "b-id", "zzz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names["a-id"] != "Alpha" || names["b-id"] != "Beta" || len(names) != 2 {
		t.Fatalf("unexpected names %#v", names)
	}
	if store.upserts != 0 {
		t.Fatalf("resolve must not persist cards")
	}
}

func TestSearchValidatesPage(t *testing.T) {
	store := newMemoryStore(cards.Card{ExternalID: "a", Name: "Opt"}, cards.Card{ExternalID: "b", Name: "Optimus"})
	service := mustService(t, store, newFakeFetcher(), 0)

	if _, err := service.Search(context.Background(), cards.SearchFilter{}, -1, 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid page error, got %v", err)
	}
	page, err := service.Search(context.Background(), cards.SearchFilter{Name: "opt"}, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Cards) != 1 || page.Cards[0].Name != "Optimus" {
		t.Fatalf("unexpected search result %#v", page.Cards)
	}
	if page.Total != 2 || page.Limit != defaultPageLimit || page.Skip != 1 {
		t.Fatalf("expected the effective paging in the page, got %+v", page)
	}
	page, err = service.Search(context.Background(), cards.SearchFilter{}, maxPageLimit+1, 0)
	if err != nil || page.Limit != maxPageLimit {
		t.Fatalf("expected the limit to be capped, got %+v %v", page, err)
	}
	total, err := service.Count(context.Background(), cards.SearchFilter{Name: "opt"})
	if err != nil || total != 2 {
		t.Fatalf("unexpected count %d %v", total, err)
	}
}

func TestLRUCacheReturnsCopies(t *testing.T) {
	cache, err := NewLRUCache(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	cache.Add(ctx, cards.Card{ExternalID: "a", Name: "Opt", Colors: []string{"U"}})

	card, ok := cache.Get(ctx, "a")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	card.Colors[0] = "R"
	again, _ := cache.Get(ctx, "a")
	if again.Colors[0] != "U" {
		t.Fatalf("cached card was mutated through a returned copy")
	}

	cache.Add(ctx, cards.Card{ExternalID: "b", Name: "B"})
	cache.Add(ctx, cards.Card{ExternalID: "c", Name: "C"})
	if cache.Len() != 2 {
		t.Fatalf("expected eviction to bound the cache, len=%d", cache.Len())
	}
}
