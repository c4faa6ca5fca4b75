package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

type docRepoFake struct {
	mu          sync.Mutex
	docs        map[string]*domain.Document
	claims      int
	createErr   error
	progressErr error
	deleted     time.Time
	deleteCount int64
	now         func() time.Time
}

func newDocRepoFake(docs ...domain.Document) *docRepoFake {
	f := &docRepoFake{docs: map[string]*domain.Document{}, now: time.Now}
	for i := range docs {
		doc := docs[i]
		f.docs[doc.ID] = &doc
	}
	return f
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *docRepoFake) get(id string) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	return doc, nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.get(id)
	if err != nil {
		return nil, err
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) FindByFilePath(_ context.Context, p string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.FilePath == p {
			copyDoc := *doc
			return &copyDoc, nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "find document", fmt.Errorf("path=%s", p))
}

func (f *docRepoFake) ListByStatus(_ context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Document{}
	for _, doc := range f.docs {
		if status == "" || doc.Status == status {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *docRepoFake) ClaimRun(_ context.Context, id string, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.get(id)
	if err != nil {
		return err
	}
	if !doc.Claimable(f.now()) {
		return domain.WrapError(domain.ErrInvalidTransition, "claim document run", fmt.Errorf("document is %s, run %q", doc.Status, doc.RunID))
	}
	f.claims++
	expires := run.ExpiresAt
	doc.Status = domain.StatusProcessing
	doc.RunID = run.ID
	doc.LeaseExpiresAt = &expires
	return nil
}

// owned returns the document if run still owns it.
func (f *docRepoFake) owned(id, runID string) (*domain.Document, error) {
	doc, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.StatusProcessing || doc.RunID != runID {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "document run", fmt.Errorf("run %s does not own %s", runID, id))
	}
	return doc, nil
}

func (f *docRepoFake) StartRun(_ context.Context, id string, run domain.Run, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.owned(id, run.ID)
	if err != nil {
		return err
	}
	expires := run.ExpiresAt
	doc.LeaseExpiresAt = &expires
	doc.Counters = domain.Counters{Total: total}
	return nil
}

func (f *docRepoFake) IncrementProgress(_ context.Context, id string, run domain.Run, success bool) (domain.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progressErr != nil {
		return domain.Counters{}, f.progressErr
	}
	doc, err := f.owned(id, run.ID)
	if err != nil {
		return domain.Counters{}, err
	}
	if doc.Counters.Processed >= doc.Counters.Total {
		return domain.Counters{}, domain.WrapError(domain.ErrInvalidInput, "increment progress", errors.New("overflow"))
	}
	expires := run.ExpiresAt
	doc.LeaseExpiresAt = &expires
	doc.Counters.Processed++
	if success {
		doc.Counters.Success++
	} else {
		doc.Counters.Failed++
	}
	return doc.Counters, nil
}

func (f *docRepoFake) FinishRun(_ context.Context, id, runID string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.owned(id, runID)
	if err != nil {
		return err
	}
	doc.Status = status
	doc.Error = errMessage
	doc.RunID = ""
	doc.LeaseExpiresAt = nil
	return nil
}

func (f *docRepoFake) ReleaseRun(_ context.Context, id, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.owned(id, runID)
	if err != nil {
		return nil
	}
	now := f.now()
	doc.LeaseExpiresAt = &now
	return nil
}

func (f *docRepoFake) ResetForRetry(_ context.Context, id, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.get(id)
	if err != nil {
		return err
	}
	if doc.Status != domain.StatusFailed {
		return domain.WrapError(domain.ErrInvalidTransition, "reset document", errors.New("not failed"))
	}
	doc.Status = domain.StatusPending
	doc.Counters = domain.Counters{}
	doc.Error = ""
	doc.RunID = ""
	doc.LeaseExpiresAt = nil
	doc.FilePath = filePath
	return nil
}

func (f *docRepoFake) UpdateFilePath(_ context.Context, id, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.get(id)
	if err != nil {
		return err
	}
	doc.FilePath = filePath
	return nil
}

func (f *docRepoFake) DeleteSucceededBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = cutoff
	return f.deleteCount, nil
}

func (f *docRepoFake) Stats(context.Context) (domain.DocumentStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := domain.DocumentStats{TotalDocuments: len(f.docs)}
	for _, doc := range f.docs {
		stats.TotalICCIDProcessed += doc.Counters.Processed
		stats.TotalICCIDSuccess += doc.Counters.Success
		stats.TotalICCIDFailed += doc.Counters.Failed
	}
	stats.ComputeSuccessRate()
	return stats, nil
}

func (f *docRepoFake) doc(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.docs[id]
}

// advance moves the repository clock, expiring leases that fall behind it.
func (f *docRepoFake) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := f.now
	f.now = func() time.Time { return base().Add(d) }
}

type badCaseRepoFake struct {
	mu        sync.Mutex
	cases     map[string]*domain.BadCase
	recorded  []domain.BadCase
	recordErr error
	retries   int
}

func newBadCaseRepoFake(cases ...domain.BadCase) *badCaseRepoFake {
	f := &badCaseRepoFake{cases: map[string]*domain.BadCase{}}
	for i := range cases {
		bc := cases[i]
		f.cases[bc.ID] = &bc
	}
	return f
}

func (f *badCaseRepoFake) Record(_ context.Context, bc *domain.BadCase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, *bc)
	return nil
}

func (f *badCaseRepoFake) GetByID(_ context.Context, id string) (*domain.BadCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bc, ok := f.cases[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrBadCaseNotFound, "get bad case", fmt.Errorf("id=%s", id))
	}
	copyCase := *bc
	return &copyCase, nil
}

func (f *badCaseRepoFake) ListByDocument(_ context.Context, documentID string) ([]domain.BadCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.BadCase{}
	for _, bc := range f.cases {
		if bc.DocumentID == documentID {
			out = append(out, *bc)
		}
	}
	return out, nil
}

func (f *badCaseRepoFake) IncrementRetry(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bc, ok := f.cases[id]
	if !ok {
		return domain.WrapError(domain.ErrBadCaseNotFound, "increment retry", fmt.Errorf("id=%s", id))
	}
	if !bc.CanRetry() {
		return domain.WrapError(domain.ErrRetryExhausted, "increment retry", errors.New("exhausted"))
	}
	bc.RetryCount++
	bc.LastRetryAt = &at
	f.retries++
	return nil
}

func (f *badCaseRepoFake) Stats(context.Context) (domain.BadCaseStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.BadCaseStats{TotalBadCases: len(f.cases)}, nil
}

// fileStoreFake keeps file bodies keyed by path; directories are path prefixes.
type fileStoreFake struct {
	mu         sync.Mutex
	files      map[string][]byte
	claimErr   map[string]error
	relocErr   error
	relocCalls []domain.DocumentStatus
}

func newFileStoreFake() *fileStoreFake {
	return &fileStoreFake{files: map[string][]byte{}, claimErr: map[string]error{}}
}

func (f *fileStoreFake) put(p string, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = []byte(body)
}

func (f *fileStoreFake) list(dir string) []domain.StoredFile {
	out := []domain.StoredFile{}
	for p, body := range f.files {
		if path.Dir(p) == dir {
			out = append(out, domain.StoredFile{Name: path.Base(p), Path: p, Size: int64(len(body))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *fileStoreFake) ListIntake(context.Context) ([]domain.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list("/data"), nil
}

func (f *fileStoreFake) ListProcessing(context.Context) ([]domain.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list("/data/processing"), nil
}

func (f *fileStoreFake) Claim(_ context.Context, name string) (domain.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.claimErr[name]; err != nil {
		return domain.StoredFile{}, err
	}
	src := path.Join("/data", name)
	body, ok := f.files[src]
	if !ok {
		return domain.StoredFile{}, domain.WrapError(domain.ErrFileNotFound, "claim file", errors.New(name))
	}
	dst := path.Join("/data/processing", name)
	delete(f.files, src)
	f.files[dst] = body
	return domain.StoredFile{Name: name, Path: dst, Size: int64(len(body))}, nil
}

func (f *fileStoreFake) Open(_ context.Context, p string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[p]
	if !ok {
		return nil, domain.WrapError(domain.ErrFileNotFound, "open file", errors.New(p))
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fileStoreFake) Relocate(_ context.Context, p string, to domain.DocumentStatus) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relocCalls = append(f.relocCalls, to)
	if f.relocErr != nil {
		return "", f.relocErr
	}
	body, ok := f.files[p]
	if !ok {
		return "", domain.WrapError(domain.ErrFileNotFound, "relocate file", errors.New(p))
	}
	dir := "/data/processing"
	switch to {
	case domain.StatusSuccess:
		dir = "/data/success"
	case domain.StatusFailed:
		dir = "/data/failed"
	}
	dst := path.Join(dir, path.Base(p))
	delete(f.files, p)
	f.files[dst] = body
	return dst, nil
}

func (f *fileStoreFake) Exists(_ context.Context, p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

type queueFake struct {
	mu         sync.Mutex
	published  []domain.Task
	publishErr error
}

func (f *queueFake) Publish(_ context.Context, task domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, task)
	return nil
}

func (f *queueFake) Subscribe(context.Context, func(context.Context, domain.Task) error) error {
	return nil
}

func (f *queueFake) tasks() []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Task(nil), f.published...)
}

// parserFake splits lines and keeps the fourth comma-separated field as ICCID.
type parserFake struct {
	err error
}

func (f parserFake) Parse(_ context.Context, r io.Reader) ([]domain.CDRRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var out []domain.CDRRecord
	for i, line := range bytes.Split(body, []byte("\n")) {
		fields := bytes.Split(line, []byte(","))
		if len(fields) < 4 || !domain.ValidICCID(string(fields[3])) {
			continue
		}
		out = append(out, domain.CDRRecord{RowNumber: i + 1, ICCID: string(fields[3])})
	}
	return out, nil
}

type reconcilerFake struct {
	mu      sync.Mutex
	fail    map[string]string
	calls   []string
	block   chan struct{}
	started chan struct{}
}

func (f *reconcilerFake) Reconcile(ctx context.Context, _ string, iccid string) (bool, string) {
	f.mu.Lock()
	f.calls = append(f.calls, iccid)
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return false, ctx.Err().Error()
		}
	}
	if msg, ok := f.fail[iccid]; ok {
		return false, msg
	}
	return true, "ok"
}

func (f *reconcilerFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type observerFake struct {
	mu       sync.Mutex
	iccids   []bool
	outcomes []domain.DocumentStatus
}

func (f *observerFake) ObserveICCID(success bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.iccids = append(f.iccids, success)
}

func (f *observerFake) ObserveDocumentOutcome(status domain.DocumentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, status)
}

type billingFake struct {
	user          *domain.BillingResponse
	subscriptions *domain.BillingResponse
	usage         *domain.BillingResponse
}

func (f billingFake) QueryUser(context.Context, string) *domain.BillingResponse { return f.user }

func (f billingFake) QuerySubscriptions(context.Context, string) *domain.BillingResponse {
	return f.subscriptions
}

func (f billingFake) QueryDailyUsage(context.Context, string, domain.UsageQuery) *domain.BillingResponse {
	return f.usage
}

func okResponse(data string) *domain.BillingResponse {
	return &domain.BillingResponse{Code: domain.BillingSuccessCode, Message: "success", Data: json.RawMessage(data)}
}

// subscriberStoreFake applies writes to a staging copy and commits only when fn succeeds.
type subscriberStoreFake struct {
	mu            sync.Mutex
	nextID        int64
	subscribers   map[string]domain.Subscriber
	subscriptions map[string]domain.Subscription
	usage         map[string]domain.UsageRecord
	failUsage     error
	commits       int
	rollbacks     int
}

func newSubscriberStoreFake() *subscriberStoreFake {
	return &subscriberStoreFake{
		subscribers:   map[string]domain.Subscriber{},
		subscriptions: map[string]domain.Subscription{},
		usage:         map[string]domain.UsageRecord{},
	}
}

func (f *subscriberStoreFake) WithinTx(ctx context.Context, fn func(tx ports.SubscriberTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &subscriberTxFake{store: f, nextID: f.nextID,
		subscribers:   cloneMap(f.subscribers),
		subscriptions: cloneMap(f.subscriptions),
		usage:         cloneMap(f.usage),
	}
	if err := fn(tx); err != nil {
		f.rollbacks++
		return err
	}
	f.nextID = tx.nextID
	f.subscribers = tx.subscribers
	f.subscriptions = tx.subscriptions
	f.usage = tx.usage
	f.commits++
	return nil
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type subscriberTxFake struct {
	store         *subscriberStoreFake
	nextID        int64
	subscribers   map[string]domain.Subscriber
	subscriptions map[string]domain.Subscription
	usage         map[string]domain.UsageRecord
}

func (t *subscriberTxFake) id() int64 {
	t.nextID++
	return t.nextID
}

func (t *subscriberTxFake) UpsertSubscriber(_ context.Context, sub domain.Subscriber) (domain.Subscriber, error) {
	if existing, ok := t.subscribers[sub.ICCID]; ok {
		sub.ID = existing.ID
		if sub.Brand == nil {
			sub.Brand = existing.Brand
		}
	} else {
		sub.ID = t.id()
	}
	t.subscribers[sub.ICCID] = sub
	return sub, nil
}

func (t *subscriberTxFake) GetSubscriberByICCID(_ context.Context, iccid string) (*domain.Subscriber, error) {
	sub, ok := t.subscribers[iccid]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (t *subscriberTxFake) UpsertSubscription(_ context.Context, s domain.Subscription) (domain.Subscription, error) {
	if existing, ok := t.subscriptions[s.SubscriptionID]; ok {
		s.ID = existing.ID
	} else {
		s.ID = t.id()
	}
	t.subscriptions[s.SubscriptionID] = s
	return s, nil
}

func (t *subscriberTxFake) EnsureSubscription(_ context.Context, placeholder domain.Subscription) (domain.Subscription, error) {
	if existing, ok := t.subscriptions[placeholder.SubscriptionID]; ok {
		return existing, nil
	}
	placeholder.ID = t.id()
	t.subscriptions[placeholder.SubscriptionID] = placeholder
	return placeholder, nil
}

func (t *subscriberTxFake) InsertUsage(_ context.Context, u domain.UsageRecord) (bool, error) {
	if t.store.failUsage != nil {
		return false, t.store.failUsage
	}
	key := u.UsageDate + "|" + u.SubscriptionID + "|" + u.ProductID + "|" + u.VisitMNC
	if _, ok := t.usage[key]; ok {
		return false, nil
	}
	t.usage[key] = u
	return true, nil
}
