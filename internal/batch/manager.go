// Package batch groups file changes into batches that are committed to a
// remote repository as exactly one commit, or not at all.
//
// Committing a batch reads the current branch head and passes it to the
// remote as the commit's precondition. If another writer moves the branch in
// the meantime, the remote rejects the commit and the batch fails with
// ErrConcurrencyConflict. Nothing is retried automatically: a failed batch is
// terminal and the caller must create a new batch (which reads a fresh head)
// to try again.
package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/remote"
	"github.com/aviator-co/bifrost/internal/utils/sliceutils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Manager struct {
	repo          remote.Repository
	history       History
	now           func() time.Time
	newID         func() string
	defaultBranch string

	mu      sync.Mutex
	pending map[string]*pendingBatch
	// order is the creation order of the pending batches.
	order []string
	// completed holds every terminal batch in completion order; index maps
	// a batch id to its position. The history is only a journal of it.
	completed []Batch
	index     map[string]int
}

type pendingBatch struct {
	Batch
	// inFlight is set while CommitBatch is talking to the remote. The batch
	// can't be modified, committed or rolled back in the meantime.
	inFlight bool
}

type Option func(*Manager)

// WithHistory sets where completed batches are recorded. Defaults to a
// MemoryHistory.
func WithHistory(h History) Option {
	return func(m *Manager) {
		m.history = h
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

// WithDefaultBranch sets the branch used by CreateBatch when none is given.
func WithDefaultBranch(branch string) Option {
	return func(m *Manager) {
		m.defaultBranch = branch
	}
}

func NewManager(repo remote.Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:          repo,
		now:           time.Now,
		newID:         uuid.NewString,
		defaultBranch: "main",
		pending:       map[string]*pendingBatch{},
		index:         map[string]int{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.history == nil {
		m.history = NewMemoryHistory()
	}
	return m
}

// CreateBatch starts a new, empty batch. No remote call is made.
func (m *Manager) CreateBatch(branch, message string) (Batch, error) {
	if strings.TrimSpace(message) == "" {
		return Batch{}, errors.New("batch commit message cannot be empty")
	}
	if branch == "" {
		branch = m.defaultBranch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b := &pendingBatch{Batch: Batch{
		ID:        m.newID(),
		Branch:    branch,
		Message:   message,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}}
	m.pending[b.ID] = b
	m.order = append(m.order, b.ID)
	logrus.WithFields(logrus.Fields{
		"batch":  b.ID,
		"branch": branch,
	}).Debug("created batch")
	return b.Copy(), nil
}

// mutableLocked returns the pending batch with the given id if it can be
// modified.
func (m *Manager) mutableLocked(batchID string) (*pendingBatch, error) {
	b, ok := m.pending[batchID]
	if !ok {
		if i, ok := m.index[batchID]; ok {
			return nil, errors.WrapIff(ErrInvalidBatchState, "batch %s is %s", batchID, m.completed[i].Status)
		}
		return nil, errors.WrapIff(ErrBatchNotFound, "batch %s", batchID)
	}
	if b.inFlight {
		return nil, errors.WrapIff(ErrInvalidBatchState, "batch %s is being committed", batchID)
	}
	return b, nil
}

// AddOperation appends a pending operation to the batch. Duplicate paths and
// missing content are accepted here and reported by ValidateBatch (and
// CommitBatch refuses to commit an invalid batch).
func (m *Manager) AddOperation(batchID string, kind OperationKind, path string, content string) (Operation, error) {
	switch kind {
	case OperationCreate, OperationUpdate, OperationDelete:
	default:
		return Operation{}, errors.Errorf("unknown operation kind %s", kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.mutableLocked(batchID)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		ID:        m.newID(),
		Kind:      kind,
		Path:      remote.CleanPath(path),
		Status:    OperationPending,
		CreatedAt: m.now(),
	}
	if kind.RequiresContent() {
		op.Content = content
	}
	b.Operations = append(b.Operations, op)
	return op, nil
}

// RemoveOperation drops an operation from a pending batch.
func (m *Manager) RemoveOperation(batchID string, operationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.mutableLocked(batchID)
	if err != nil {
		return err
	}
	for i, op := range b.Operations {
		if op.ID == operationID {
			b.Operations = append(b.Operations[:i], b.Operations[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("operation %s not found in batch %s", operationID, batchID)
}

// ValidateBatch reports every problem that would prevent the batch from
// being committed.
func (m *Manager) ValidateBatch(batchID string) (ValidationResult, error) {
	b, ok := m.GetBatch(batchID)
	if !ok {
		return ValidationResult{}, errors.WrapIff(ErrBatchNotFound, "batch %s", batchID)
	}
	return validate(&b), nil
}

// CommitBatch commits every operation of the batch as one commit.
//
// Errors matching ErrBatchNotFound, ErrInvalidBatchState, ErrEmptyBatch and
// ErrValidationFailure are returned before anything is sent to the remote;
// the batch is left untouched. Otherwise the batch always ends up terminal:
// either committed, or failed with a *CommitError.
func (m *Manager) CommitBatch(ctx context.Context, batchID string) (*CommitResult, error) {
	m.mu.Lock()
	b, err := m.mutableLocked(batchID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if len(b.Operations) == 0 {
		m.mu.Unlock()
		return nil, errors.WrapIff(ErrEmptyBatch, "batch %s", batchID)
	}
	if res := validate(&b.Batch); !res.Valid {
		m.mu.Unlock()
		return nil, &ValidationError{BatchID: batchID, Problems: res.Errors}
	}
	b.inFlight = true
	snapshot := b.Copy()
	m.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"batch":      batchID,
		"branch":     snapshot.Branch,
		"operations": len(snapshot.Operations),
	})
	log.Debug("committing batch...")

	commit, err := m.commit(ctx, snapshot)
	if err != nil {
		cerr := m.fail(batchID, err)
		log.WithError(err).Debug("batch commit failed")
		return nil, cerr
	}
	m.succeed(batchID, commit)
	log.WithField("commit", commit.OID).Debug("batch committed")
	return &CommitResult{
		BatchID:   batchID,
		CommitID:  commit.OID,
		CommitURL: commit.URL,
		Verified:  commit.Verified,
	}, nil
}

func (m *Manager) commit(ctx context.Context, b Batch) (commit *remote.Commit, reterr error) {
	defer func() {
		if r := recover(); r != nil {
			reterr = errors.Errorf("panic while committing batch %s: %v", b.ID, r)
		}
	}()

	// The head must be read right before the write; it is never reused
	// across attempts.
	head, err := m.repo.BranchHead(ctx, b.Branch)
	if err != nil {
		return nil, errors.WrapIff(err, "failed to read head of branch %q", b.Branch)
	}

	req := remote.CommitRequest{
		Branch:          b.Branch,
		Headline:        b.Message,
		Body:            summarize(b.Operations),
		ExpectedHeadOID: head,
	}
	for _, op := range b.Operations {
		switch op.Kind {
		case OperationCreate, OperationUpdate:
			req.Additions = append(req.Additions, remote.FileAddition{Path: op.Path, Content: op.Content})
		case OperationDelete:
			req.Deletions = append(req.Deletions, op.Path)
		default:
			return nil, errors.Errorf("unknown operation kind %s", op.Kind)
		}
	}
	commit, err = m.repo.CreateCommit(ctx, req)
	if err != nil {
		return nil, err
	}
	if commit == nil || commit.OID == "" {
		return nil, errors.New("remote did not return a commit id")
	}
	return commit, nil
}

// summarize renders the commit message body: one line per operation in
// insertion order.
func summarize(ops []Operation) string {
	lines := make([]string, 0, len(ops))
	for _, op := range ops {
		lines = append(lines, fmt.Sprintf("%s %s", op.Kind, op.Path))
	}
	return strings.Join(lines, "\n")
}

func (m *Manager) succeed(batchID string, commit *remote.Commit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishLocked(batchID, func(b *Batch) {
		b.Status = StatusCommitted
		b.CommitID = commit.OID
		b.CommitURL = commit.URL
		for i := range b.Operations {
			b.Operations[i].Status = OperationCommitted
		}
	})
}

func (m *Manager) fail(batchID string, err error) error {
	cerr := &CommitError{
		BatchID: batchID,
		Kind:    ErrRemoteFailure,
		Reason:  err.Error(),
		Err:     err,
	}
	if errors.Is(err, remote.ErrConflict) {
		cerr.Kind = ErrConcurrencyConflict
		cerr.Reason = fmt.Sprintf("%s: %s", ErrConcurrencyConflict, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishLocked(batchID, func(b *Batch) {
		b.Status = StatusFailed
		b.Error = cerr.Reason
		for i := range b.Operations {
			b.Operations[i].Status = OperationFailed
			b.Operations[i].Error = cerr.Reason
		}
	})
	return cerr
}

// finishLocked applies the terminal transition and moves the batch from the
// pending set to the completed list, then records it in the history. A
// history failure is logged and doesn't undo the transition. It must be
// called exactly once per batch.
func (m *Manager) finishLocked(batchID string, update func(b *Batch)) {
	pb, ok := m.pending[batchID]
	if !ok {
		panic(fmt.Sprintf("invariant error: batch %s finished twice", batchID))
	}
	update(&pb.Batch)
	pb.CompletedAt = m.now()
	pb.inFlight = false

	delete(m.pending, batchID)
	m.order = sliceutils.DeleteElement(m.order, batchID)
	m.index[batchID] = len(m.completed)
	m.completed = append(m.completed, pb.Copy())
	if err := m.history.Append(pb.Copy()); err != nil {
		logrus.WithError(err).WithField("batch", batchID).Warn("failed to record completed batch")
	}
}

// RollbackBatch abandons a pending batch without contacting the remote. A
// batch that is already terminal (or being committed) can't be rolled back:
// undoing a commit that landed requires a new commit, not a local state
// change.
func (m *Manager) RollbackBatch(batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.mutableLocked(batchID); err != nil {
		return err
	}
	m.finishLocked(batchID, func(b *Batch) {
		b.Status = StatusRolledBack
		for i := range b.Operations {
			b.Operations[i].Status = OperationFailed
			b.Operations[i].Error = "batch rolled back"
		}
	})
	logrus.WithField("batch", batchID).Debug("rolled back batch")
	return nil
}

// GetBatch returns a copy of the batch, whether it is pending or completed.
func (m *Manager) GetBatch(batchID string) (Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.pending[batchID]; ok {
		return b.Copy(), true
	}
	if i, ok := m.index[batchID]; ok {
		return m.completed[i].Copy(), true
	}
	return Batch{}, false
}

// PendingBatches returns copies of the pending batches in creation order.
func (m *Manager) PendingBatches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	batches := make([]Batch, 0, len(m.order))
	for _, id := range m.order {
		batches = append(batches, m.pending[id].Copy())
	}
	return batches
}

// CompletedBatches returns copies of the batches this manager completed, in
// completion order. Batches recorded in the history by earlier processes are
// not included.
func (m *Manager) CompletedBatches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	batches := make([]Batch, 0, len(m.completed))
	for _, b := range m.completed {
		batches = append(batches, b.Copy())
	}
	return batches
}
