package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/kgchat/internal/extract"
	"github.com/kalambet/kgchat/internal/profile"
	"github.com/kalambet/kgchat/internal/storage"
)

// JobType is the queue type of document-learning jobs.
const JobType = "learn_document"

// JobStore abstracts the job queue and document operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) (bool, error)
	SaveDocument(d storage.Document) error
	GetDocument(id string) (storage.Document, error)
	MarkDocument(id, status string, factsLearned int) error
}

// ProfileMutator applies a change to one user's profile atomically.
type ProfileMutator interface {
	Mutate(userName string, fn func(p *profile.Profile) error) (profile.Profile, error)
}

type learnPayload struct {
	DocumentID string `json:"document_id"`
}

// Submit stores a document and queues it for learning.
func Submit(store JobStore, userName, docType, title, content string) (storage.Document, error) {
	if strings.TrimSpace(userName) == "" {
		return storage.Document{}, fmt.Errorf("%w: user_name is required", profile.ErrValidation)
	}
	if content == "" {
		return storage.Document{}, fmt.Errorf("%w: content is required", profile.ErrValidation)
	}
	if docType == "" {
		docType = TypeText
	}
	if !ValidType(docType) {
		return storage.Document{}, fmt.Errorf("%w: unsupported type %q", profile.ErrValidation, docType)
	}

	doc := storage.Document{
		ID:        uuid.New().String(),
		UserName:  strings.TrimSpace(userName),
		Title:     title,
		Type:      docType,
		Content:   content,
		Status:    "queued",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveDocument(doc); err != nil {
		return storage.Document{}, &profile.StorageError{Op: "save document", Err: err}
	}

	payload, err := json.Marshal(learnPayload{DocumentID: doc.ID})
	if err != nil {
		return storage.Document{}, fmt.Errorf("marshalling job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		return storage.Document{}, &profile.StorageError{Op: "enqueue job", Err: err}
	}
	return doc, nil
}

// Worker processes learn_document jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	profiles  ProfileMutator
	extractor *extract.Extractor
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, profiles ProfileMutator, ex *extract.Extractor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		profiles:  profiles,
		extractor: ex,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single learn_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	docID, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		final, failErr := w.store.FailJob(job.ID, err.Error())
		if failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			return true, nil
		}
		if final && docID != "" {
			if err := w.store.MarkDocument(docID, "failed", 0); err != nil {
				w.logger.Error("failed to mark document as failed", "document_id", docID, "error", err)
			}
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload learnPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return "", fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	text, err := ToText(doc.Type, doc.Content)
	if err != nil {
		return doc.ID, err
	}
	if err := ctx.Err(); err != nil {
		return doc.ID, err
	}

	sentences := SplitSentences(text)
	learned := 0
	_, err = w.profiles.Mutate(doc.UserName, func(p *profile.Profile) error {
		learned = 0
		for _, s := range sentences {
			learned += len(w.extractor.Apply(p, s))
		}
		return nil
	})
	if err != nil {
		return doc.ID, fmt.Errorf("learning from document %s: %w", doc.ID, err)
	}

	if err := w.store.MarkDocument(doc.ID, "learned", learned); err != nil {
		return doc.ID, fmt.Errorf("marking document %s: %w", doc.ID, err)
	}
	w.logger.Info("document learned", "document_id", doc.ID, "user", doc.UserName, "facts", learned)
	return doc.ID, nil
}
