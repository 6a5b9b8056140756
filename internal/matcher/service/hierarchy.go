package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/matcher/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReindexPayload asks for the supplier hierarchy columns to be rebuilt.
// Suppliers is optional; empty means a full rebuild.
type ReindexPayload struct {
	Suppliers []int64 `json:"suppliers,omitempty"`
}

type ReindexerParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Queue broker.Queue
}

// Reindexer rebuilds RootID and Depth from the ParentID chain. Parent edits
// happen rarely and through the admin surface, so recomputation runs as a
// queued job rather than inline with the write.
type Reindexer struct {
	db    *gorm.DB
	log   *zap.Logger
	queue broker.Queue
}

func NewReindexer(p ReindexerParams) *Reindexer {
	return &Reindexer{
		db:    p.DB,
		log:   p.Log.Named("matcher.reindexer"),
		queue: p.Queue,
	}
}

// EnqueueFull queues one full rebuild. A fixed job id collapses bursts of
// parent edits into a single pending run.
func (r *Reindexer) EnqueueFull(ctx context.Context) error {
	_, err := r.queue.Enqueue(ctx, broker.QueueHierarchyReindex,
		ReindexPayload{},
		broker.EnqueueOptions{JobID: string(broker.QueueHierarchyReindex) + "_full"},
	)
	return err
}

func (r *Reindexer) Handle(ctx context.Context, job *broker.Job) error {
	var payload ReindexPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		r.log.Error("reindex payload undecodable", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	changed, err := r.Rebuild(ctx, payload.Suppliers)
	if err != nil {
		return err
	}
	r.log.Info("supplier hierarchy reindexed", zap.Int("updated", changed))
	return nil
}

// Rebuild recomputes the denormalized hierarchy columns. The whole supplier
// set is loaded so chains can be walked in memory; only rows whose values
// actually changed are written back.
func (r *Reindexer) Rebuild(ctx context.Context, only []int64) (int, error) {
	var suppliers []domain.Supplier
	if err := r.db.WithContext(ctx).Find(&suppliers).Error; err != nil {
		return 0, fmt.Errorf("load suppliers: %w", err)
	}

	byID := make(map[snowflake.ID]*domain.Supplier, len(suppliers))
	for i := range suppliers {
		byID[suppliers[i].ID] = &suppliers[i]
	}

	wanted := map[snowflake.ID]bool{}
	for _, id := range only {
		wanted[snowflake.ID(id)] = true
	}

	changed := 0
	for i := range suppliers {
		s := &suppliers[i]
		if len(wanted) > 0 && !wanted[s.ID] {
			continue
		}
		root, depth := resolveChain(s, byID)
		if s.RootID == root && s.Depth == depth {
			continue
		}
		err := r.db.WithContext(ctx).
			Model(&domain.Supplier{}).
			Where("id = ?", s.ID).
			Updates(map[string]any{"root_id": root, "depth": depth}).Error
		if err != nil {
			return changed, fmt.Errorf("update supplier %d: %w", s.ID, err)
		}
		changed++
	}
	return changed, nil
}

// resolveChain walks parent pointers to the root. A dangling parent or a
// cycle terminates the walk at the last sound ancestor.
func resolveChain(s *domain.Supplier, byID map[snowflake.ID]*domain.Supplier) (snowflake.ID, int) {
	root := s.ID
	depth := 0
	seen := map[snowflake.ID]bool{s.ID: true}

	cur := s
	for cur.ParentID != nil {
		parent, ok := byID[*cur.ParentID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		root = parent.ID
		depth++
		cur = parent
	}
	return root, depth
}
