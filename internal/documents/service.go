package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/larder-erp/larder-erp/internal/ledger"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
	GetAdjustment(ctx context.Context, id int64) (Adjustment, error)
	ListAdjustments(ctx context.Context, limit int) ([]Adjustment, error)
	MarkAdjustmentPosted(ctx context.Context, id, approvedBy int64, at time.Time) error

	InsertTransfer(ctx context.Context, tr Transfer) (int64, error)
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, limit int) ([]Transfer, error)
	UpdateTransferStatus(ctx context.Context, id int64, from, to TransferStatus, completedAt time.Time) error

	InsertCount(ctx context.Context, count InventoryCount) (int64, error)
	GetCount(ctx context.Context, id int64) (InventoryCount, error)
	ListCounts(ctx context.Context, limit int) ([]InventoryCount, error)
	UpdateCountStatus(ctx context.Context, id int64, from, to CountStatus) error
	MarkCountApproved(ctx context.Context, id, approvedBy int64, at time.Time) error
	UpdateCountLine(ctx context.Context, countID, lineID int64, patch CountLinePatch) error
	SetCountSystemQuantities(ctx context.Context, countID int64, lines []CountLine) error
}

// LedgerPort is the slice of the ledger service documents post through.
// RecordBatch commits all movements of one posting atomically.
type LedgerPort interface {
	RecordBatch(ctx context.Context, inputs []ledger.RecordInput) ([]ledger.Movement, error)
	DeleteMovement(ctx context.Context, id uuid.UUID) error
	GetBalance(ctx context.Context, itemID, warehouseID int64) (ledger.Balance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the document state machines and posts their stock effects
// through the ledger.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, ledgerSvc LedgerPort, audit AuditPort) *Service {
	return &Service{logger: logger, repo: repo, ledger: ledgerSvc, audit: audit}
}

// CreateAdjustment stores a draft adjustment.
func (s *Service) CreateAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	if len(adj.Lines) == 0 {
		return Adjustment{}, fmt.Errorf("%w: adjustment needs at least one line", ErrValidation)
	}
	for _, line := range adj.Lines {
		if line.ItemID == 0 || line.WarehouseID == 0 {
			return Adjustment{}, fmt.Errorf("%w: line needs item and warehouse", ErrValidation)
		}
		if line.Quantity.IsZero() {
			return Adjustment{}, fmt.Errorf("%w: line quantity must be non-zero", ErrValidation)
		}
		if line.UnitCost.IsNegative() {
			return Adjustment{}, fmt.Errorf("%w: unit cost must not be negative", ErrValidation)
		}
	}
	adj.Status = AdjustmentDraft
	if adj.Ref == "" {
		adj.Ref = newRef("ADJ")
	}
	adj.CreatedBy = shared.ActorFromContext(ctx)
	id, err := s.repo.InsertAdjustment(ctx, adj)
	if err != nil {
		return Adjustment{}, err
	}
	return s.repo.GetAdjustment(ctx, id)
}

// GetAdjustment fetches one adjustment.
func (s *Service) GetAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	return s.repo.GetAdjustment(ctx, id)
}

// ListAdjustments lists adjustments.
func (s *Service) ListAdjustments(ctx context.Context, limit int) ([]Adjustment, error) {
	return s.repo.ListAdjustments(ctx, limit)
}

// PostAdjustment posts a draft adjustment: one ADJUSTMENT movement per line,
// all in one ledger transaction, then the draft-to-posted flip. A failed
// flip deletes the freshly posted movements again.
func (s *Service) PostAdjustment(ctx context.Context, id, approvedBy int64) (Adjustment, error) {
	adj, err := s.repo.GetAdjustment(ctx, id)
	if err != nil {
		return Adjustment{}, err
	}
	if adj.Status != AdjustmentDraft {
		return Adjustment{}, fmt.Errorf("%w: adjustment %s is %s", ErrInvalidState, adj.Ref, adj.Status)
	}
	inputs := make([]ledger.RecordInput, 0, len(adj.Lines))
	for _, line := range adj.Lines {
		inputs = append(inputs, ledger.RecordInput{
			ItemID:      line.ItemID,
			WarehouseID: line.WarehouseID,
			Type:        ledger.MovementAdjustment,
			Quantity:    line.Quantity,
			UnitCost:    line.UnitCost,
			DocumentRef: adj.Ref,
		})
	}
	movements, err := s.ledger.RecordBatch(ctx, inputs)
	if err != nil {
		return Adjustment{}, err
	}
	if err := s.repo.MarkAdjustmentPosted(ctx, id, approvedBy, time.Now().UTC()); err != nil {
		s.compensate(ctx, adj.Ref, movements)
		return Adjustment{}, err
	}
	s.recordAudit(ctx, "documents.adjustment.post", adj.Ref)
	return s.repo.GetAdjustment(ctx, id)
}

// CreateTransfer stores a pending transfer.
func (s *Service) CreateTransfer(ctx context.Context, tr Transfer) (Transfer, error) {
	if tr.FromWarehouseID == 0 || tr.ToWarehouseID == 0 {
		return Transfer{}, fmt.Errorf("%w: transfer needs both warehouses", ErrValidation)
	}
	if tr.FromWarehouseID == tr.ToWarehouseID {
		return Transfer{}, fmt.Errorf("%w: source and destination must differ", ErrValidation)
	}
	if len(tr.Lines) == 0 {
		return Transfer{}, fmt.Errorf("%w: transfer needs at least one line", ErrValidation)
	}
	for _, line := range tr.Lines {
		if line.ItemID == 0 || !line.Quantity.IsPositive() {
			return Transfer{}, fmt.Errorf("%w: line needs item and positive quantity", ErrValidation)
		}
	}
	tr.Status = TransferPending
	if tr.Ref == "" {
		tr.Ref = newRef("TRF")
	}
	tr.CreatedBy = shared.ActorFromContext(ctx)
	id, err := s.repo.InsertTransfer(ctx, tr)
	if err != nil {
		return Transfer{}, err
	}
	return s.repo.GetTransfer(ctx, id)
}

// GetTransfer fetches one transfer.
func (s *Service) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// ListTransfers lists transfers.
func (s *Service) ListTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	return s.repo.ListTransfers(ctx, limit)
}

// StartTransfer moves a pending transfer in transit. Stock stays at the
// source until completion.
func (s *Service) StartTransfer(ctx context.Context, id int64) (Transfer, error) {
	tr, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if !tr.Status.CanStart() {
		return Transfer{}, fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, tr.Ref, tr.Status)
	}
	if err := s.repo.UpdateTransferStatus(ctx, id, TransferPending, TransferInTransit, time.Time{}); err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, "documents.transfer.start", tr.Ref)
	return s.repo.GetTransfer(ctx, id)
}

// CompleteTransfer receives an in-transit transfer: per line a TRANSFER_OUT
// at the source and a TRANSFER_IN at the destination, all legs in one ledger
// transaction. The in leg prices itself from the out leg inside that
// transaction, so concurrent writes to the source stream cannot leak value
// between warehouses.
func (s *Service) CompleteTransfer(ctx context.Context, id int64) (Transfer, error) {
	tr, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if !tr.Status.CanComplete() {
		return Transfer{}, fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, tr.Ref, tr.Status)
	}
	inputs := make([]ledger.RecordInput, 0, len(tr.Lines)*2)
	for _, line := range tr.Lines {
		inputs = append(inputs,
			ledger.RecordInput{
				ItemID:      line.ItemID,
				WarehouseID: tr.FromWarehouseID,
				Type:        ledger.MovementTransferOut,
				Quantity:    line.Quantity.Neg(),
				DocumentRef: tr.Ref,
			},
			ledger.RecordInput{
				ItemID:          line.ItemID,
				WarehouseID:     tr.ToWarehouseID,
				Type:            ledger.MovementTransferIn,
				Quantity:        line.Quantity,
				PriceFromSource: true,
				DocumentRef:     tr.Ref,
			})
	}
	movements, err := s.ledger.RecordBatch(ctx, inputs)
	if err != nil {
		return Transfer{}, err
	}
	if err := s.repo.UpdateTransferStatus(ctx, id, TransferInTransit, TransferCompleted, time.Now().UTC()); err != nil {
		s.compensate(ctx, tr.Ref, movements)
		return Transfer{}, err
	}
	s.recordAudit(ctx, "documents.transfer.complete", tr.Ref)
	return s.repo.GetTransfer(ctx, id)
}

// CancelTransfer cancels a transfer that has not completed.
func (s *Service) CancelTransfer(ctx context.Context, id int64) (Transfer, error) {
	tr, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if !tr.Status.CanCancel() {
		return Transfer{}, fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, tr.Ref, tr.Status)
	}
	if err := s.repo.UpdateTransferStatus(ctx, id, tr.Status, TransferCancelled, time.Time{}); err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, "documents.transfer.cancel", tr.Ref)
	return s.repo.GetTransfer(ctx, id)
}

// CreateCount stores a draft inventory count.
func (s *Service) CreateCount(ctx context.Context, count InventoryCount) (InventoryCount, error) {
	if count.WarehouseID == 0 {
		return InventoryCount{}, fmt.Errorf("%w: count needs a warehouse", ErrValidation)
	}
	if len(count.Lines) == 0 {
		return InventoryCount{}, fmt.Errorf("%w: count needs at least one line", ErrValidation)
	}
	for _, line := range count.Lines {
		if line.ItemID == 0 {
			return InventoryCount{}, fmt.Errorf("%w: line needs an item", ErrValidation)
		}
	}
	count.Status = CountDraft
	if count.Ref == "" {
		count.Ref = newRef("CNT")
	}
	count.CreatedBy = shared.ActorFromContext(ctx)
	id, err := s.repo.InsertCount(ctx, count)
	if err != nil {
		return InventoryCount{}, err
	}
	return s.repo.GetCount(ctx, id)
}

// GetCount fetches one inventory count.
func (s *Service) GetCount(ctx context.Context, id int64) (InventoryCount, error) {
	return s.repo.GetCount(ctx, id)
}

// ListCounts lists inventory counts.
func (s *Service) ListCounts(ctx context.Context, limit int) ([]InventoryCount, error) {
	return s.repo.ListCounts(ctx, limit)
}

// StartCounting freezes each line's system quantity and unit cost at the
// current balance and opens the count for submissions.
func (s *Service) StartCounting(ctx context.Context, id int64) (InventoryCount, error) {
	count, err := s.repo.GetCount(ctx, id)
	if err != nil {
		return InventoryCount{}, err
	}
	if count.Status != CountDraft {
		return InventoryCount{}, fmt.Errorf("%w: count %s is %s", ErrInvalidState, count.Ref, count.Status)
	}
	frozen := make([]CountLine, 0, len(count.Lines))
	for _, line := range count.Lines {
		bal, err := s.ledger.GetBalance(ctx, line.ItemID, count.WarehouseID)
		if err != nil {
			return InventoryCount{}, err
		}
		line.SystemQuantity = bal.Quantity
		line.UnitCost = bal.AverageCost
		frozen = append(frozen, line)
	}
	if err := s.repo.SetCountSystemQuantities(ctx, id, frozen); err != nil {
		return InventoryCount{}, err
	}
	if err := s.repo.UpdateCountStatus(ctx, id, CountDraft, CountCounting); err != nil {
		return InventoryCount{}, err
	}
	s.recordAudit(ctx, "documents.count.start", count.Ref)
	return s.repo.GetCount(ctx, id)
}

// RecordCountLine stores a counted figure while the count is open.
func (s *Service) RecordCountLine(ctx context.Context, countID, lineID int64, patch CountLinePatch) error {
	count, err := s.repo.GetCount(ctx, countID)
	if err != nil {
		return err
	}
	if count.Status != CountCounting {
		return fmt.Errorf("%w: count %s is %s", ErrInvalidState, count.Ref, count.Status)
	}
	if patch.CountedQuantity == nil || patch.CountedQuantity.IsNegative() {
		return fmt.Errorf("%w: counted quantity must be zero or positive", ErrValidation)
	}
	return s.repo.UpdateCountLine(ctx, countID, lineID, patch)
}

// SubmitCount closes the counting phase. Every line must carry a counted
// quantity.
func (s *Service) SubmitCount(ctx context.Context, id int64) (InventoryCount, error) {
	count, err := s.repo.GetCount(ctx, id)
	if err != nil {
		return InventoryCount{}, err
	}
	if count.Status != CountCounting {
		return InventoryCount{}, fmt.Errorf("%w: count %s is %s", ErrInvalidState, count.Ref, count.Status)
	}
	for _, line := range count.Lines {
		if line.CountedQuantity == nil {
			return InventoryCount{}, fmt.Errorf("%w: item %d not counted", ErrIncompleteCount, line.ItemID)
		}
	}
	if err := s.repo.UpdateCountStatus(ctx, id, CountCounting, CountReadyForApproval); err != nil {
		return InventoryCount{}, err
	}
	s.recordAudit(ctx, "documents.count.submit", count.Ref)
	return s.repo.GetCount(ctx, id)
}

// ApproveCount posts one COUNT_CORRECTION per non-zero discrepancy, valued
// at the frozen unit cost, then flips the count to approved.
func (s *Service) ApproveCount(ctx context.Context, id, approvedBy int64) (InventoryCount, error) {
	count, err := s.repo.GetCount(ctx, id)
	if err != nil {
		return InventoryCount{}, err
	}
	if count.Status != CountReadyForApproval {
		return InventoryCount{}, fmt.Errorf("%w: count %s is %s", ErrInvalidState, count.Ref, count.Status)
	}
	inputs := make([]ledger.RecordInput, 0, len(count.Lines))
	for _, line := range count.Lines {
		diff := line.Discrepancy()
		if diff.IsZero() {
			continue
		}
		inputs = append(inputs, ledger.RecordInput{
			ItemID:      line.ItemID,
			WarehouseID: count.WarehouseID,
			Type:        ledger.MovementCountCorrection,
			Quantity:    diff,
			UnitCost:    line.UnitCost,
			DocumentRef: count.Ref,
			// The counted figure is physical reality; it wins even when the
			// correction drives a backorder-forbidden stream negative.
			Force: true,
		})
	}
	var movements []ledger.Movement
	if len(inputs) > 0 {
		movements, err = s.ledger.RecordBatch(ctx, inputs)
		if err != nil {
			return InventoryCount{}, err
		}
	}
	if err := s.repo.MarkCountApproved(ctx, id, approvedBy, time.Now().UTC()); err != nil {
		s.compensate(ctx, count.Ref, movements)
		return InventoryCount{}, err
	}
	s.recordAudit(ctx, "documents.count.approve", count.Ref)
	return s.repo.GetCount(ctx, id)
}

// CloseCount archives an approved count.
func (s *Service) CloseCount(ctx context.Context, id int64) (InventoryCount, error) {
	count, err := s.repo.GetCount(ctx, id)
	if err != nil {
		return InventoryCount{}, err
	}
	if count.Status != CountApproved {
		return InventoryCount{}, fmt.Errorf("%w: count %s is %s", ErrInvalidState, count.Ref, count.Status)
	}
	if err := s.repo.UpdateCountStatus(ctx, id, CountApproved, CountClosed); err != nil {
		return InventoryCount{}, err
	}
	return s.repo.GetCount(ctx, id)
}

// CancelCount cancels a count from any non-terminal state.
func (s *Service) CancelCount(ctx context.Context, id int64) (InventoryCount, error) {
	count, err := s.repo.GetCount(ctx, id)
	if err != nil {
		return InventoryCount{}, err
	}
	if count.Status.Terminal() {
		return InventoryCount{}, fmt.Errorf("%w: count %s is %s", ErrInvalidState, count.Ref, count.Status)
	}
	if err := s.repo.UpdateCountStatus(ctx, id, count.Status, CountCancelled); err != nil {
		return InventoryCount{}, err
	}
	s.recordAudit(ctx, "documents.count.cancel", count.Ref)
	return s.repo.GetCount(ctx, id)
}

// compensate removes movements that posted before a status flip failed.
// Each deletion replays its stream, restoring pre-posting state.
func (s *Service) compensate(ctx context.Context, ref string, movements []ledger.Movement) {
	for _, m := range movements {
		if err := s.ledger.DeleteMovement(ctx, m.ID); err != nil {
			s.logger.Error("compensation failed, movement orphaned",
				"document", ref, "movement", m.ID.String(), "error", err)
		}
	}
}

func newRef(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func (s *Service) recordAudit(ctx context.Context, action, ref string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "stock_document",
		EntityID: ref,
	})
}
