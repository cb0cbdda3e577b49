package businessflow

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mkarimv/Raijin/app/dto"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const importErrorLimit = 50

// TriggerFlow handles dial target injection from external systems and the
// do-not-call registry
type TriggerFlow interface {
	AddTarget(ctx context.Context, req *dto.AddTargetRequest, metadata *ClientMetadata) (*dto.AddTargetResponse, error)
	ImportTargetsXLSX(ctx context.Context, req *dto.ImportTargetsRequest, file io.Reader, metadata *ClientMetadata) (*dto.ImportTargetsResponse, error)
	AddDNC(ctx context.Context, req *dto.AddDNCRequest, metadata *ClientMetadata) (*dto.AddDNCResponse, error)
	GetTarget(ctx context.Context, req *dto.GetTargetRequest, metadata *ClientMetadata) (*dto.GetTargetResponse, error)
}

// TriggerFlowImpl implements the target injection business flow
type TriggerFlowImpl struct {
	broadcastRepo repository.BroadcastRepository
	targetRepo    repository.DialTargetRepository
	dncRepo       repository.DNCRepository
	db            *gorm.DB
}

// NewTriggerFlow creates a new trigger flow instance
func NewTriggerFlow(
	broadcastRepo repository.BroadcastRepository,
	targetRepo repository.DialTargetRepository,
	dncRepo repository.DNCRepository,
	db *gorm.DB,
) TriggerFlow {
	return &TriggerFlowImpl{
		broadcastRepo: broadcastRepo,
		targetRepo:    targetRepo,
		dncRepo:       dncRepo,
		db:            db,
	}
}

// AddTarget enqueues one phone number into a broadcast. The number is
// normalized first so dedup and DNC checks compare canonical forms.
func (f *TriggerFlowImpl) AddTarget(ctx context.Context, req *dto.AddTargetRequest, metadata *ClientMetadata) (*dto.AddTargetResponse, error) {
	broadcast, err := f.lookupBroadcast(ctx, req.BroadcastUUID)
	if err != nil {
		return nil, err
	}
	if broadcast.Status == models.BroadcastStatusStopped || broadcast.Status == models.BroadcastStatusCompleted {
		return nil, NewBusinessErrorf("BROADCAST_NOT_ACCEPTING", "Broadcast in status %s does not accept targets", ErrBroadcastNotRunning, broadcast.Status)
	}

	target, err := f.buildTarget(ctx, broadcast, req)
	if err != nil {
		return nil, err
	}

	if err := f.targetRepo.Save(ctx, target); err != nil {
		return nil, NewBusinessError("TARGET_CREATION_FAILED", "Failed to enqueue dial target", err)
	}

	return &dto.AddTargetResponse{
		Message:     "Target enqueued successfully",
		UUID:        target.UUID.String(),
		PhoneNumber: target.PhoneNumber,
		Status:      string(target.Status),
	}, nil
}

// ImportTargetsXLSX bulk-loads targets from the first sheet of an XLSX file.
// Column A is the phone number; optional columns B, C and D are display name,
// priority and max attempts. Bad rows are counted and reported, never fatal.
func (f *TriggerFlowImpl) ImportTargetsXLSX(ctx context.Context, req *dto.ImportTargetsRequest, file io.Reader, metadata *ClientMetadata) (*dto.ImportTargetsResponse, error) {
	broadcast, err := f.lookupBroadcast(ctx, req.BroadcastUUID)
	if err != nil {
		return nil, err
	}
	if broadcast.Status == models.BroadcastStatusStopped || broadcast.Status == models.BroadcastStatusCompleted {
		return nil, NewBusinessErrorf("BROADCAST_NOT_ACCEPTING", "Broadcast in status %s does not accept targets", ErrBroadcastNotRunning, broadcast.Status)
	}

	wb, err := excelize.OpenReader(file)
	if err != nil {
		return nil, NewBusinessError("IMPORT_FILE_INVALID", "Failed to open XLSX file", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, NewBusinessError("IMPORT_FILE_INVALID", "XLSX file has no sheets", nil)
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, NewBusinessError("IMPORT_FILE_INVALID", "Failed to read XLSX rows", err)
	}

	resp := &dto.ImportTargetsResponse{}
	var batch []*models.DialTarget
	seen := make(map[string]struct{}, len(rows))

	for i, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		// skip a header row
		if i == 0 && !strings.ContainsAny(row[0], "0123456789") {
			continue
		}

		rowReq := &dto.AddTargetRequest{
			BroadcastUUID: req.BroadcastUUID,
			PhoneNumber:   row[0],
		}
		if len(row) > 1 && strings.TrimSpace(row[1]) != "" {
			rowReq.DisplayName = utils.ToPtr(strings.TrimSpace(row[1]))
		}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			if p, convErr := strconv.Atoi(strings.TrimSpace(row[2])); convErr == nil {
				rowReq.Priority = p
			}
		}
		if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
			if m, convErr := strconv.Atoi(strings.TrimSpace(row[3])); convErr == nil {
				rowReq.MaxAttempts = m
			}
		}

		target, err := f.buildTarget(ctx, broadcast, rowReq)
		if err != nil {
			switch {
			case IsDuplicateTarget(err):
				resp.Duplicates++
			case IsPhoneNumberOnDNC(err):
				resp.OnDNC++
			default:
				resp.Invalid++
				if len(resp.Errors) < importErrorLimit {
					resp.Errors = append(resp.Errors, fmt.Sprintf("row %d: %v", i+1, err))
				}
			}
			continue
		}
		// dedup within the file itself, the DB check only sees saved rows
		if _, dup := seen[target.PhoneNumber]; dup {
			resp.Duplicates++
			continue
		}
		seen[target.PhoneNumber] = struct{}{}
		batch = append(batch, target)
	}

	if len(batch) > 0 {
		err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
			return f.targetRepo.SaveBatch(txCtx, batch)
		})
		if err != nil {
			return nil, NewBusinessError("IMPORT_FAILED", "Failed to save imported targets", err)
		}
	}
	resp.Imported = len(batch)
	resp.Message = fmt.Sprintf("Imported %d targets", resp.Imported)

	return resp, nil
}

// AddDNC records an operator opt-out. Repeated additions are idempotent.
func (f *TriggerFlowImpl) AddDNC(ctx context.Context, req *dto.AddDNCRequest, metadata *ClientMetadata) (*dto.AddDNCResponse, error) {
	normalized, err := utils.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, NewBusinessError("PHONE_NUMBER_INVALID", "Phone number could not be normalized", err)
	}

	entry := &models.DNCEntry{
		PhoneNumber: normalized,
		Source:      models.DNCSourceOperator,
		Reason:      req.Reason,
	}
	if err := f.dncRepo.Upsert(ctx, entry); err != nil {
		return nil, NewBusinessError("DNC_ADD_FAILED", "Failed to add DNC entry", err)
	}

	return &dto.AddDNCResponse{
		Message:     "Number added to the do-not-call registry",
		PhoneNumber: normalized,
	}, nil
}

// GetTarget returns one dial target by UUID
func (f *TriggerFlowImpl) GetTarget(ctx context.Context, req *dto.GetTargetRequest, metadata *ClientMetadata) (*dto.GetTargetResponse, error) {
	target, err := f.targetRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("TARGET_LOOKUP_FAILED", "Failed to lookup dial target", err)
	}
	if target == nil {
		return nil, NewBusinessError("TARGET_NOT_FOUND", "Dial target not found", ErrDialTargetNotFound)
	}

	return &dto.GetTargetResponse{
		UUID:        target.UUID.String(),
		PhoneNumber: target.PhoneNumber,
		DisplayName: target.DisplayName,
		Priority:    target.Priority,
		Attempts:    target.Attempts,
		MaxAttempts: target.MaxAttempts,
		Status:      string(target.Status),
		ScheduledAt: target.ScheduledAt,
		LastError:   target.LastError,
		CreatedAt:   target.CreatedAt,
		UpdatedAt:   target.UpdatedAt,
	}, nil
}

// buildTarget normalizes and validates one injection request and returns the
// row ready to save. It enforces the DNC registry and the one-active-row
// uniqueness per (broadcast, phone).
func (f *TriggerFlowImpl) buildTarget(ctx context.Context, broadcast *models.Broadcast, req *dto.AddTargetRequest) (*models.DialTarget, error) {
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return nil, NewBusinessError("PHONE_NUMBER_REQUIRED", "Phone number is required", ErrPhoneNumberRequired)
	}

	normalized, err := utils.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, NewBusinessError("PHONE_NUMBER_INVALID", "Phone number could not be normalized", err)
	}

	onDNC, err := f.dncRepo.Exists(ctx, normalized)
	if err != nil {
		return nil, NewBusinessError("DNC_LOOKUP_FAILED", "Failed to check DNC registry", err)
	}
	if onDNC {
		return nil, NewBusinessError("PHONE_NUMBER_ON_DNC", "Phone number is on the do-not-call registry", ErrPhoneNumberOnDNC)
	}

	active, err := f.targetRepo.ExistsActive(ctx, broadcast.ID, normalized)
	if err != nil {
		return nil, NewBusinessError("TARGET_LOOKUP_FAILED", "Failed to check existing targets", err)
	}
	if active {
		return nil, NewBusinessError("TARGET_DUPLICATE", "An active entry for this number already exists", ErrDuplicateTarget)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = broadcast.Spec.DefaultMaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = utils.DefaultMaxAttempts
	}

	target := &models.DialTarget{
		BroadcastID: broadcast.ID,
		PhoneNumber: normalized,
		DisplayName: req.DisplayName,
		Priority:    req.Priority,
		MaxAttempts: maxAttempts,
		Status:      models.DialTargetStatusPending,
	}
	if req.ScheduledAt != nil {
		target.ScheduledAt = utils.TimeToUTC(*req.ScheduledAt)
	}
	if err := target.BeforeCreate(); err != nil {
		return nil, NewBusinessError("TARGET_CREATION_FAILED", "Failed to build dial target", err)
	}

	return target, nil
}

func (f *TriggerFlowImpl) lookupBroadcast(ctx context.Context, uuidStr string) (*models.Broadcast, error) {
	if strings.TrimSpace(uuidStr) == "" {
		return nil, NewBusinessError("BROADCAST_UUID_REQUIRED", "Broadcast UUID is required", ErrBroadcastUUIDRequired)
	}
	broadcast, err := f.broadcastRepo.ByUUID(ctx, uuidStr)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LOOKUP_FAILED", "Failed to lookup broadcast", err)
	}
	if broadcast == nil {
		return nil, NewBusinessError("BROADCAST_NOT_FOUND", "Broadcast not found", ErrBroadcastNotFound)
	}
	return broadcast, nil
}
