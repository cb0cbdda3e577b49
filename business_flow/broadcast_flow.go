// Package businessflow contains the core business logic and use cases for broadcast dispatch workflows
package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkarimv/Raijin/app/dto"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
	"gorm.io/gorm"
)

const recentFailureLimit = 20

// PacingResetter discards pacing window state for a broadcast. The dispatch
// engine owns the windows; lifecycle actions only need to clear them.
type PacingResetter interface {
	Reset(broadcastID uint)
}

// BroadcastFlow handles the broadcast lifecycle business logic
type BroadcastFlow interface {
	CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest, metadata *ClientMetadata) (*dto.CreateBroadcastResponse, error)
	UpdateSpec(ctx context.Context, req *dto.UpdateBroadcastSpecRequest, metadata *ClientMetadata) (*dto.UpdateBroadcastSpecResponse, error)
	StartBroadcast(ctx context.Context, req *dto.BroadcastActionRequest, metadata *ClientMetadata) (*dto.BroadcastActionResponse, error)
	PauseBroadcast(ctx context.Context, req *dto.BroadcastActionRequest, metadata *ClientMetadata) (*dto.BroadcastActionResponse, error)
	StopBroadcast(ctx context.Context, req *dto.BroadcastActionRequest, metadata *ClientMetadata) (*dto.BroadcastActionResponse, error)
	GetBroadcast(ctx context.Context, req *dto.GetBroadcastRequest, metadata *ClientMetadata) (*dto.GetBroadcastResponse, error)
	ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest, metadata *ClientMetadata) (*dto.ListBroadcastsResponse, error)
	GetStats(ctx context.Context, req *dto.GetBroadcastRequest, metadata *ClientMetadata) (*dto.BroadcastStatsResponse, error)
}

// BroadcastFlowImpl implements the broadcast lifecycle business flow
type BroadcastFlowImpl struct {
	broadcastRepo repository.BroadcastRepository
	targetRepo    repository.DialTargetRepository
	attemptRepo   repository.CallAttemptRepository
	eventRepo     repository.ScheduledEventRepository
	pacing        PacingResetter
	db            *gorm.DB
}

// NewBroadcastFlow creates a new broadcast flow instance
func NewBroadcastFlow(
	broadcastRepo repository.BroadcastRepository,
	targetRepo repository.DialTargetRepository,
	attemptRepo repository.CallAttemptRepository,
	eventRepo repository.ScheduledEventRepository,
	pacing PacingResetter,
	db *gorm.DB,
) BroadcastFlow {
	return &BroadcastFlowImpl{
		broadcastRepo: broadcastRepo,
		targetRepo:    targetRepo,
		attemptRepo:   attemptRepo,
		eventRepo:     eventRepo,
		pacing:        pacing,
		db:            db,
	}
}

// CreateBroadcast handles the broadcast creation process
func (f *BroadcastFlowImpl) CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest, metadata *ClientMetadata) (*dto.CreateBroadcastResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewBusinessError("BROADCAST_NAME_REQUIRED", "Broadcast name is required", ErrBroadcastNameRequired)
	}

	spec, err := specFromDTO(req.Spec)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_SPEC_INVALID", "Broadcast spec validation failed", err)
	}

	broadcast := &models.Broadcast{
		Name:   strings.TrimSpace(req.Name),
		Status: models.BroadcastStatusDraft,
		Spec:   spec,
	}
	if err := broadcast.BeforeCreate(); err != nil {
		return nil, NewBusinessError("BROADCAST_CREATION_FAILED", "Broadcast creation failed", err)
	}

	if err := f.broadcastRepo.Save(ctx, broadcast); err != nil {
		return nil, NewBusinessError("BROADCAST_CREATION_FAILED", "Broadcast creation failed", err)
	}

	return &dto.CreateBroadcastResponse{
		Message:   "Broadcast created successfully",
		UUID:      broadcast.UUID.String(),
		Status:    string(broadcast.Status),
		CreatedAt: broadcast.CreatedAt.Format(time.RFC3339),
	}, nil
}

// UpdateSpec replaces the spec of a draft or paused broadcast. Running
// broadcasts keep the snapshot each tick already read; operators pause first.
func (f *BroadcastFlowImpl) UpdateSpec(ctx context.Context, req *dto.UpdateBroadcastSpecRequest, metadata *ClientMetadata) (*dto.UpdateBroadcastSpecResponse, error) {
	broadcast, err := f.lookup(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	if broadcast.Status != models.BroadcastStatusDraft && broadcast.Status != models.BroadcastStatusPaused {
		return nil, NewBusinessErrorf("BROADCAST_NOT_EDITABLE", "Broadcast in status %s cannot be edited", ErrBroadcastStatusConflict, broadcast.Status)
	}

	spec, err := specFromDTO(req.Spec)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_SPEC_INVALID", "Broadcast spec validation failed", err)
	}

	if err := f.broadcastRepo.UpdateSpec(ctx, broadcast.ID, spec); err != nil {
		return nil, NewBusinessError("BROADCAST_UPDATE_FAILED", "Broadcast spec update failed", err)
	}

	return &dto.UpdateBroadcastSpecResponse{Message: "Broadcast spec updated successfully"}, nil
}

// StartBroadcast transitions draft or paused to running
func (f *BroadcastFlowImpl) StartBroadcast(ctx context.Context, req *dto.BroadcastActionRequest, metadata *ClientMetadata) (*dto.BroadcastActionResponse, error) {
	broadcast, err := f.lookup(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	if !broadcast.Status.CanTransitionTo(models.BroadcastStatusRunning) {
		return nil, NewBusinessErrorf("BROADCAST_NOT_STARTABLE", "Broadcast in status %s cannot be started", ErrBroadcastNotStartable, broadcast.Status)
	}

	changed, err := f.broadcastRepo.TransitionStatus(ctx, broadcast.ID, broadcast.Status, models.BroadcastStatusRunning)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_START_FAILED", "Broadcast start failed", err)
	}
	if !changed {
		return nil, NewBusinessError("BROADCAST_STATUS_CONFLICT", "Broadcast status changed concurrently", ErrBroadcastStatusConflict)
	}

	return &dto.BroadcastActionResponse{
		Message: "Broadcast started",
		UUID:    broadcast.UUID.String(),
		Status:  string(models.BroadcastStatusRunning),
	}, nil
}

// PauseBroadcast transitions running to paused and hands claimed but unsettled
// targets back to the pending queue. In-flight provider calls finish on their
// own; their webhooks settle the attempt rows either way.
func (f *BroadcastFlowImpl) PauseBroadcast(ctx context.Context, req *dto.BroadcastActionRequest, metadata *ClientMetadata) (*dto.BroadcastActionResponse, error) {
	return f.halt(ctx, req, models.BroadcastStatusPaused, "BROADCAST_NOT_PAUSABLE", ErrBroadcastNotPausable, "Broadcast paused")
}

// StopBroadcast transitions to stopped from any live status
func (f *BroadcastFlowImpl) StopBroadcast(ctx context.Context, req *dto.BroadcastActionRequest, metadata *ClientMetadata) (*dto.BroadcastActionResponse, error) {
	return f.halt(ctx, req, models.BroadcastStatusStopped, "BROADCAST_NOT_STOPPABLE", ErrBroadcastNotStoppable, "Broadcast stopped")
}

func (f *BroadcastFlowImpl) halt(ctx context.Context, req *dto.BroadcastActionRequest, to models.BroadcastStatus, code string, sentinel error, msg string) (*dto.BroadcastActionResponse, error) {
	broadcast, err := f.lookup(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	if !broadcast.Status.CanTransitionTo(to) {
		return nil, NewBusinessErrorf(code, "Broadcast in status %s cannot transition to %s", sentinel, broadcast.Status, to)
	}

	var reverted int64
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		changed, err := f.broadcastRepo.TransitionStatus(txCtx, broadcast.ID, broadcast.Status, to)
		if err != nil {
			return err
		}
		if !changed {
			return ErrBroadcastStatusConflict
		}

		// The status flip and the calling -> pending revert commit together so
		// a crash between them cannot strand claimed rows.
		reverted, err = f.targetRepo.RevertCallingToPending(txCtx, broadcast.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrBroadcastStatusConflict) {
			return nil, NewBusinessError("BROADCAST_STATUS_CONFLICT", "Broadcast status changed concurrently", ErrBroadcastStatusConflict)
		}
		return nil, NewBusinessError("BROADCAST_HALT_FAILED", fmt.Sprintf("Broadcast transition to %s failed", to), err)
	}

	if f.pacing != nil {
		f.pacing.Reset(broadcast.ID)
	}

	return &dto.BroadcastActionResponse{
		Message:  msg,
		UUID:     broadcast.UUID.String(),
		Status:   string(to),
		Reverted: reverted,
	}, nil
}

// GetBroadcast returns one broadcast by UUID
func (f *BroadcastFlowImpl) GetBroadcast(ctx context.Context, req *dto.GetBroadcastRequest, metadata *ClientMetadata) (*dto.GetBroadcastResponse, error) {
	broadcast, err := f.lookup(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	resp := toBroadcastDTO(broadcast)
	return &resp, nil
}

// ListBroadcasts returns a page of broadcasts, newest first
func (f *BroadcastFlowImpl) ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest, metadata *ClientMetadata) (*dto.ListBroadcastsResponse, error) {
	if req.Page < 1 {
		return nil, NewBusinessError("INVALID_PAGE", "Page must be at least 1", ErrInvalidPage)
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		return nil, NewBusinessError("INVALID_PAGE_SIZE", "Page size must be between 1 and 100", ErrInvalidPageSize)
	}

	filter := models.BroadcastFilter{Name: req.Name}
	if req.Status != nil {
		status := models.BroadcastStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("INVALID_STATUS", "Unknown broadcast status %q", ErrBroadcastStatusConflict, *req.Status)
		}
		filter.Status = &status
	}

	offset := (req.Page - 1) * req.PageSize
	broadcasts, err := f.broadcastRepo.ByFilter(ctx, filter, "created_at DESC", req.PageSize, offset)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LIST_FAILED", "Failed to list broadcasts", err)
	}

	items := make([]dto.GetBroadcastResponse, 0, len(broadcasts))
	for _, b := range broadcasts {
		items = append(items, toBroadcastDTO(b))
	}

	return &dto.ListBroadcastsResponse{
		Items:    items,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}

// GetStats aggregates live progress counters for a broadcast
func (f *BroadcastFlowImpl) GetStats(ctx context.Context, req *dto.GetBroadcastRequest, metadata *ClientMetadata) (*dto.BroadcastStatsResponse, error) {
	broadcast, err := f.lookup(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	counts, err := f.targetRepo.CountByStatus(ctx, broadcast.ID)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_STATS_FAILED", "Failed to aggregate broadcast stats", err)
	}

	inFlight, err := f.attemptRepo.CountInFlight(ctx, broadcast.ID)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_STATS_FAILED", "Failed to count in-flight calls", err)
	}

	events, err := f.eventRepo.ByFilter(ctx, models.ScheduledEventFilter{BroadcastID: &broadcast.ID}, "", 0, 0)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_STATS_FAILED", "Failed to count scheduled events", err)
	}

	failures, err := f.targetRepo.RecentFailures(ctx, broadcast.ID, recentFailureLimit)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_STATS_FAILED", "Failed to list recent failures", err)
	}

	byStatus := make(map[string]int64, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	failureDTOs := make([]dto.TargetFailureDTO, 0, len(failures))
	for _, t := range failures {
		failureDTOs = append(failureDTOs, dto.TargetFailureDTO{
			PhoneNumber: t.PhoneNumber,
			Status:      string(t.Status),
			Attempts:    t.Attempts,
			LastError:   t.LastError,
			UpdatedAt:   t.UpdatedAt,
		})
	}

	return &dto.BroadcastStatsResponse{
		UUID:            broadcast.UUID.String(),
		Status:          string(broadcast.Status),
		CountsByStatus:  byStatus,
		InFlightCalls:   inFlight,
		PendingCallback: int64(len(events)),
		RecentFailures:  failureDTOs,
	}, nil
}

func (f *BroadcastFlowImpl) lookup(ctx context.Context, uuidStr string) (*models.Broadcast, error) {
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

// specFromDTO converts and validates the wire-side spec
func specFromDTO(in dto.BroadcastSpecDTO) (models.BroadcastSpec, error) {
	spec := models.BroadcastSpec{
		CallsPerMinute:           in.CallsPerMinute,
		MaxConcurrentCalls:       in.MaxConcurrentCalls,
		MaxCallsPerProvider:      in.MaxCallsPerProvider,
		CallingHoursStart:        in.CallingHoursStart,
		CallingHoursEnd:          in.CallingHoursEnd,
		Timezone:                 in.Timezone,
		BypassCallingHours:       in.BypassCallingHours,
		TransferNumber:           in.TransferNumber,
		AgentOrScriptID:          in.AgentOrScriptID,
		DefaultMaxAttempts:       in.DefaultMaxAttempts,
		EnableAdaptivePacing:     in.EnableAdaptivePacing,
		AdaptiveCeilingPerMinute: in.AdaptiveCeilingPerMinute,
	}

	if spec.CallsPerMinute < 0 || spec.MaxConcurrentCalls < 0 || spec.MaxCallsPerProvider < 0 {
		return spec, fmt.Errorf("%w: pacing limits cannot be negative", ErrBroadcastSpecInvalid)
	}
	if spec.CallingHoursStart < 0 || spec.CallingHoursStart > 23 ||
		spec.CallingHoursEnd < 0 || spec.CallingHoursEnd > 24 {
		return spec, fmt.Errorf("%w: calling hours out of range", ErrBroadcastSpecInvalid)
	}
	if spec.DefaultMaxAttempts < 0 {
		return spec, fmt.Errorf("%w: default_max_attempts cannot be negative", ErrBroadcastSpecInvalid)
	}
	if _, err := utils.LoadLocationCached(spec.Timezone); err != nil {
		return spec, fmt.Errorf("%w: unknown timezone %q", ErrBroadcastSpecInvalid, spec.Timezone)
	}

	if len(in.DTMFActionMap) > 0 {
		spec.DTMFActionMap = make(map[string]models.DTMFAction, len(in.DTMFActionMap))
		for digit, raw := range in.DTMFActionMap {
			if len(digit) != 1 || !strings.ContainsAny(digit, "0123456789*#") {
				return spec, fmt.Errorf("%w: invalid DTMF digit %q", ErrBroadcastSpecInvalid, digit)
			}
			action := models.DTMFAction(raw)
			if !action.Valid() {
				return spec, fmt.Errorf("%w: unknown DTMF action %q", ErrBroadcastSpecInvalid, raw)
			}
			spec.DTMFActionMap[digit] = action
		}
	}

	if spec.TransferNumber != "" {
		normalized, err := utils.NormalizePhone(spec.TransferNumber)
		if err != nil {
			return spec, fmt.Errorf("%w: invalid transfer number", ErrBroadcastSpecInvalid)
		}
		spec.TransferNumber = normalized
	}
	for _, action := range spec.DTMFActionMap {
		if action == models.DTMFActionTransfer && spec.TransferNumber == "" {
			return spec, fmt.Errorf("%w: transfer action mapped but no transfer number set", ErrBroadcastSpecInvalid)
		}
	}

	return spec, nil
}

func specToDTO(spec models.BroadcastSpec) dto.BroadcastSpecDTO {
	out := dto.BroadcastSpecDTO{
		CallsPerMinute:           spec.CallsPerMinute,
		MaxConcurrentCalls:       spec.MaxConcurrentCalls,
		MaxCallsPerProvider:      spec.MaxCallsPerProvider,
		CallingHoursStart:        spec.CallingHoursStart,
		CallingHoursEnd:          spec.CallingHoursEnd,
		Timezone:                 spec.Timezone,
		BypassCallingHours:       spec.BypassCallingHours,
		TransferNumber:           spec.TransferNumber,
		AgentOrScriptID:          spec.AgentOrScriptID,
		DefaultMaxAttempts:       spec.DefaultMaxAttempts,
		EnableAdaptivePacing:     spec.EnableAdaptivePacing,
		AdaptiveCeilingPerMinute: spec.AdaptiveCeilingPerMinute,
	}
	if len(spec.DTMFActionMap) > 0 {
		out.DTMFActionMap = make(map[string]string, len(spec.DTMFActionMap))
		for digit, action := range spec.DTMFActionMap {
			out.DTMFActionMap[digit] = string(action)
		}
	}
	return out
}

func toBroadcastDTO(b *models.Broadcast) dto.GetBroadcastResponse {
	return dto.GetBroadcastResponse{
		UUID:      b.UUID.String(),
		Name:      b.Name,
		Status:    string(b.Status),
		Spec:      specToDTO(b.Spec),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
		StartedAt: b.StartedAt,
		StoppedAt: b.StoppedAt,
	}
}
