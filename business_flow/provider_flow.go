package businessflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mkarimv/Raijin/app/dto"
	"github.com/mkarimv/Raijin/app/services"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
	"gorm.io/gorm"
)

// ProviderFlow handles provider account management
type ProviderFlow interface {
	CreateAccount(ctx context.Context, req *dto.CreateProviderAccountRequest, metadata *ClientMetadata) (*dto.CreateProviderAccountResponse, error)
	ListAccounts(ctx context.Context, metadata *ClientMetadata) (*dto.ListProviderAccountsResponse, error)
	TestConnection(ctx context.Context, accountUUID string, metadata *ClientMetadata) (*dto.TestProviderConnectionResponse, error)
}

// ProviderFlowImpl implements the provider account business flow
type ProviderFlowImpl struct {
	accountRepo    repository.ProviderAccountRepository
	adapterFactory services.AdapterFactory
	db             *gorm.DB
}

// NewProviderFlow creates a new provider flow instance
func NewProviderFlow(
	accountRepo repository.ProviderAccountRepository,
	adapterFactory services.AdapterFactory,
	db *gorm.DB,
) ProviderFlow {
	if adapterFactory == nil {
		adapterFactory = services.NewAdapter
	}
	return &ProviderFlowImpl{
		accountRepo:    accountRepo,
		adapterFactory: adapterFactory,
		db:             db,
	}
}

// CreateAccount registers a new caller number. Credentials are validated both
// structurally and by building an adapter before anything is persisted.
func (f *ProviderFlowImpl) CreateAccount(ctx context.Context, req *dto.CreateProviderAccountRequest, metadata *ClientMetadata) (*dto.CreateProviderAccountResponse, error) {
	providerType := models.ProviderType(req.ProviderType)
	if !providerType.Valid() {
		return nil, NewBusinessErrorf("PROVIDER_TYPE_INVALID", "Unknown provider type %q", ErrProviderMisconfigured, req.ProviderType)
	}

	phone, err := utils.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, NewBusinessError("PHONE_NUMBER_INVALID", "Phone number could not be normalized", err)
	}

	creds, err := credentialsFromMap(providerType, req.Credentials)
	if err != nil {
		return nil, NewBusinessError("PROVIDER_CREDENTIALS_INVALID", "Provider credentials are invalid", err)
	}

	account := &models.ProviderAccount{
		ProviderType:     providerType,
		ExternalNumberID: req.ExternalNumberID,
		PhoneNumber:      phone,
		SupportsVoice:    utils.ValueOr(req.SupportsVoice, true),
		SupportsSMS:      utils.IsTrue(req.SupportsSMS),
		SupportsRVM:      utils.IsTrue(req.SupportsRVM),
		Credentials:      creds,
		IsActive:         utils.ToPtr(true),
	}
	if err := account.BeforeCreate(); err != nil {
		return nil, NewBusinessError("PROVIDER_CREATION_FAILED", "Provider account creation failed", err)
	}

	// Building the adapter exercises the credential variant checks
	if _, err := f.adapterFactory(account); err != nil {
		return nil, NewBusinessError("PROVIDER_CREDENTIALS_INVALID", "Provider credentials are invalid", err)
	}

	if err := f.accountRepo.Save(ctx, account); err != nil {
		return nil, NewBusinessError("PROVIDER_CREATION_FAILED", "Provider account creation failed", err)
	}

	return &dto.CreateProviderAccountResponse{
		Message:     "Provider account created successfully",
		UUID:        account.UUID.String(),
		PhoneNumber: account.PhoneNumber,
	}, nil
}

// ListAccounts returns all provider accounts without credentials
func (f *ProviderFlowImpl) ListAccounts(ctx context.Context, metadata *ClientMetadata) (*dto.ListProviderAccountsResponse, error) {
	accounts, err := f.accountRepo.ByFilter(ctx, models.ProviderAccountFilter{}, "created_at DESC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("PROVIDER_LIST_FAILED", "Failed to list provider accounts", err)
	}

	items := make([]dto.ProviderAccountDTO, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, dto.ProviderAccountDTO{
			UUID:            a.UUID.String(),
			ProviderType:    string(a.ProviderType),
			PhoneNumber:     a.PhoneNumber,
			SupportsVoice:   a.SupportsVoice,
			SupportsSMS:     a.SupportsSMS,
			SupportsRVM:     a.SupportsRVM,
			CurrentInFlight: a.CurrentInFlight,
			DailyCallCount:  a.DailyCallCount,
			IsActive:        utils.IsTrue(a.IsActive),
			LastUsedAt:      a.LastUsedAt,
			CreatedAt:       a.CreatedAt,
		})
	}

	return &dto.ListProviderAccountsResponse{Items: items}, nil
}

// TestConnection probes the provider backend with the account's credentials
func (f *ProviderFlowImpl) TestConnection(ctx context.Context, accountUUID string, metadata *ClientMetadata) (*dto.TestProviderConnectionResponse, error) {
	if strings.TrimSpace(accountUUID) == "" {
		return nil, NewBusinessError("PROVIDER_UUID_REQUIRED", "Provider account UUID is required", ErrProviderNotFound)
	}

	account, err := f.accountRepo.ByUUID(ctx, accountUUID)
	if err != nil {
		return nil, NewBusinessError("PROVIDER_LOOKUP_FAILED", "Failed to lookup provider account", err)
	}
	if account == nil {
		return nil, NewBusinessError("PROVIDER_NOT_FOUND", "Provider account not found", ErrProviderNotFound)
	}

	adapter, err := f.adapterFactory(account)
	if err != nil {
		return nil, NewBusinessError("PROVIDER_MISCONFIGURED", "Provider account is misconfigured", ErrProviderMisconfigured)
	}

	resp := &dto.TestProviderConnectionResponse{
		UUID:    account.UUID.String(),
		Healthy: true,
		Message: "Connection test passed",
	}
	if err := adapter.TestConnection(ctx); err != nil {
		resp.Healthy = false
		resp.Message = "Connection test failed"
		resp.Detail = err.Error()
	}

	return resp, nil
}

// credentialsFromMap decodes the untyped credentials body into the variant
// matching the provider type
func credentialsFromMap(pt models.ProviderType, raw map[string]any) (models.ProviderCredentials, error) {
	var creds models.ProviderCredentials

	buf, err := json.Marshal(raw)
	if err != nil {
		return creds, err
	}

	switch pt {
	case models.ProviderTypeTwilio:
		var c models.TwilioCredentials
		if err := json.Unmarshal(buf, &c); err != nil {
			return creds, err
		}
		creds.Twilio = &c
	case models.ProviderTypeRetell:
		var c models.RetellCredentials
		if err := json.Unmarshal(buf, &c); err != nil {
			return creds, err
		}
		creds.Retell = &c
	case models.ProviderTypeTelnyx:
		var c models.TelnyxCredentials
		if err := json.Unmarshal(buf, &c); err != nil {
			return creds, err
		}
		creds.Telnyx = &c
	case models.ProviderTypeSipTrunk:
		var c models.SipTrunkCredentials
		if err := json.Unmarshal(buf, &c); err != nil {
			return creds, err
		}
		creds.SipTrunk = &c
	}

	if err := creds.Resolve(pt); err != nil {
		return creds, err
	}
	return creds, nil
}
