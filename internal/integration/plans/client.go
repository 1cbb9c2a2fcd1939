package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
)

// Lookup resolves the effective metering/rating/pricing plan ids for a plan.
type Lookup interface {
	EffectivePlans(ctx context.Context, req *LookupRequest) (*EffectivePlans, error)
}

// Client calls the plan-mapping service over HTTP with retries and caches
// successful resolutions.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	cache      cache.Cache
	logger     *logger.Logger
}

func NewClient(cfg *config.Configuration, c cache.Cache, log *logger.Logger) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = cfg.PlanLookup.MaxRetries
	httpClient.HTTPClient.Timeout = cfg.PlanLookup.Timeout
	httpClient.Logger = log.GetRetryableHTTPLogger()

	return &Client{
		baseURL:    cfg.PlanLookup.BaseURL,
		httpClient: httpClient,
		cache:      c,
		logger:     log,
	}
}

func cacheKey(req *LookupRequest) string {
	return fmt.Sprintf("plans:%s:%s:%s", req.OrganizationID, req.ResourceID, req.PlanID)
}

func (c *Client) EffectivePlans(ctx context.Context, req *LookupRequest) (*EffectivePlans, error) {
	key := cacheKey(req)
	if cached, ok := c.cache.Get(ctx, key); ok {
		if plans, ok := cache.UnmarshalCacheValue[EffectivePlans](cached); ok {
			return plans, nil
		}
	}

	endpoint := fmt.Sprintf("%s/v1/plans/%s/effective?organization_id=%s&resource_id=%s",
		c.baseURL,
		url.PathEscape(req.PlanID),
		url.QueryEscape(req.OrganizationID),
		url.QueryEscape(req.ResourceID),
	)

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to build plan lookup request").
			Mark(ierr.ErrInternal)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Plan lookup service unreachable").
			WithReportableDetails(map[string]interface{}{"plan_id": req.PlanID}).
			Mark(ierr.ErrUpstreamLookup)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ierr.NewError("plan mapping not found").
			WithHint("No effective plans configured for this plan").
			WithReportableDetails(map[string]interface{}{
				"plan_id":         req.PlanID,
				"organization_id": req.OrganizationID,
			}).
			Mark(ierr.ErrUpstreamLookup)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ierr.NewErrorf("plan lookup returned status %d", resp.StatusCode).
			WithHint("Plan lookup service error").
			WithReportableDetails(map[string]interface{}{
				"status": resp.StatusCode,
				"body":   string(body),
			}).
			Mark(ierr.ErrUpstreamLookup)
	}

	var plans EffectivePlans
	if err := json.NewDecoder(resp.Body).Decode(&plans); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid plan lookup response").
			Mark(ierr.ErrUpstreamLookup)
	}

	c.cache.Set(ctx, key, &plans, 0)
	return &plans, nil
}

// StaticLookup resolves plans from a fixed table, defaulting to the plan id
// itself. Used when no plan service is configured and in tests.
type StaticLookup struct {
	Mappings map[string]*EffectivePlans
	Err      error
}

func NewStaticLookup() *StaticLookup {
	return &StaticLookup{Mappings: make(map[string]*EffectivePlans)}
}

func (s *StaticLookup) EffectivePlans(ctx context.Context, req *LookupRequest) (*EffectivePlans, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if plans, ok := s.Mappings[req.PlanID]; ok {
		return plans, nil
	}
	return &EffectivePlans{
		MeteringPlanID: req.PlanID,
		RatingPlanID:   req.PlanID,
		PricingPlanID:  req.PlanID,
	}, nil
}
