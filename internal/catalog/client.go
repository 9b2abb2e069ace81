// Package catalog fetches product and stock data from the storefront API.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/pkg/httpclient"
	"github.com/utafrali/storefront-cart/pkg/tracing"
)

const serviceName = "catalog"

// HTTPDoer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client implements cart.Catalog over HTTP.
type Client struct {
	http    HTTPDoer
	baseURL string
	tracer  trace.Tracer
}

func NewClient(doer HTTPDoer, baseURL string) *Client {
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracing.Tracer(serviceName),
	}
}

// stockResponse accepts both "productId" and the json-server style "id".
// Either may be absent.
type stockResponse struct {
	ProductID *int `json:"productId"`
	ID        *int `json:"id"`
	Amount    *int `json:"amount"`
}

// Stock returns the available stock for productID. Stock is never cached.
// A product id in the response is checked when present.
func (c *Client) Stock(ctx context.Context, productID int) (domain.Stock, error) {
	var resp stockResponse
	if err := c.get(ctx, "catalog.Stock", "/stock/", productID, &resp); err != nil {
		return domain.Stock{}, err
	}

	id := resp.ProductID
	if id == nil {
		id = resp.ID
	}
	if id != nil && *id != productID {
		return domain.Stock{}, fmt.Errorf("malformed stock response: id %d, want %d", *id, productID)
	}
	if resp.Amount == nil {
		return domain.Stock{}, fmt.Errorf("malformed stock response: no amount for product %d", productID)
	}
	if *resp.Amount < 0 {
		return domain.Stock{}, fmt.Errorf("malformed stock response: negative amount %d for product %d", *resp.Amount, productID)
	}
	return domain.Stock{ProductID: productID, Amount: *resp.Amount}, nil
}

// Product returns the catalog record for productID, keeping every attribute
// the catalog sends. A record without an id is given productID.
func (c *Client) Product(ctx context.Context, productID int) (domain.Product, error) {
	var p domain.Product
	if err := c.get(ctx, "catalog.Product", "/products/", productID, &p); err != nil {
		return domain.Product{}, err
	}
	switch p.ID {
	case 0:
		p.ID = productID
	case productID:
	default:
		return domain.Product{}, fmt.Errorf("malformed product response: id %d, want %d", p.ID, productID)
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, spanName, path string, productID int, dst any) (err error) {
	url := c.baseURL + path + strconv.Itoa(productID)

	ctx, span := c.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("product.id", productID),
			attribute.String("http.url", url),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create %s request: %w", serviceName, err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call %s service: %w", serviceName, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	return httpclient.DecodeJSON(resp, serviceName, dst)
}
