// Package shipping requests carrier labels for orders with shipping items.
// It is a best-effort collaborator of the fulfillment pipeline: a label
// failure never touches the order's printed state.
package shipping

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"example.com/storesync/config"
	"example.com/storesync/internal/models"
	"example.com/storesync/internal/render"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	authURL        = "https://apis.fedex.com/oauth/token"
	shipURL        = "https://apis.fedex.com/ship/v1/shipments"
	authURLSandbox = "https://apis-sandbox.fedex.com/oauth/token"
	shipURLSandbox = "https://apis-sandbox.fedex.com/ship/v1/shipments"
)

// FedExClient talks to the FedEx REST API. Tokens are cached until shortly
// before expiry.
type FedExClient struct {
	cfg        config.FedExConfig
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewFedExClient creates a client, or nil when the integration is disabled.
func NewFedExClient(cfg config.FedExConfig) *FedExClient {
	if !cfg.Enabled || cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil
	}
	return &FedExClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// FetchLabel creates a FedEx Ground shipment for the order's shipping
// address and saves the returned label PDF beside the order document. It
// returns the label path, or an empty path when the order has nothing to
// ship.
func (c *FedExClient) FetchLabel(ctx context.Context, order *models.Order, destDir string) (string, error) {
	addr := shippingAddress(order)
	if addr == nil {
		return "", nil
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return "", err
	}

	result, err := c.createShipment(ctx, token, order, addr)
	if err != nil {
		return "", err
	}
	if result.labelData == "" {
		return "", errors.New("shipment response carried no label")
	}

	raw, err := base64.StdEncoding.DecodeString(result.labelData)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode label data")
	}

	labelPath := filepath.Join(destDir, labelFileName(order.OrderNumber))
	if err := os.WriteFile(labelPath, raw, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to save label to %s", labelPath)
	}

	log.Info().Str("order", order.OrderNumber).Str("tracking", result.trackingNumber).Msg("FedEx shipment created")
	return labelPath, nil
}

func labelFileName(orderNumber string) string {
	base := strings.TrimSuffix(render.FileName(orderNumber), ".pdf")
	return base + "_label.pdf"
}

// shippingAddress picks the address a label is made for: the order-level
// shipping address when present, otherwise the first shipping item's.
func shippingAddress(order *models.Order) *models.Address {
	if order.ShippingAddress != nil {
		return order.ShippingAddress
	}
	for _, item := range order.Items {
		if item.Fulfillment.Method == models.FulfillmentShipping && item.Fulfillment.Address != nil {
			return item.Fulfillment.Address
		}
	}
	return nil
}

// getToken returns a cached OAuth token, refreshing it when within five
// minutes of expiry.
func (c *FedExClient) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	endpoint := authURL
	if c.cfg.UseSandbox {
		endpoint = authURLSandbox
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.APIKey)
	form.Set("client_secret", c.cfg.SecretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "failed to build auth request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "auth request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("auth failed: %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "failed to decode auth response")
	}
	if payload.ExpiresIn == 0 {
		payload.ExpiresIn = 3600
	}

	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn-300) * time.Second)
	return c.token, nil
}

type shipmentResult struct {
	trackingNumber string
	labelData      string
}

func (c *FedExClient) createShipment(ctx context.Context, token string, order *models.Order, addr *models.Address) (*shipmentResult, error) {
	endpoint := shipURL
	if c.cfg.UseSandbox {
		endpoint = shipURLSandbox
	}

	streetLines := []string{firstLine(addr)}
	if addr.Address2 != "" {
		streetLines = append(streetLines, addr.Address2)
	}

	request := map[string]interface{}{
		"labelResponseOptions": "LABEL",
		"requestedShipment": map[string]interface{}{
			"recipients": []map[string]interface{}{{
				"contact": map[string]interface{}{
					"personName":  strings.TrimSpace(order.FirstName + " " + order.LastName),
					"phoneNumber": order.Phone,
				},
				"address": map[string]interface{}{
					"streetLines":         streetLines,
					"city":                addr.City,
					"stateOrProvinceCode": addr.State,
					"postalCode":          addr.ZipCode,
					"countryCode":         "US",
					"residential":         true,
				},
			}},
			"shipDatestamp": time.Now().Format("2006-01-02"),
			"serviceType":   "FEDEX_GROUND",
			"packagingType": "YOUR_PACKAGING",
			"pickupType":    "USE_SCHEDULED_PICKUP",
			"shippingChargesPayment": map[string]interface{}{
				"paymentType": "SENDER",
				"payor": map[string]interface{}{
					"responsibleParty": map[string]interface{}{
						"accountNumber": map[string]interface{}{"value": c.cfg.AccountNumber},
					},
				},
			},
			"labelSpecification": map[string]interface{}{
				"imageType":      "PDF",
				"labelStockType": "PAPER_4X6",
			},
			"requestedPackageLineItems": []map[string]interface{}{{
				"weight": map[string]interface{}{"units": "LB", "value": 1.0},
			}},
		},
		"accountNumber": map[string]interface{}{"value": c.cfg.AccountNumber},
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal shipment request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build shipment request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-locale", "en_US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "shipment request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("shipment creation failed: %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Output struct {
			TransactionShipments []struct {
				MasterTrackingNumber string `json:"masterTrackingNumber"`
				PieceResponses       []struct {
					PackageDocuments []struct {
						EncodedLabel string `json:"encodedLabel"`
					} `json:"packageDocuments"`
				} `json:"pieceResponses"`
			} `json:"transactionShipments"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, errors.Wrap(err, "failed to decode shipment response")
	}
	if len(response.Output.TransactionShipments) == 0 {
		return nil, errors.New("shipment response carried no shipments")
	}

	shipment := response.Output.TransactionShipments[0]
	result := &shipmentResult{trackingNumber: shipment.MasterTrackingNumber}
	if len(shipment.PieceResponses) > 0 && len(shipment.PieceResponses[0].PackageDocuments) > 0 {
		result.labelData = shipment.PieceResponses[0].PackageDocuments[0].EncodedLabel
	}
	return result, nil
}

func firstLine(addr *models.Address) string {
	if addr.Address1 != "" {
		return addr.Address1
	}
	return addr.Street
}

// String implements fmt.Stringer for logging without leaking the secret key.
func (c *FedExClient) String() string {
	return fmt.Sprintf("fedex client (sandbox=%t)", c.cfg.UseSandbox)
}
