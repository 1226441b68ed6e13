// Package notify is the outbound email boundary. Template rendering lives
// in the mail provider; this client only posts dispatch requests.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storefront-service/config"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

type Mailer struct {
	apiURL string
	apiKey string
	from   string
	http   *http.Client
	logger *zap.Logger
}

// NewMailer creates a mail dispatch client
func NewMailer(cfg config.MailConfig) *Mailer {
	return &Mailer{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		from:   cfg.From,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: util.GetLogger(),
	}
}

type dispatchRequest struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Vars     map[string]string `json:"vars"`
}

// SendOrderConfirmation sends the purchase record email. Dispatched before
// any product delivery email so the customer's record of purchase exists
// before product access is revealed.
func (m *Mailer) SendOrderConfirmation(ctx context.Context, order *models.Order, itemCount int) error {
	return m.dispatch(ctx, dispatchRequest{
		From:     m.from,
		To:       order.CustomerEmail,
		Subject:  fmt.Sprintf("Order #%d confirmed", order.ID),
		Template: "order_confirmation",
		Vars: map[string]string{
			"customer_name": order.CustomerName,
			"order_id":      fmt.Sprintf("%d", order.ID),
			"amount":        fmt.Sprintf("%d", order.FinalAmount),
			"item_count":    fmt.Sprintf("%d", itemCount),
		},
	})
}

// SendProductDelivery sends one product's access email
func (m *Mailer) SendProductDelivery(ctx context.Context, order *models.Order, displayName, filePath string) error {
	return m.dispatch(ctx, dispatchRequest{
		From:     m.from,
		To:       order.CustomerEmail,
		Subject:  fmt.Sprintf("Your download is ready: %s", displayName),
		Template: "product_delivery",
		Vars: map[string]string{
			"customer_name": order.CustomerName,
			"order_id":      fmt.Sprintf("%d", order.ID),
			"product_name":  displayName,
			"file_path":     filePath,
		},
	})
}

func (m *Mailer) dispatch(ctx context.Context, req dispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mail dispatch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("mail API returned %d", resp.StatusCode)
	}

	m.logger.Debug("Mail dispatched",
		zap.String("to", req.To),
		zap.String("template", req.Template))
	return nil
}
