package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"sevapay/pkg/logging"
)

// WhatsAppService sends template messages through the WhatsApp Business
// Cloud API. Failures are logged and swallowed; WhatsApp is never on a
// money path.
type WhatsAppService struct {
	apiURL      string
	accessToken string
	httpClient  *http.Client
	logger      logging.Logger
}

// NewWhatsAppService creates a WhatsApp sender from the environment
func NewWhatsAppService(logger logging.Logger) *WhatsAppService {
	phoneNumberID := os.Getenv("WHATSAPP_PHONE_NUMBER_ID")
	apiURL := ""
	if phoneNumberID != "" {
		apiURL = fmt.Sprintf("https://graph.facebook.com/v19.0/%s/messages", phoneNumberID)
	}

	return &WhatsAppService{
		apiURL:      apiURL,
		accessToken: os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// IsConfigured checks if the WhatsApp sender is properly configured
func (ws *WhatsAppService) IsConfigured() bool {
	return ws.apiURL != "" && ws.accessToken != ""
}

// SendTemplate sends one approved template message. params fill the
// template's body variables in order.
func (ws *WhatsAppService) SendTemplate(phone, templateName string, params ...string) error {
	if !ws.IsConfigured() {
		ws.logger.Warn("WhatsApp service not configured, skipping message")
		return nil
	}
	if phone == "" {
		return nil
	}

	parameters := make([]map[string]string, 0, len(params))
	for _, p := range params {
		parameters = append(parameters, map[string]string{"type": "text", "text": p})
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "template",
		"template": map[string]interface{}{
			"name":     templateName,
			"language": map[string]string{"code": "en"},
			"components": []map[string]interface{}{
				{"type": "body", "parameters": parameters},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal whatsapp message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ws.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ws.accessToken)

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		ws.logger.WithFields(logging.Fields{
			"error":    err.Error(),
			"template": templateName,
		}).Error("Failed to send WhatsApp message")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ws.logger.WithFields(logging.Fields{
			"status":   resp.StatusCode,
			"template": templateName,
		}).Error("WhatsApp API rejected message")
		return fmt.Errorf("whatsapp API returned %d", resp.StatusCode)
	}

	ws.logger.WithFields(logging.Fields{
		"template": templateName,
	}).Info("WhatsApp message sent")

	return nil
}
