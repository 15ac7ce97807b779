package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"strconv"
	"time"

	"sevapay/pkg/logging"
)

// EmailService handles email notifications
type EmailService struct {
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	fromEmail    string
	fromName     string
	logger       logging.Logger
}

// EmailData represents data for email templates
type EmailData struct {
	Name         string
	RequestType  string
	AmountRupees string
	Reason       string
	FeeType      string
	NextDueDate  time.Time
	LoginURL     string
}

// NewEmailService creates a new email service instance
func NewEmailService(logger logging.Logger) *EmailService {
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if port == 0 {
		port = 587
	}

	return &EmailService{
		smtpHost:     os.Getenv("SMTP_HOST"),
		smtpPort:     port,
		smtpUser:     os.Getenv("SMTP_USER"),
		smtpPassword: os.Getenv("SMTP_PASSWORD"),
		fromEmail:    os.Getenv("FROM_EMAIL"),
		fromName:     os.Getenv("FROM_NAME"),
		logger:       logger,
	}
}

// IsConfigured checks if email service is properly configured
func (es *EmailService) IsConfigured() bool {
	return es.smtpHost != "" && es.smtpUser != "" && es.smtpPassword != "" && es.fromEmail != ""
}

// SendRequestApprovedEmail tells a user their wallet request was approved
func (es *EmailService) SendRequestApprovedEmail(to, name, requestType, amountRupees string) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping request approved email")
		return nil
	}

	subject := fmt.Sprintf("Wallet %s Approved - SevaPay", requestType)
	body, err := es.renderTemplate("request_approved", EmailData{
		Name:         name,
		RequestType:  requestType,
		AmountRupees: amountRupees,
		LoginURL:     os.Getenv("BASE_URL") + "/login",
	})
	if err != nil {
		return fmt.Errorf("failed to render request approved template: %w", err)
	}

	return es.sendEmail(to, subject, body)
}

// SendRequestRejectedEmail tells a user their wallet request was rejected
func (es *EmailService) SendRequestRejectedEmail(to, name, requestType, amountRupees, reason string) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping request rejected email")
		return nil
	}

	subject := fmt.Sprintf("Wallet %s Rejected - SevaPay", requestType)
	body, err := es.renderTemplate("request_rejected", EmailData{
		Name:         name,
		RequestType:  requestType,
		AmountRupees: amountRupees,
		Reason:       reason,
		LoginURL:     os.Getenv("BASE_URL") + "/login",
	})
	if err != nil {
		return fmt.Errorf("failed to render request rejected template: %w", err)
	}

	return es.sendEmail(to, subject, body)
}

// SendTopupCreditedEmail confirms a gateway top-up landed in the wallet
func (es *EmailService) SendTopupCreditedEmail(to, name, amountRupees string) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping top-up credited email")
		return nil
	}

	subject := "Wallet Top-up Successful - SevaPay"
	body, err := es.renderTemplate("topup_credited", EmailData{
		Name:         name,
		AmountRupees: amountRupees,
		LoginURL:     os.Getenv("BASE_URL") + "/login",
	})
	if err != nil {
		return fmt.Errorf("failed to render top-up credited template: %w", err)
	}

	return es.sendEmail(to, subject, body)
}

// SendFeeReceiptEmail sends a receipt for a charged platform fee
func (es *EmailService) SendFeeReceiptEmail(to, name, feeType, amountRupees string, nextDueDate time.Time) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping fee receipt email")
		return nil
	}

	subject := "Platform Fee Receipt - SevaPay"
	body, err := es.renderTemplate("fee_receipt", EmailData{
		Name:         name,
		FeeType:      feeType,
		AmountRupees: amountRupees,
		NextDueDate:  nextDueDate,
		LoginURL:     os.Getenv("BASE_URL") + "/login",
	})
	if err != nil {
		return fmt.Errorf("failed to render fee receipt template: %w", err)
	}

	return es.sendEmail(to, subject, body)
}

// sendEmail sends an email via SMTP
func (es *EmailService) sendEmail(to, subject, body string) error {
	auth := smtp.PlainAuth("", es.smtpUser, es.smtpPassword, es.smtpHost)

	fromHeader := es.fromEmail
	if es.fromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", es.fromName, es.fromEmail)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		fromHeader, to, subject, body)

	addr := fmt.Sprintf("%s:%d", es.smtpHost, es.smtpPort)
	err := smtp.SendMail(addr, auth, es.fromEmail, []string{to}, []byte(msg))

	if err != nil {
		es.logger.WithFields(logging.Fields{
			"error":   err.Error(),
			"to":      to,
			"subject": subject,
		}).Error("Failed to send email")
		return err
	}

	es.logger.WithFields(logging.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Email sent successfully")

	return nil
}

// renderTemplate renders an email template with data
func (es *EmailService) renderTemplate(templateName string, data EmailData) (string, error) {
	templates := map[string]string{
		"request_approved": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Request Approved</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #27ae60;">Wallet Request Approved</h2>

        <p>Hello {{.Name}},</p>

        <p>Your wallet request has been approved and your balance has been updated:</p>

        <div style="background-color: #d4edda; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #27ae60;">
            <p><strong>Request Type:</strong> {{.RequestType}}</p>
            <p><strong>Amount:</strong> Rs. {{.AmountRupees}}</p>
        </div>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #27ae60; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">View Wallet</a>
        </p>

        <p>Best regards,<br>The SevaPay Team</p>
    </div>
</body>
</html>`,

		"request_rejected": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Request Rejected</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #e74c3c;">Wallet Request Rejected</h2>

        <p>Hello {{.Name}},</p>

        <p>Unfortunately your wallet request could not be approved:</p>

        <div style="background-color: #f8d7da; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #e74c3c;">
            <p><strong>Request Type:</strong> {{.RequestType}}</p>
            <p><strong>Amount:</strong> Rs. {{.AmountRupees}}</p>
            {{if .Reason}}<p><strong>Reason:</strong> {{.Reason}}</p>{{end}}
        </div>

        <p>Please review the reason above and submit a new request, or contact support if you believe this is a mistake.</p>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #e74c3c; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Submit New Request</a>
        </p>

        <p>Best regards,<br>The SevaPay Team</p>
    </div>
</body>
</html>`,

		"topup_credited": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Top-up Successful</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #27ae60;">Top-up Successful!</h2>

        <p>Hello {{.Name}},</p>

        <p>Your online payment has been received and credited to your wallet:</p>

        <div style="background-color: #d4edda; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #27ae60;">
            <p><strong>Amount Credited:</strong> Rs. {{.AmountRupees}}</p>
        </div>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #27ae60; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">View Wallet</a>
        </p>

        <p>Thank you for using SevaPay!</p>

        <p>Best regards,<br>The SevaPay Team</p>
    </div>
</body>
</html>`,

		"fee_receipt": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Fee Receipt</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2c3e50;">Platform Fee Receipt</h2>

        <p>Hello {{.Name}},</p>

        <p>Your recurring platform fee has been deducted from your wallet:</p>

        <div style="background-color: #f8f9fa; padding: 20px; border-radius: 5px; margin: 20px 0;">
            <p><strong>Fee:</strong> {{.FeeType}}</p>
            <p><strong>Amount:</strong> Rs. {{.AmountRupees}}</p>
            <p><strong>Next Due Date:</strong> {{.NextDueDate.Format "January 2, 2006"}}</p>
        </div>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #3498db; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">View Transactions</a>
        </p>

        <p>Best regards,<br>The SevaPay Team</p>
    </div>
</body>
</html>`,
	}

	templateStr, exists := templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	tmpl, err := template.New(templateName).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
