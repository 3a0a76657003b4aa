package actions

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Sender delivers email. The production implementation speaks SMTP with
// per-tenant settings; tests substitute a fake.
type Sender interface {
	Send(ctx context.Context, tenantID string, to []string, subject, body string) error
}

// MailSettings holds a tenant's SMTP configuration. Tenants without a row
// fall back to the platform-wide settings from the environment.
type MailSettings struct {
	TenantID  string    `gorm:"primaryKey;column:tenant_id;type:varchar(36)"`
	Host      string    `gorm:"column:host"`
	Port      int       `gorm:"column:port"`
	Username  string    `gorm:"column:username"`
	Password  string    `gorm:"column:password"`
	From      string    `gorm:"column:from_address"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (MailSettings) TableName() string { return "mail_settings" }

// SMTPSender sends mail over SMTP, resolving per-tenant settings from the
// database with an environment fallback (SMTP_HOST, SMTP_PORT, SMTP_USER,
// SMTP_PASSWORD, SMTP_FROM).
type SMTPSender struct {
	db *gorm.DB

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an SMTPSender backed by the given database.
func NewSMTPSender(db *gorm.DB) *SMTPSender {
	return &SMTPSender{db: db, sendMail: smtp.SendMail}
}

// AutoMigrate creates the mail_settings table.
func (s *SMTPSender) AutoMigrate() error {
	return s.db.AutoMigrate(&MailSettings{})
}

func (s *SMTPSender) settingsFor(ctx context.Context, tenantID string) (*MailSettings, error) {
	var ms MailSettings
	err := s.db.WithContext(ctx).First(&ms, "tenant_id = ?", tenantID).Error
	if err == nil && ms.Host != "" {
		if ms.Port == 0 {
			ms.Port = 587
		}
		return &ms, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load mail settings: %w", err)
	}

	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return nil, fmt.Errorf("no mail settings for tenant %s and SMTP_HOST unset", tenantID)
	}
	fallback := &MailSettings{
		Host:     host,
		Port:     587,
		Username: os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	}
	if p := os.Getenv("SMTP_PORT"); p != "" {
		fmt.Sscanf(p, "%d", &fallback.Port)
	}
	return fallback, nil
}

// Send delivers one message. The body is sent as plain text.
func (s *SMTPSender) Send(ctx context.Context, tenantID string, to []string, subject, body string) error {
	ms, err := s.settingsFor(ctx, tenantID)
	if err != nil {
		return err
	}
	from := ms.From
	if from == "" {
		from = ms.Username
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if ms.Username != "" {
		auth = smtp.PlainAuth("", ms.Username, ms.Password, ms.Host)
	}
	addr := fmt.Sprintf("%s:%d", ms.Host, ms.Port)
	if err := s.sendMail(addr, auth, from, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}
