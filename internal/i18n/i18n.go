package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/ridou/marketsync/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Message IDs
const (
	MsgQuotaExhausted      = "quota_exhausted"
	MsgConfigMissing       = "config_missing"
	MsgOffline             = "offline"
	MsgApplicationReceived = "application_received"
	MsgApplicationDeferred = "application_deferred"
	MsgApplicationRejected = "application_rejected"
	MsgDisclaimer          = "disclaimer"
	MsgSourcesHeading      = "sources_heading"
	MsgNoAnswer            = "no_answer"
	MsgStockUnavailable    = "stock_unavailable"
	MsgStoreUnavailable    = "store_unavailable"
	MsgUnauthorized        = "unauthorized"
	MsgInvalidRequest      = "invalid_request"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgInternalError       = "internal_error"
	MsgNotFound            = "not_found"
)

// English texts double as the fallback for every language.
var englishMessages = []*i18n.Message{
	{ID: MsgQuotaExhausted, Other: "Upstream quota exhausted, please try again later."},
	{ID: MsgConfigMissing, Other: "An API credential is missing, please check the service configuration."},
	{ID: MsgOffline, Other: "The network appears to be offline, please check your connection."},
	{ID: MsgApplicationReceived, Other: "Application received. A mentor will contact you within 24 hours."},
	{ID: MsgApplicationDeferred, Other: "Application accepted. Synchronization is delayed and it will be processed shortly."},
	{ID: MsgApplicationRejected, Other: "The application is incomplete, please provide a name and phone number."},
	{ID: MsgDisclaimer, Other: "Note: the analysis above is for discussion only and is not investment advice. Investing involves risk."},
	{ID: MsgSourcesHeading, Other: "Sources:"},
	{ID: MsgNoAnswer, Other: "Sorry, no analysis could be generated right now."},
	{ID: MsgStockUnavailable, Other: "No quote is available for this symbol yet."},
	{ID: MsgStoreUnavailable, Other: "The content store is not connected."},
	{ID: MsgUnauthorized, Other: "You are not allowed to perform this operation."},
	{ID: MsgInvalidRequest, Other: "Malformed request."},
	{ID: MsgRateLimitExceeded, Other: "Too many requests, please slow down."},
	{ID: MsgInternalError, Other: "The service is temporarily unavailable."},
	{ID: MsgNotFound, Other: "The requested item does not exist."},
}

var englishByID = func() map[string]string {
	m := make(map[string]string, len(englishMessages))
	for _, msg := range englishMessages {
		m[msg.ID] = msg.Other
	}
	return m
}()

// DefaultText returns the English text for a message id, or the id itself.
func DefaultText(messageID string) string {
	if text, ok := englishByID[messageID]; ok {
		return text
	}
	return messageID
}

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	if err := bundle.AddMessages(language.English, englishMessages...); err != nil {
		return nil, fmt.Errorf("failed to register default messages: %w", err)
	}

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("failed to list language files: %w", err)
	}
	for _, entry := range entries {
		path := "locales/" + entry.Name()
		if _, err := bundle.LoadMessageFileFS(localeFS, path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", path, err)
		}
	}

	defaultLanguage := cfg.DefaultLanguage
	if defaultLanguage == "" {
		defaultLanguage = "zh"
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
	}, nil
}

// Get returns the message localized for lang. lang may be a bare tag or an
// Accept-Language header value.
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer := i18n.NewLocalizer(l.bundle, lang, l.defaultLanguage)

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return DefaultText(messageID)
	}

	return msg
}

// Default returns the message in the configured default language.
func (l *Localizer) Default(messageID string) string {
	return l.Get(l.defaultLanguage, messageID, nil)
}
