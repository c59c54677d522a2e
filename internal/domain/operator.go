package domain

import (
	"time"
)

// OperatorStatus статус оператора
type OperatorStatus string

const (
	OperatorStatusActive      OperatorStatus = "active"
	OperatorStatusInactive    OperatorStatus = "inactive"
	OperatorStatusMaintenance OperatorStatus = "maintenance"
	OperatorStatusDeprecated  OperatorStatus = "deprecated"
)

// Capability операция биллинга, которую может поддерживать оператор
type Capability string

const (
	CapabilityCreateSubscription    Capability = "createSubscription"
	CapabilityCancelSubscription    Capability = "cancelSubscription"
	CapabilityGetSubscriptionStatus Capability = "getSubscriptionStatus"
	CapabilityCharge                Capability = "charge"
	CapabilityRefund                Capability = "refund"
	CapabilityGeneratePIN           Capability = "generatePIN"
	CapabilityCheckEligibility      Capability = "checkEligibility"
)

// AllCapabilities полный набор операций биллинга
var AllCapabilities = []Capability{
	CapabilityCreateSubscription,
	CapabilityCancelSubscription,
	CapabilityGetSubscriptionStatus,
	CapabilityCharge,
	CapabilityRefund,
	CapabilityGeneratePIN,
	CapabilityCheckEligibility,
}

// ParseCapability преобразует строку в Capability
func ParseCapability(s string) (Capability, bool) {
	for _, c := range AllCapabilities {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Operator представляет собой сконфигурированного мобильного оператора.
// Операторы создаются при загрузке конфигурации и никогда не удаляются
// физически - только отключаются (enabled=false).
type Operator struct {
	Code            string         `json:"code" db:"code"`
	Country         string         `json:"country" db:"country"`
	Currency        string         `json:"currency" db:"currency"`
	IdentifierRegex string         `json:"identifier_regex" db:"identifier_regex"`
	CountryCode     string         `json:"country_code" db:"country_code"`
	MinAmount       float64        `json:"min_amount" db:"min_amount"`
	MaxAmount       float64        `json:"max_amount" db:"max_amount"`
	PINLength       int            `json:"pin_length" db:"pin_length"`
	Capabilities    []Capability   `json:"capabilities" db:"-"`
	CheckoutOnly    bool           `json:"checkout_only" db:"checkout_only"`
	AcceptsACR      bool           `json:"accepts_acr" db:"accepts_acr"`
	Enabled         bool           `json:"enabled" db:"enabled"`
	Status          OperatorStatus `json:"status" db:"status"`
	Priority        int            `json:"priority" db:"priority"`
	HealthScore     float64        `json:"health_score" db:"health_score"`
	LastHealthCheck time.Time      `json:"last_health_check" db:"last_health_check"`
	Campaigns       []string       `json:"campaigns,omitempty" db:"-"`
}

// Selectable сообщает, может ли оператор получать новые запросы.
// Существующие подписки отключенного оператора по-прежнему можно
// запрашивать и отменять.
func (o *Operator) Selectable() bool {
	return o.Enabled && o.Status == OperatorStatusActive
}

// Supports проверяет, заявлена ли операция в наборе возможностей оператора
func (o *Operator) Supports(capability Capability) bool {
	for _, c := range o.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// ServesCampaign проверяет, привязан ли оператор к кампании
func (o *Operator) ServesCampaign(campaign string) bool {
	for _, c := range o.Campaigns {
		if c == campaign {
			return true
		}
	}
	return false
}

// OperatorHealth снимок здоровья оператора для дашборда
type OperatorHealth struct {
	Code            string         `json:"code"`
	Status          OperatorStatus `json:"status"`
	Enabled         bool           `json:"enabled"`
	HealthScore     float64        `json:"health_score"`
	LastHealthCheck time.Time      `json:"last_health_check"`
}
