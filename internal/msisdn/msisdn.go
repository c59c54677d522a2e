// Package msisdn нормализует и валидирует идентификаторы абонентов:
// телефонные номера (MSISDN) и анонимизированные ссылки операторов (ACR).
package msisdn

import (
	"regexp"
	"strings"
	"sync"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
)

// ACRPrefix фиксированный префикс анонимизированной ссылки оператора
const ACRPrefix = "acr:"

// acrPattern - ACR это длинный токен фиксированной формы, выданный
// оператором вместо номера телефона
var acrPattern = regexp.MustCompile(`^acr:[A-Za-z0-9+/=_-]{24,64}$`)

var digitsOnly = regexp.MustCompile(`^[0-9]{7,15}$`)

// IsACR проверяет, имеет ли идентификатор форму анонимизированной ссылки
func IsACR(identifier string) bool {
	return acrPattern.MatchString(strings.TrimSpace(identifier))
}

// Normalize приводит идентификатор к канонической форме: ACR остается
// как есть, MSISDN очищается до цифр в международном формате без "+".
// Возвращает domain.ErrInvalidInput для нераспознаваемых значений.
func Normalize(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", domain.ErrInvalidInput
	}

	if IsACR(id) {
		return id, nil
	}

	// Убираем визуальное форматирование
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(id)

	switch {
	case strings.HasPrefix(cleaned, "+"):
		cleaned = cleaned[1:]
	case strings.HasPrefix(cleaned, "00"):
		cleaned = cleaned[2:]
	}

	if !digitsOnly.MatchString(cleaned) {
		return "", domain.ErrInvalidInput
	}

	return cleaned, nil
}

// CountryCallingCode извлекает телефонный код страны из нормализованного
// MSISDN. Коды проверяются от длинных к коротким, чтобы "998..." не
// распознался как код "9".
func CountryCallingCode(normalized string) string {
	if IsACR(normalized) {
		return ""
	}
	for _, l := range []int{3, 2, 1} {
		if len(normalized) <= l {
			continue
		}
		if code := normalized[:l]; knownCallingCodes[code] {
			return code
		}
	}
	return ""
}

// knownCallingCodes - телефонные коды стран, в которых работают
// сконфигурированные операторы. Пополняется при добавлении оператора
// новой страны.
var knownCallingCodes = map[string]bool{
	"1":   true, // NANP
	"44":  true, // UK
	"65":  true, // Singapore
	"66":  true, // Thailand
	"95":  true, // Myanmar
	"960": true, // Maldives
	"962": true, // Jordan
	"965": true, // Kuwait
	"966": true, // Saudi Arabia
	"971": true, // UAE
	"973": true, // Bahrain
	"974": true, // Qatar
}

// Validator проверяет идентификаторы по регулярным выражениям операторов.
// Скомпилированные регэкспы кэшируются: селектор зовет валидацию на каждом
// запросе для каждого кандидата.
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewValidator создает новый валидатор идентификаторов
func NewValidator() *Validator {
	return &Validator{
		compiled: make(map[string]*regexp.Regexp),
	}
}

// MatchesOperator проверяет нормализованный идентификатор по регэкспу
// оператора. Невалидный паттерн в конфигурации оператора считается
// несовпадением.
func (v *Validator) MatchesOperator(normalized string, op *domain.Operator) bool {
	if op.IdentifierRegex == "" {
		return false
	}

	re, err := v.pattern(op.IdentifierRegex)
	if err != nil {
		return false
	}
	return re.MatchString(normalized)
}

func (v *Validator) pattern(expr string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.compiled[expr]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.compiled[expr] = re
	v.mu.Unlock()
	return re, nil
}
