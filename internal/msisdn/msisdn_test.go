package msisdn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain international", input: "66812345678", want: "66812345678"},
		{name: "plus prefix", input: "+66812345678", want: "66812345678"},
		{name: "double zero prefix", input: "0066812345678", want: "66812345678"},
		{name: "formatting stripped", input: "+44 (781) 234-5678", want: "447812345678"},
		{name: "dots stripped", input: "965.1234.5678", want: "96512345678"},
		{name: "acr passes through", input: "acr:AbCdEf0123456789AbCdEf01", want: "acr:AbCdEf0123456789AbCdEf01"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "letters", input: "66abc45678", wantErr: true},
		{name: "too short", input: "123456", wantErr: true},
		{name: "too long", input: "1234567890123456", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrInvalidInput))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsACR(t *testing.T) {
	assert.True(t, IsACR("acr:AbCdEf0123456789AbCdEf01"))
	assert.True(t, IsACR("acr:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	assert.False(t, IsACR("66812345678"))
	assert.False(t, IsACR("acr:short"))
	assert.False(t, IsACR("acr:"))
	assert.False(t, IsACR("ACR:AbCdEf0123456789AbCdEf01"))
}

func TestCountryCallingCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"66812345678", "66"},
		{"447812345678", "44"},
		{"96512345678", "965"},
		{"12025551234", "1"},
		// Кода 998 в таблице нет, и на код 9 он не должен сворачиваться
		{"998901234567", ""},
		{"acr:AbCdEf0123456789AbCdEf01", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CountryCallingCode(tt.input), "input %q", tt.input)
	}
}

func TestValidatorMatchesOperator(t *testing.T) {
	v := NewValidator()

	op := &domain.Operator{Code: "dtacTH", IdentifierRegex: `^66[0-9]{9}$`}

	assert.True(t, v.MatchesOperator("66812345678", op))
	assert.False(t, v.MatchesOperator("44812345678", op))

	// Повторный вызов идет через кэш скомпилированных регэкспов
	assert.True(t, v.MatchesOperator("66812345678", op))

	broken := &domain.Operator{Code: "bad", IdentifierRegex: `([`}
	assert.False(t, v.MatchesOperator("66812345678", broken))

	empty := &domain.Operator{Code: "none"}
	assert.False(t, v.MatchesOperator("66812345678", empty))
}
