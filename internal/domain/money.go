package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// decimalZero — ноль для инициализации накопительных сумм.
var decimalZero = decimal.Zero

// minorUnits — количество знаков после запятой для валюты (ISO 4217).
// KRW и JPY не имеют дробной части; USD и EUR — два знака.
var minorUnits = map[string]int32{
	"KRW": 0,
	"JPY": 0,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"RUB": 2,
}

// Money — денежная сумма с валютой.
// Сумма хранится как decimal и всегда округлена до точности валюты
// по правилу HALF_UP: округление выполняется при создании
// и после каждой арифметической операции.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney создаёт денежную сумму, валидируя валюту и знак.
// Отрицательные суммы запрещены.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	scale, err := currencyScale(currency)
	if err != nil {
		return Money{}, err
	}

	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount
	}

	return Money{
		Amount:   amount.Round(scale),
		Currency: currency,
	}, nil
}

// MustMoney создаёт денежную сумму из строки.
// Паникует при некорректных данных — только для тестов и констант.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(decimal.RequireFromString(amount), currency)
	if err != nil {
		panic(err)
	}
	return m
}

// currencyScale возвращает точность валюты.
// Неизвестная валюта — ошибка: молчаливое округление до двух знаков
// исказило бы суммы в валютах без дробной части.
func currencyScale(currency string) (int32, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" || code != currency {
		return 0, ErrInvalidCurrency
	}
	scale, ok := minorUnits[code]
	if !ok {
		return 0, ErrInvalidCurrency
	}
	return scale, nil
}

// Add складывает две суммы одной валюты.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency)
}

// Sub вычитает сумму той же валюты.
// Отрицательный результат — ошибка.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency)
}

// MulInt умножает сумму на целое количество.
// Используется для расчёта стоимости позиции (цена * количество).
func (m Money) MulInt(quantity int64) (Money, error) {
	return NewMoney(m.Amount.Mul(decimal.NewFromInt(quantity)), m.Currency)
}

// IsPositive возвращает true, если сумма строго больше нуля.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// IsZero возвращает true, если сумма равна нулю.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Equal сравнивает суммы по значению и валюте.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String возвращает представление вида "10000 KRW".
func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}
