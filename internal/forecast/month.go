package forecast

import (
	"fmt"
	"strings"
	"time"
)

const monthLayout = "2006-01"

// MonthKey обозначает календарный месяц в формате YYYY-MM.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthOf возвращает месяц, в который попадает дата.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey разбирает строку YYYY-MM.
func ParseMonthKey(value string) (MonthKey, error) {
	parsed, err := time.Parse(monthLayout, strings.TrimSpace(value))
	if err != nil {
		return MonthKey{}, &InvalidParameterError{Param: "month", Reason: fmt.Sprintf("malformed month key %q", value)}
	}

	return MonthOf(parsed), nil
}

func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m MonthKey) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Start возвращает первый момент месяца в UTC.
func (m MonthKey) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End возвращает последний момент месяца в UTC.
func (m MonthKey) End() time.Time {
	return m.Start().AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// AddMonths сдвигает месяц на n позиций.
func (m MonthKey) AddMonths(n int) MonthKey {
	return MonthOf(m.Start().AddDate(0, n, 0))
}

// Contains сообщает, попадает ли дата в границы месяца.
func (m MonthKey) Contains(t time.Time) bool {
	return MonthOf(t) == m
}

func (m MonthKey) Before(other MonthKey) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

func (m MonthKey) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MonthKey) UnmarshalText(text []byte) error {
	parsed, err := ParseMonthKey(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
