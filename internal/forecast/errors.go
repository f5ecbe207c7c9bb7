package forecast

import (
	"errors"
	"fmt"
)

// ErrDegenerateCategory помечает категорию, по которой нельзя посчитать статистику.
var ErrDegenerateCategory = errors.New("degenerate category statistics")

// MissingDataError возвращается, когда обязательная коллекция не была передана.
type MissingDataError struct {
	Collection string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing data: %s collection was not supplied", e.Collection)
}

// InvalidParameterError возвращается при некорректных параметрах прогноза.
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}
