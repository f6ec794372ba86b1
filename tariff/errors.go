package tariff

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNavigationTimeout = errors.New("navigation timeout")
	ErrScopeNotFound     = errors.New("no encontré ninguna tabla en la página de CFE")
	ErrTableNotFound     = errors.New("no encontré la tabla de tarifas")
	ErrNoPriceFound      = errors.New("no encontré $/kWh de DAC (usa ?debug=1 para inspección)")
	ErrNoTiersFound      = errors.New("no pude leer los bloques (usa ?debug=1 para ver filas)")
	ErrInvalidKWh        = errors.New("kwh inválido")
)

// ValidateKWh rejects consumptions that cannot be charged: negative, NaN
// or infinite.
func ValidateKWh(kwh float64) error {
	if math.IsNaN(kwh) || math.IsInf(kwh, 0) || kwh < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidKWh, kwh)
	}
	return nil
}

// IsNotFound reports whether err belongs to the "data not found" family,
// which callers surface as a 404 rather than an internal failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrScopeNotFound) ||
		errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrNoPriceFound) ||
		errors.Is(err, ErrNoTiersFound)
}
