package tariff

import "strings"

// DefaultBaseURL is where the CFE residential tariff pages live.
const DefaultBaseURL = "https://app.cfe.mx/Aplicaciones/CCFE/Tarifas/TarifasCRECasa/Tarifas/"

var tariffPages = map[Code]string{
	Code1:   "Tarifa1.aspx",
	Code1A:  "Tarifa1A.aspx",
	Code1B:  "Tarifa1B.aspx",
	Code1C:  "Tarifa1C.aspx",
	Code1D:  "Tarifa1D.aspx",
	Code1E:  "Tarifa1E.aspx",
	Code1F:  "Tarifa1F.aspx",
	CodeDAC: "TarifaDAC.aspx",
}

var monthLabels = [...]string{"", "ENERO", "FEBRERO", "MARZO", "ABRIL", "MAYO", "JUNIO",
	"JULIO", "AGOSTO", "SEPTIEMBRE", "OCTUBRE", "NOVIEMBRE", "DICIEMBRE"}

// URLFor returns the portal page for code. Unknown codes map to tariff 1.
func URLFor(baseURL string, code Code) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	page, ok := tariffPages[code]
	if !ok {
		page = tariffPages[Code1]
	}
	return baseURL + page
}

// MonthLabel is the upper case Spanish month name used in the portal
// dropdowns, or "" when month is out of range.
func MonthLabel(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthLabels[month]
}

// KnownCodes lists the tariffs with a dedicated portal page.
func KnownCodes() []Code {
	return []Code{Code1, Code1A, Code1B, Code1C, Code1D, Code1E, Code1F, CodeDAC}
}
