// Package etl normalizes raw source tables into typed records. Transform
// is a pure function of its input: no I/O, no stored state.
package etl

import "time"

// UnspecifiedLabel is the sentinel written into categorical columns whose
// value is missing. It is a business label, not a technical null.
const UnspecifiedLabel = "NO ESPECIFICADO"

// Rules is the declarative normalization configuration for one dataset.
// Column names refer to the source file's headers as-is, before the
// header-trimming step (several source columns carry trailing spaces).
type Rules struct {
	SourceFile string
	DataType   string
	IDPrefix   string

	// DateColumns must parse as calendar timestamps. A non-empty value
	// that fails to parse fails the whole transform: a malformed date
	// column signals a structural schema change, not a bad row.
	DateColumns []string

	// ZeroFillColumns get an explicit 0 for missing values even when the
	// column's inferred type is not numeric (mixed-type source columns).
	ZeroFillColumns []string

	// CategoricalColumns get UnspecifiedLabel for missing values, then
	// surrounding whitespace trimmed.
	CategoricalColumns []string

	// DashColumns are identifier-ish text columns where every null
	// spelling ("", None, nan, NULL, ...) collapses to "-".
	DashColumns []string

	// Replacements fixes known bad literals per column, matched against
	// the cell's string form (e.g. a stray "`1" that should be 1).
	Replacements map[string]map[string]any

	// Remap rolls up near-duplicate values of RemapColumn into canonical
	// groups, written to the RemapInto column. Unmapped values carry
	// over unchanged.
	RemapColumn string
	RemapInto   string
	Remap       map[string]string

	// Rows whose KeyColumn equals UnknownMarker after coercion are
	// unidentifiable and dropped from the output entirely.
	KeyColumn     string
	UnknownMarker string

	// Now supplies the processing timestamp; nil means time.Now.
	Now func() time.Time
}

func (r *Rules) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// CalidadRules is the production rule set for the finished-product quality
// workbook.
func CalidadRules() *Rules {
	return &Rules{
		SourceFile: "BD EVALUACION DE CALIDAD DE PRODUCTO TERMINADO.xlsx",
		DataType:   "calidad_producto_terminado",
		IDPrefix:   "calidad",

		DateColumns:     []string{"FECHA DE MP", "FECHA DE PROCESO"},
		ZeroFillColumns: []string{"TURNO "},
		CategoricalColumns: []string{
			"VARIEDAD",
			"PRESENTACION ",
			"DESTINO",
		},
		DashColumns: []string{
			"TIPO DE CAJA",
			"N° FCL",
			"TRAZABILIDAD",
			"OBSERVACIONES",
		},
		Replacements: map[string]map[string]any{
			"MODULO ": {"`1": float64(1)},
			"TURNO ":  {"Dia": float64(2), "111": float64(11)},
		},

		RemapColumn: "PRODUCTOR",
		RemapInto:   "EMPRESA",
		Remap: map[string]string{
			"GMH BERRIES S.A.C":        "AGRICOLA BLUE GOLD S.A.C.",
			"BIG BERRIES S.A.C":        "AGRICOLA BLUE GOLD S.A.C.",
			"CANYON BERRIES S.A.C":     "AGRICOLA BLUE GOLD S.A.C.",
			"AGRICOLA BLUE GOLD S.A.C": "AGRICOLA BLUE GOLD S.A.C.",
			"EXCELLENCE FRUIT S.A.C":   "SAN LUCAR S.A.",
			"GAP BERRIES S.A.C":        "SAN LUCAR S.A.",
			"SAN EFISIO S.A.C":         "SAN LUCAR S.A.",
		},

		KeyColumn:     "N° FCL",
		UnknownMarker: "-",
	}
}

// CalidadFilterFields is the fixed allow-list of normalized column names
// the query layer accepts as filter keys. Filter keys end up interpolated
// into query text, so arbitrary caller-supplied names are never accepted.
func CalidadFilterFields() []string {
	return []string{
		"EMPRESA",
		"PRODUCTOR",
		"VARIEDAD",
		"PRESENTACION",
		"DESTINO",
		"TIPO DE CAJA",
		"N° FCL",
		"TRAZABILIDAD",
		"MODULO",
		"TURNO",
		"FECHA DE MP",
		"FECHA DE PROCESO",
		"OBSERVACIONES",
	}
}
