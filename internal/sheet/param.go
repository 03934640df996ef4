package sheet

// Param is one of the spreadsheet's known parameter rows. Workbooks in the
// wild label these rows inconsistently, so each parameter carries an alias
// table and lookups go through Fold.
type Param string

const (
	ParamMethaneRate Param = "Taxa Metano"
	ParamUncertainty Param = "Incerteza"
	ParamWindSpeed   Param = "Velocidade do Vento"
	ParamImage       Param = "Imagem"
	ParamSatellite   Param = "Satelite"
)

var paramAliases = map[Param][]string{
	ParamMethaneRate: {"Taxa de Metano", "Fluxo CH4"},
	ParamUncertainty: {"Incerteza da Taxa"},
	ParamWindSpeed:   {"Vento", "Velocidade Vento", "Wind Speed"},
	ParamImage:       {"Imagem do Site", "Image"},
	ParamSatellite:   {"Satélite", "Satellite", "Sat"},
}

// KnownParams lists the closed set of parameters the application understands.
// Rows outside this set are kept as extras rather than dropped.
var KnownParams = []Param{
	ParamMethaneRate,
	ParamUncertainty,
	ParamWindSpeed,
	ParamImage,
	ParamSatellite,
}

// ParamByName resolves a request string ("Taxa Metano", "incerteza") to a
// known parameter. Matching uses the same folding as the row lookup.
func ParamByName(name string) (Param, bool) {
	want := Fold(name)
	for _, p := range KnownParams {
		for _, k := range p.lookupKeys() {
			if k == want {
				return p, true
			}
		}
	}
	return "", false
}

// lookupKeys returns the folded canonical name followed by folded aliases,
// in priority order.
func (p Param) lookupKeys() []string {
	keys := []string{Fold(string(p))}
	for _, a := range paramAliases[p] {
		keys = append(keys, Fold(a))
	}
	return keys
}
