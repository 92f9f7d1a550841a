package chem

// Element is an entry of the periodic table.
type Element struct {
	Symbol string
	Z      int
	Mass   float64 // standard atomic weight, g/mol
}

var periodicTable = []Element{
	{"H", 1, 1.008}, {"He", 2, 4.002602}, {"Li", 3, 6.94}, {"Be", 4, 9.0121831},
	{"B", 5, 10.81}, {"C", 6, 12.011}, {"N", 7, 14.007}, {"O", 8, 15.999},
	{"F", 9, 18.998403163}, {"Ne", 10, 20.1797}, {"Na", 11, 22.98976928}, {"Mg", 12, 24.305},
	{"Al", 13, 26.9815385}, {"Si", 14, 28.085}, {"P", 15, 30.973761998}, {"S", 16, 32.06},
	{"Cl", 17, 35.45}, {"Ar", 18, 39.948}, {"K", 19, 39.0983}, {"Ca", 20, 40.078},
	{"Sc", 21, 44.955908}, {"Ti", 22, 47.867}, {"V", 23, 50.9415}, {"Cr", 24, 51.9961},
	{"Mn", 25, 54.938044}, {"Fe", 26, 55.845}, {"Co", 27, 58.933194}, {"Ni", 28, 58.6934},
	{"Cu", 29, 63.546}, {"Zn", 30, 65.38}, {"Ga", 31, 69.723}, {"Ge", 32, 72.63},
	{"As", 33, 74.921595}, {"Se", 34, 78.971}, {"Br", 35, 79.904}, {"Kr", 36, 83.798},
	{"Rb", 37, 85.4678}, {"Sr", 38, 87.62}, {"Y", 39, 88.90584}, {"Zr", 40, 91.224},
	{"Nb", 41, 92.90637}, {"Mo", 42, 95.95}, {"Tc", 43, 98}, {"Ru", 44, 101.07},
	{"Rh", 45, 102.9055}, {"Pd", 46, 106.42}, {"Ag", 47, 107.8682}, {"Cd", 48, 112.414},
	{"In", 49, 114.818}, {"Sn", 50, 118.71}, {"Sb", 51, 121.76}, {"Te", 52, 127.6},
	{"I", 53, 126.90447}, {"Xe", 54, 131.293}, {"Cs", 55, 132.90545196}, {"Ba", 56, 137.327},
	{"La", 57, 138.90547}, {"Ce", 58, 140.116}, {"Pr", 59, 140.90766}, {"Nd", 60, 144.242},
	{"Pm", 61, 145}, {"Sm", 62, 150.36}, {"Eu", 63, 151.964}, {"Gd", 64, 157.25},
	{"Tb", 65, 158.92535}, {"Dy", 66, 162.5}, {"Ho", 67, 164.93033}, {"Er", 68, 167.259},
	{"Tm", 69, 168.93422}, {"Yb", 70, 173.045}, {"Lu", 71, 174.9668}, {"Hf", 72, 178.49},
	{"Ta", 73, 180.94788}, {"W", 74, 183.84}, {"Re", 75, 186.207}, {"Os", 76, 190.23},
	{"Ir", 77, 192.217}, {"Pt", 78, 195.084}, {"Au", 79, 196.966569}, {"Hg", 80, 200.592},
	{"Tl", 81, 204.38}, {"Pb", 82, 207.2}, {"Bi", 83, 208.9804}, {"Po", 84, 209},
	{"At", 85, 210}, {"Rn", 86, 222}, {"Fr", 87, 223}, {"Ra", 88, 226},
	{"Ac", 89, 227}, {"Th", 90, 232.0377}, {"Pa", 91, 231.03588}, {"U", 92, 238.02891},
	{"Np", 93, 237}, {"Pu", 94, 244}, {"Am", 95, 243}, {"Cm", 96, 247},
	{"Bk", 97, 247}, {"Cf", 98, 251}, {"Es", 99, 252}, {"Fm", 100, 257},
	{"Md", 101, 258}, {"No", 102, 259}, {"Lr", 103, 262},
}

var elementsBySymbol = func() map[string]Element {
	m := make(map[string]Element, len(periodicTable))
	for _, e := range periodicTable {
		m[e.Symbol] = e
	}
	return m
}()

// NumElements is the length of element-indexed vectors (Z = 1..NumElements).
var NumElements = len(periodicTable)

// LookupElement returns the element with the given symbol.
func LookupElement(symbol string) (Element, bool) {
	e, ok := elementsBySymbol[symbol]
	return e, ok
}

// electronegativity (Pauling) for the elements that form the bulk of
// inorganic synthesis targets; used to order formula output.
var electronegativity = map[string]float64{
	"H": 2.20, "Li": 0.98, "Be": 1.57, "B": 2.04, "C": 2.55, "N": 3.04, "O": 3.44, "F": 3.98,
	"Na": 0.93, "Mg": 1.31, "Al": 1.61, "Si": 1.90, "P": 2.19, "S": 2.58, "Cl": 3.16,
	"K": 0.82, "Ca": 1.00, "Sc": 1.36, "Ti": 1.54, "V": 1.63, "Cr": 1.66, "Mn": 1.55,
	"Fe": 1.83, "Co": 1.88, "Ni": 1.91, "Cu": 1.90, "Zn": 1.65, "Ga": 1.81, "Ge": 2.01,
	"As": 2.18, "Se": 2.55, "Br": 2.96, "Rb": 0.82, "Sr": 0.95, "Y": 1.22, "Zr": 1.33,
	"Nb": 1.6, "Mo": 2.16, "Tc": 1.9, "Ru": 2.2, "Rh": 2.28, "Pd": 2.20, "Ag": 1.93,
	"Cd": 1.69, "In": 1.78, "Sn": 1.96, "Sb": 2.05, "Te": 2.1, "I": 2.66, "Xe": 2.6,
	"Cs": 0.79, "Ba": 0.89, "La": 1.10, "Ce": 1.12, "Pr": 1.13, "Nd": 1.14, "Sm": 1.17,
	"Eu": 1.2, "Gd": 1.2, "Tb": 1.1, "Dy": 1.22, "Ho": 1.23, "Er": 1.24, "Tm": 1.25,
	"Yb": 1.1, "Lu": 1.27, "Hf": 1.3, "Ta": 1.5, "W": 2.36, "Re": 1.9, "Os": 2.2,
	"Ir": 2.20, "Pt": 2.28, "Au": 2.54, "Hg": 2.00, "Tl": 1.62, "Pb": 2.33, "Bi": 2.02,
	"Th": 1.3, "U": 1.38,
}

// electronegativityOf returns the Pauling electronegativity, or a large value
// for elements without one so they sort last.
func electronegativityOf(symbol string) float64 {
	if x, ok := electronegativity[symbol]; ok {
		return x
	}
	return 5
}
