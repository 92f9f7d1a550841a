package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"sky/internal/chem"
)

// Featurizer names recognised in asset metadata.
const (
	FeaturizerElementFraction     = "element_fraction"
	FeaturizerStructureDescriptor = "structure_descriptor"
	remotePrefix                  = "remote:"
)

// ErrUnsupportedQuery is returned when a query vector cannot be produced for
// the input, either because the asset's featurizer is not available or the
// material is not present in the table.
var ErrUnsupportedQuery = errors.New("query cannot be embedded with this asset")

// Input is what a similarity query is computed from. Formula is always set;
// Structure and CIF are set for structure queries.
type Input struct {
	Formula   string
	Structure *chem.Structure
	CIF       string
}

// Featurizer turns an Input into a query vector.
type Featurizer interface {
	Featurize(ctx context.Context, in Input) ([]float32, error)
}

// FeaturizerFunc adapts a function to the Featurizer interface.
type FeaturizerFunc func(ctx context.Context, in Input) ([]float32, error)

func (f FeaturizerFunc) Featurize(ctx context.Context, in Input) ([]float32, error) {
	return f(ctx, in)
}

// NewFeaturizer selects the featurizer named in meta. It returns nil for
// featurizers that cannot be reproduced locally; those tables are queried by
// formula lookup instead.
func NewFeaturizer(meta Meta, embedder Embedder) Featurizer {
	name := strings.TrimSpace(meta.Featurizer)
	switch {
	case name == FeaturizerElementFraction:
		return FeaturizerFunc(elementFraction)
	case name == FeaturizerStructureDescriptor:
		return FeaturizerFunc(structureDescriptor)
	case strings.HasPrefix(name, remotePrefix) && embedder != nil:
		model := strings.TrimPrefix(name, remotePrefix)
		return FeaturizerFunc(func(ctx context.Context, in Input) ([]float32, error) {
			text := in.CIF
			if text == "" {
				text = in.Formula
			}
			return embedder.Embed(ctx, model, text)
		})
	}
	return nil
}

func elementFraction(_ context.Context, in Input) ([]float32, error) {
	comp, err := inputComposition(in)
	if err != nil {
		return nil, err
	}
	return toFloat32(comp.FractionVector()), nil
}

// structureDescriptorExtra is the number of lattice features appended to the
// element fractions by structureDescriptor.
const structureDescriptorExtra = 8

// structureDescriptor is the element-fraction vector followed by lattice
// lengths scaled by the cube root of the volume, the cosines of the cell
// angles, the volume per atom (/50 Å^3) and the density (/10 g/cm^3).
func structureDescriptor(_ context.Context, in Input) ([]float32, error) {
	if in.Structure == nil {
		return nil, fmt.Errorf("%w: structure descriptor needs a structure", ErrUnsupportedQuery)
	}
	st := in.Structure
	vec := st.Composition().FractionVector()

	vol := st.Lattice.Volume()
	scale := math.Cbrt(vol)
	a, b, c := st.Lattice.Abc()
	alpha, beta, gamma := st.Lattice.Angles()
	perAtom := 0.0
	if n := len(st.Sites); n > 0 {
		perAtom = vol / float64(n)
	}
	vec = append(vec,
		a/scale, b/scale, c/scale,
		math.Cos(alpha*math.Pi/180), math.Cos(beta*math.Pi/180), math.Cos(gamma*math.Pi/180),
		perAtom/50, st.Density()/10,
	)
	return toFloat32(vec), nil
}

func inputComposition(in Input) (chem.Composition, error) {
	if in.Structure != nil {
		return in.Structure.Composition(), nil
	}
	return chem.ParseFormula(in.Formula)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// ElementFractionVector returns the element_fraction vector of formula, the
// row format of composition tables using that featurizer.
func ElementFractionVector(formula string) ([]float32, error) {
	return elementFraction(context.Background(), Input{Formula: formula})
}

// StructureDescriptorVector returns the structure_descriptor vector of st,
// the row format of structure tables using that featurizer.
func StructureDescriptorVector(st *chem.Structure) ([]float32, error) {
	return structureDescriptor(context.Background(), Input{Structure: st})
}
