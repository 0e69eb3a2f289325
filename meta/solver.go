package meta

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/metaforest/core/model"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// NelderMeadSolver estimates the two variance components of the three-level
// model by maximum likelihood, profiling the fixed effects out with
// generalized least squares at every iterate. The marginal covariance at
// parameters (t3, t2) is
//
//	Sigma = V + t3^2 * J + t2^2 * I
//
// where V is the imputed sampling covariance, J is block-of-ones by study
// (shared between-study intercept) and I is the identity (effect-level
// intercept). Parameterizing by t rather than tau2 keeps the components
// nonnegative without box constraints and lets the optimizer reach zero.
type NelderMeadSolver struct {
	// MaxIterations bounds the optimizer. Zero means DefaultMaxIterations.
	MaxIterations int
}

// DefaultMaxIterations is the iteration budget used when none is configured.
const DefaultMaxIterations = 1000

var _ model.MixedModelSolver = (*NelderMeadSolver)(nil)

// Solve implements model.MixedModelSolver.
func (s *NelderMeadSolver) Solve(x mat.Matrix, y *mat.VecDense, v *mat.SymDense, clusterSizes []int) (*model.SolverResult, error) {
	const op = "NelderMeadSolver.Solve"

	n, p := x.Dims()
	if y.Len() != n {
		return nil, errors.NewDimensionError(op, n, y.Len(), 0)
	}
	if vn := v.SymmetricDim(); vn != n {
		return nil, errors.NewDimensionError(op, n, vn, 0)
	}
	if n <= p {
		return nil, errors.NewModelError(op, "more coefficients than observations", nil)
	}

	maxIter := s.MaxIterations
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}

	// Without replicated effect sizes inside any study the two components
	// only enter through their sum, so the within-study component is pinned
	// at zero and only the between-study component is estimated.
	withinIdentifiable := false
	for _, size := range clusterSizes {
		if size > 1 {
			withinIdentifiable = true
			break
		}
	}

	// Scale the starting simplex from the response spread; the objective is
	// flat far from the optimum, so a data-driven start matters more than a
	// clever one.
	spread := stat.Variance(y.RawVector().Data, nil)
	t0 := math.Sqrt(math.Max(spread/2, 1e-4))

	split := func(params []float64) (t3, t2 float64) {
		if withinIdentifiable {
			return params[0], params[1]
		}
		return params[0], 0
	}

	problem := optimize.Problem{
		Func: func(params []float64) float64 {
			t3, t2 := split(params)
			nll, _, _, _ := s.profile(x, y, v, clusterSizes, t3, t2)
			return nll
		},
	}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 50,
		},
	}

	start := []float64{t0, t0}
	if !withinIdentifiable {
		start = []float64{t0}
	}
	result, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil {
		if result != nil {
			return nil, errors.NewConvergenceError(op, result.MajorIterations, result.F, result.X)
		}
		return nil, errors.Wrapf(err, "metaforest: %s", op)
	}
	if result.Status != optimize.FunctionConvergence && result.Status != optimize.GradientThreshold &&
		result.Status != optimize.Success {
		return nil, errors.NewConvergenceError(op, result.MajorIterations, result.F, result.X)
	}

	t3, t2 := split(result.X)
	nll, beta, coefCov, ok := s.profile(x, y, v, clusterSizes, t3, t2)
	if !ok {
		return nil, errors.NewConvergenceError(op, result.MajorIterations, result.F, result.X)
	}

	return &model.SolverResult{
		Coefficients:   beta,
		CoefCovariance: coefCov,
		Components: model.VarianceComponents{
			Tau2Between: t3 * t3,
			Tau2Within:  t2 * t2,
		},
		LogLik:     -nll,
		Iterations: result.MajorIterations,
	}, nil
}

// profile evaluates the negative log-likelihood at (t3, t2), solving the GLS
// normal equations for the fixed effects. Returns +Inf (ok=false) when the
// covariance at this iterate is not factorizable, which the optimizer treats
// as a rejected vertex.
func (s *NelderMeadSolver) profile(x mat.Matrix, y *mat.VecDense, v *mat.SymDense, clusterSizes []int, t3, t2 float64) (float64, *mat.VecDense, *mat.SymDense, bool) {
	n, p := x.Dims()
	sigma := marginalCovariance(v, clusterSizes, t3*t3, t2*t2)

	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		return math.Inf(1), nil, nil, false
	}

	// Sigma^-1 X and Sigma^-1 y.
	var sigInvX mat.Dense
	if err := chol.SolveTo(&sigInvX, x); err != nil {
		return math.Inf(1), nil, nil, false
	}
	var sigInvY mat.VecDense
	if err := chol.SolveVecTo(&sigInvY, y); err != nil {
		return math.Inf(1), nil, nil, false
	}

	// Normal equations: (X' Sigma^-1 X) beta = X' Sigma^-1 y.
	var xtSigInvX mat.Dense
	xtSigInvX.Mul(x.T(), &sigInvX)
	xtSym := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			xtSym.SetSym(i, j, (xtSigInvX.At(i, j)+xtSigInvX.At(j, i))/2)
		}
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), &sigInvY)

	var cholXtX mat.Cholesky
	if ok := cholXtX.Factorize(xtSym); !ok {
		return math.Inf(1), nil, nil, false
	}
	beta := mat.NewVecDense(p, nil)
	if err := cholXtX.SolveVecTo(beta, &xty); err != nil {
		return math.Inf(1), nil, nil, false
	}

	// Residual quadratic form e' Sigma^-1 e.
	resid := mat.NewVecDense(n, nil)
	resid.MulVec(x, beta)
	resid.SubVec(y, resid)
	var sigInvResid mat.VecDense
	if err := chol.SolveVecTo(&sigInvResid, resid); err != nil {
		return math.Inf(1), nil, nil, false
	}
	quad := mat.Dot(resid, &sigInvResid)

	nll := 0.5 * (float64(n)*math.Log(2*math.Pi) + chol.LogDet() + quad)
	if math.IsNaN(nll) {
		return math.Inf(1), nil, nil, false
	}

	coefCov := mat.NewSymDense(p, nil)
	if err := cholXtX.InverseTo(coefCov); err != nil {
		return math.Inf(1), nil, nil, false
	}
	return nll, beta, coefCov, true
}

// marginalCovariance assembles Sigma = V + tau3^2 * J + tau2^2 * I with J
// block-of-ones over the contiguous study blocks.
func marginalCovariance(v *mat.SymDense, clusterSizes []int, tau3sq, tau2sq float64) *mat.SymDense {
	n := v.SymmetricDim()
	sigma := mat.NewSymDense(n, nil)
	sigma.CopySym(v)

	offset := 0
	for _, size := range clusterSizes {
		for i := offset; i < offset+size; i++ {
			for j := i; j < offset+size; j++ {
				sigma.SetSym(i, j, sigma.At(i, j)+tau3sq)
			}
		}
		offset += size
	}
	for i := 0; i < n; i++ {
		sigma.SetSym(i, i, sigma.At(i, i)+tau2sq)
	}
	return sigma
}
