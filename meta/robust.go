package meta

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/metaforest/core/model"
	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// cr2Covariance computes the cluster-robust covariance of the fixed effects
// with the CR2 small-sample correction, clustering at the study level.
//
// With working covariance Phi = Sigma-hat (block-diagonal by study) and
// weights W = Phi^-1, the estimator is
//
//	Vr = M ( sum_j X_j' W_j A_j e_j e_j' A_j' W_j X_j ) M
//
// where M = (X'WX)^-1 and the adjustment matrices A_j solve
// A_j (I-H_jj) Phi_j (I-H_jj)' A_j' = Phi_j, which removes the first-order
// bias that makes the plain sandwich understate uncertainty when variance
// components are estimated from few clusters.
//
// Returns the robust covariance and the degrees of freedom used for t-based
// intervals (clusters minus fixed-effect parameters, floored at 1 with a
// warning when the design leaves none).
func cr2Covariance(x mat.Matrix, y *mat.VecDense, v *mat.SymDense, clusterSizes []int, solved *model.SolverResult) (*mat.SymDense, float64, error) {
	const op = "meta.cr2Covariance"

	n, p := x.Dims()
	m := len(clusterSizes)

	// Marginal covariance at the converged variance components, and its
	// per-cluster blocks. Sigma is block-diagonal by study, so the inverse
	// can be taken block by block.
	sigma := marginalCovariance(v, clusterSizes,
		solved.Components.Tau2Between, solved.Components.Tau2Within)

	// Residuals at the GLS coefficients.
	resid := mat.NewVecDense(n, nil)
	resid.MulVec(x, solved.Coefficients)
	resid.SubVec(y, resid)

	bread := solved.CoefCovariance // (X' Sigma^-1 X)^-1

	meat := mat.NewSymDense(p, nil)
	offset := 0
	for _, size := range clusterSizes {
		phi := mat.NewSymDense(size, nil)
		phi.CopySym(sigma.SliceSym(offset, offset+size))

		var cholPhi mat.Cholesky
		if ok := cholPhi.Factorize(phi); !ok {
			return nil, 0, errors.NewModelError(op,
				"marginal covariance block is not positive definite", errors.ErrNotPositiveDefinite)
		}
		wj := mat.NewSymDense(size, nil)
		if err := cholPhi.InverseTo(wj); err != nil {
			return nil, 0, errors.Wrapf(err, "metaforest: %s: invert cluster block", op)
		}

		xj := extractRows(x, offset, size, p)
		ej := mat.NewVecDense(size, nil)
		for i := 0; i < size; i++ {
			ej.SetVec(i, resid.AtVec(offset+i))
		}

		// H_jj = X_j M X_j' W_j
		var xjM, hjj mat.Dense
		xjM.Mul(xj, bread)
		var xjMXt mat.Dense
		xjMXt.Mul(&xjM, xj.T())
		hjj.Mul(&xjMXt, wj)

		// B_j = (I - H_jj) Phi_j (I - H_jj)'
		iMinusH := mat.NewDense(size, size, nil)
		for i := 0; i < size; i++ {
			for k := 0; k < size; k++ {
				val := -hjj.At(i, k)
				if i == k {
					val++
				}
				iMinusH.Set(i, k, val)
			}
		}
		var bj mat.Dense
		bj.Mul(iMinusH, phi)
		bj.Mul(&bj, iMinusH.T())

		aj, err := cr2Adjustment(phi, &bj)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "metaforest: %s", op)
		}

		// g_j = X_j' W_j A_j e_j
		var aje mat.VecDense
		aje.MulVec(aj, ej)
		var wAje mat.VecDense
		wAje.MulVec(wj, &aje)
		gj := mat.NewVecDense(p, nil)
		gj.MulVec(xj.T(), &wAje)

		for i := 0; i < p; i++ {
			for k := i; k < p; k++ {
				meat.SetSym(i, k, meat.At(i, k)+gj.AtVec(i)*gj.AtVec(k))
			}
		}

		offset += size
	}

	// Vr = M meat M
	var mm, vr mat.Dense
	mm.Mul(bread, meat)
	vr.Mul(&mm, bread)
	robust := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for k := i; k < p; k++ {
			robust.SetSym(i, k, (vr.At(i, k)+vr.At(k, i))/2)
		}
	}

	df := float64(m - p)
	if df < 1 {
		errors.Warn(errors.NewConvergenceWarning("CR2", m,
			"fewer clusters than fixed-effect parameters leave no degrees of freedom; flooring at 1"))
		df = 1
	}
	return robust, df, nil
}

// cr2Adjustment solves A B A = Phi for symmetric A via
// A = Phi^1/2 (Phi^1/2 B Phi^1/2)^-1/2 Phi^1/2, with Moore-Penrose handling
// of zero eigenvalues (B is singular whenever a cluster's residual space has
// lower rank than its size).
func cr2Adjustment(phi *mat.SymDense, b *mat.Dense) (*mat.Dense, error) {
	size := phi.SymmetricDim()

	bSym := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		for k := i; k < size; k++ {
			bSym.SetSym(i, k, (b.At(i, k)+b.At(k, i))/2)
		}
	}

	phiHalf, err := symPow(phi, 0.5)
	if err != nil {
		return nil, err
	}

	var inner mat.Dense
	inner.Mul(phiHalf, bSym)
	inner.Mul(&inner, phiHalf)
	innerSym := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		for k := i; k < size; k++ {
			innerSym.SetSym(i, k, (inner.At(i, k)+inner.At(k, i))/2)
		}
	}

	innerInvHalf, err := symPow(innerSym, -0.5)
	if err != nil {
		return nil, err
	}

	var a mat.Dense
	a.Mul(phiHalf, innerInvHalf)
	a.Mul(&a, phiHalf)
	return &a, nil
}

// symPow raises a symmetric PSD matrix to the given power through its
// eigendecomposition. Eigenvalues below a relative threshold are treated as
// exact zeros (pseudo-inverse semantics for negative powers).
func symPow(s *mat.SymDense, pow float64) (*mat.Dense, error) {
	size := s.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(s, true); !ok {
		return nil, errors.New("eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	maxEig := 0.0
	for _, v := range values {
		if v > maxEig {
			maxEig = v
		}
	}
	threshold := 1e-12 * math.Max(maxEig, 1)

	d := mat.NewDiagDense(size, nil)
	for i, v := range values {
		if v <= threshold {
			d.SetDiag(i, 0)
			continue
		}
		d.SetDiag(i, math.Pow(v, pow))
	}

	var out mat.Dense
	out.Mul(&vectors, d)
	out.Mul(&out, vectors.T())
	return &out, nil
}

// extractRows copies the contiguous row block [offset, offset+size) of x.
func extractRows(x mat.Matrix, offset, size, cols int) *mat.Dense {
	out := mat.NewDense(size, cols, nil)
	for i := 0; i < size; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, x.At(offset+i, j))
		}
	}
	return out
}
