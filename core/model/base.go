package model

// EstimatorState はモデルの適合状態を表す
type EstimatorState int

const (
	// NotFitted はモデルが未適合の状態
	NotFitted EstimatorState = iota
	// Fitted はモデルが適合済みの状態
	Fitted
)

// BaseEstimator は全ての統計モデルの基底となる構造体
type BaseEstimator struct {
	state EstimatorState
}

// IsFitted はモデルが適合済みかどうかを返す
func (e *BaseEstimator) IsFitted() bool {
	return e.state == Fitted
}

// SetFitted はモデルを適合済み状態に設定する
func (e *BaseEstimator) SetFitted() {
	e.state = Fitted
}

// Reset はモデルを初期状態にリセットする
func (e *BaseEstimator) Reset() {
	e.state = NotFitted
}
